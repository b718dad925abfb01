package errors

import stderrors "errors"

type CartErrorType string

const (
	CartValidationError           CartErrorType = "VALIDATION_ERROR"
	CartInvalidPromotionalCode    CartErrorType = "INVALID_PROMOTIONAL_CODE"
	CartPromotionalCodeExpired    CartErrorType = "PROMOTIONAL_CODE_EXPIRED"
	CartPromotionalCodeUsageLimit CartErrorType = "PROMOTIONAL_CODE_USAGE_LIMIT"
	CartMinPurchaseNotMet         CartErrorType = "MIN_PURCHASE_NOT_MET"
)

// CartError is the error a failed cart mutation leaves in state and returns
// to its caller.
type CartError struct {
	Type    CartErrorType `json:"type"`
	Message string        `json:"message"`
	Cause   error         `json:"-"`
}

func (e *CartError) Error() string {
	return e.Message
}

func (e *CartError) Unwrap() error {
	return e.Cause
}

// IsPromotional reports whether the error belongs to the promotional code flow.
func (e *CartError) IsPromotional() bool {
	switch e.Type {
	case CartInvalidPromotionalCode,
		CartPromotionalCodeExpired,
		CartPromotionalCodeUsageLimit,
		CartMinPurchaseNotMet:
		return true
	case CartValidationError:
		return false
	}
	return false
}

func NewCartError(errType CartErrorType, message string, cause error) *CartError {
	return &CartError{
		Type:    errType,
		Message: message,
		Cause:   cause,
	}
}

func IsCartError(err error) (*CartError, bool) {
	var ce *CartError
	if stderrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// ParsePromotionalErrorType maps an upstream error code onto the promotional
// taxonomy. Unknown codes are reported as an invalid code.
func ParsePromotionalErrorType(code string) CartErrorType {
	switch t := CartErrorType(code); t {
	case CartPromotionalCodeExpired, CartPromotionalCodeUsageLimit, CartMinPurchaseNotMet, CartInvalidPromotionalCode:
		return t
	}
	return CartInvalidPromotionalCode
}
