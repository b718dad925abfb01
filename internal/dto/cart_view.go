package dto

import (
	"time"

	"cartsync/internal/domain"
	apperrors "cartsync/internal/errors"
)

// CartView is everything a consumer reads from the cart facade at one point
// in time.
type CartView struct {
	Cart               *domain.Cart         `json:"cart"`
	ItemCount          int                  `json:"itemCount"`
	Subtotal           float64              `json:"subtotal"`
	Total              float64              `json:"total"`
	HasItems           bool                 `json:"hasItems"`
	HasPromotionalCode bool                 `json:"hasPromotionalCode"`
	IsLoading          bool                 `json:"isLoading"`
	Error              *apperrors.CartError `json:"error"`
	Pending            []string             `json:"pending"`
}

type CartViewResponse struct {
	TraceID   string    `json:"traceId"`
	SessionID string    `json:"sessionId,omitempty"`
	View      CartView  `json:"view"`
	Timestamp time.Time `json:"timestamp"`
}

type CartErrorResponse struct {
	TraceID   string               `json:"traceId"`
	Status    int                  `json:"status"`
	Error     *apperrors.CartError `json:"error"`
	Cart      *domain.Cart         `json:"cart"`
	Timestamp time.Time            `json:"timestamp"`
}
