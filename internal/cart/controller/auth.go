package controller

import (
	"net/http"
	"strings"

	apperrors "cartsync/internal/errors"
)

const UserIDHeader = "X-User-ID"

// TokenVerifier returns the user id a bearer token was issued for.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Authenticator decides which user a request speaks for. A verified bearer
// token always works. The X-User-ID header is only honoured when the service
// sits behind a proxy that sets it after authenticating the caller.
type Authenticator struct {
	verifier        TokenVerifier
	trustUserHeader bool
}

// NewAuthenticator accepts a nil verifier; bearer tokens are then refused.
func NewAuthenticator(verifier TokenVerifier, trustUserHeader bool) *Authenticator {
	return &Authenticator{
		verifier:        verifier,
		trustUserHeader: trustUserHeader,
	}
}

// UserID returns the authenticated user of r, or "" for an anonymous caller.
// Credentials that are present but cannot be trusted yield an
// *errors.UnauthorizedError.
func (a *Authenticator) UserID(r *http.Request) (string, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return "", apperrors.NewUnauthorizedError("malformed authorization header")
		}
		if a.verifier == nil {
			return "", apperrors.NewUnauthorizedError("bearer tokens are not accepted")
		}
		userID, err := a.verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			return "", apperrors.NewUnauthorizedError("invalid bearer token")
		}
		return userID, nil
	}

	if userID := strings.TrimSpace(r.Header.Get(UserIDHeader)); userID != "" {
		if !a.trustUserHeader {
			return "", apperrors.NewUnauthorizedError(UserIDHeader + " is not accepted without a trusted proxy")
		}
		return userID, nil
	}

	return "", nil
}
