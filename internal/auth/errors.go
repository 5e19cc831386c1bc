package auth

import (
	"errors"

	"storefront/shopclient/internal/shop"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionExpired     = errors.New("session expired")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrAlreadySignedIn    = errors.New("already signed in, sign out first")
)

const SessionExpiredNotice = "session expired, please sign in again"

type ValidationError = shop.ValidationError

// AuthError carries a user-facing message for rejected credentials or an
// expired token.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string { return e.Message }

func (e *AuthError) Unwrap() error { return e.Err }
