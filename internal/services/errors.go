package services

import "errors"

var (
	ErrRateLimited          = errors.New("rate limited")
	ErrCodeInvalidOrExpired = errors.New("invalid or expired code")
	ErrCodeLocked           = errors.New("code locked")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrUserExists           = errors.New("user already exists")
	ErrNotFound             = errors.New("not found")
	ErrInvalidItem          = errors.New("invalid item")
	ErrCurrencyMismatch     = errors.New("currency mismatch")
	ErrPaymentProvider      = errors.New("payment provider error")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrDeliveryFailed       = errors.New("code delivery failed")
)

// ValidationError is malformed client input.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}
