package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCode indicates an OTP verification failure.
	ErrInvalidCode = errors.New("invalid code")
	// ErrCodeExpired indicates the OTP code is no longer valid.
	ErrCodeExpired = errors.New("code expired")
	// ErrTooManyAttempts indicates the OTP attempt budget is exhausted.
	ErrTooManyAttempts = errors.New("too many attempts")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
