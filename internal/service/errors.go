package service

import "errors"

// Service-level error taxonomy. HTTP handlers map these onto the small
// set of external responses; token-structural detail never leaves the
// process.
var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWrongAuthMethod    = errors.New("account uses a different authentication method")
	ErrIdentityConflict   = errors.New("identity already linked to another account")
	ErrEmailTaken         = errors.New("email already registered")
	ErrMFACodeInvalid     = errors.New("invalid verification code")
	ErrTooManyMFAAttempts = errors.New("too many verification attempts")
	ErrServiceUnavailable = errors.New("authentication backend unavailable")
	ErrStateMismatch      = errors.New("oauth state mismatch")
)
