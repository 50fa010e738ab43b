package errors

import (
	"errors"
	"fmt"
)

// Common error types for the access broker
var (
	// Authentication errors
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrCredentialsRequired = errors.New("credentials must be re-entered")
	ErrUpstreamAuth        = errors.New("identity provider exchange failed")

	// Cipher errors
	ErrInvalidKey        = errors.New("encryption key must be 64 hex characters (32 bytes)")
	ErrMalformedEnvelope = errors.New("malformed encrypted envelope")

	// Session errors
	ErrSessionInvalid = errors.New("session invalid")
	ErrSessionExpired = errors.New("session expired")

	// Warehouse errors
	ErrQueryTimeout = errors.New("query timeout")
	ErrQueryFailed  = errors.New("query failed")

	// Request errors
	ErrInvalidEnvironment = errors.New("invalid environment")
	ErrInvalidRequest     = errors.New("invalid request")

	// General errors
	ErrNotFound = errors.New("not found")
	ErrInternal = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsSessionFailure reports whether err is one of the expected session outcomes
// that callers treat as "redirect to login" rather than as a fault.
func IsSessionFailure(err error) bool {
	return errors.Is(err, ErrSessionInvalid) || errors.Is(err, ErrSessionExpired)
}

// New returns an error that formats as the given text
func New(text string) error {
	return errors.New(text)
}
