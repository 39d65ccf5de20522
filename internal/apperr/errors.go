// Package apperr defines the error kinds shared by the mail core.
// Callers wrap one of the sentinels with context and match with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication is returned when a remote IMAP or SMTP server rejects the credentials.
	ErrAuthentication = errors.New("authentication failed")
	// ErrConfiguration is returned when a required bound mailbox is missing or conflicting.
	ErrConfiguration = errors.New("configuration error")
	// ErrValidation is returned when a request is missing a required field.
	ErrValidation = errors.New("validation failed")
	// ErrMalformedMessage is returned when MIME content cannot be parsed.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrDelivery is returned when a relay or SMTP transmission fails.
	ErrDelivery = errors.New("delivery failed")
	// ErrNotFound is returned when a message or attachment does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPermission is returned when the caller is neither sender nor recipient.
	ErrPermission = errors.New("permission denied")
	// ErrRateLimited is returned when an account sends faster than its allowance.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Wrap annotates kind with a formatted message, keeping kind matchable with errors.Is.
func Wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// WrapErr annotates kind with a message and a cause. Both kind and cause stay matchable.
func WrapErr(kind error, cause error, msg string) error {
	return fmt.Errorf("%w: %s: %w", kind, msg, cause)
}
