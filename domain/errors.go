package domain

import "errors"

// Error taxonomy reported to the request layer. Verification failures are
// terminal for a submission; ErrUnresolvableIdentity and
// ErrPersistenceFailed may be retried by the caller.
var (
	ErrEncoding             = errors.New("input cannot be canonically encoded")
	ErrAddressMismatch      = errors.New("claimed address does not match content")
	ErrUnresolvableIdentity = errors.New("identity could not be resolved")
	ErrAuthenticationFailed = errors.New("signature verification failed")
	ErrInvalidActivity      = errors.New("activity envelope is not valid")
	ErrPersistenceFailed    = errors.New("storage transaction failed")
	ErrNotFound             = errors.New("record not found")
)

// Retryable reports whether the caller may retry the same submission as-is.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnresolvableIdentity) || errors.Is(err, ErrPersistenceFailed)
}
