// Package errs defines the error kinds shared by the arena services. Domain packages wrap one of
// these sentinels so transports can classify failures with errors.Is.
package errs

import "errors"

var (
	// ErrNotFound is returned when a lobby, session or escrow match does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when a caller attempts an action reserved for someone else.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidState is returned when an action is attempted outside the state that permits it.
	ErrInvalidState = errors.New("invalid state")

	// ErrValidationFailed is returned for missing or malformed input.
	ErrValidationFailed = errors.New("validation failed")

	// ErrSignatureInvalid is returned when a recovered signer does not match the expected address.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrNonceMismatch is returned when a submitted nonce does not match the issued one.
	ErrNonceMismatch = errors.New("nonce mismatch")

	// ErrExhausted is returned when a search ran out of candidates.
	ErrExhausted = errors.New("exhausted")
)

// Kind returns the sentinel err wraps, or nil when err is not one of the shared kinds.
func Kind(err error) error {
	for _, kind := range []error{
		ErrNotFound,
		ErrUnauthorized,
		ErrInvalidState,
		ErrValidationFailed,
		ErrSignatureInvalid,
		ErrNonceMismatch,
		ErrExhausted,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
