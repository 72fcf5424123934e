// Package errs defines the shared error taxonomy for the shroud core.
//
// Every component classifies its failures into one of these sentinel
// categories so callers can branch with errors.Is without depending on
// package-internal error types. Errors are wrapped with context using
// fmt.Errorf("%w: ...") at the point of failure.
package errs

import "errors"

var (
	// ErrValidation indicates rejected input (nickname, password, group
	// name). Raised before any state mutation.
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates a duplicate contact nickname or group member.
	ErrConflict = errors.New("already exists")

	// ErrCapacity indicates a directory or group size limit was reached.
	ErrCapacity = errors.New("capacity reached")

	// ErrPermission indicates a non-owner attempted an owner-only action.
	ErrPermission = errors.New("permission denied")

	// ErrNotFound indicates an unknown contact, group, request, or
	// invitation identifier.
	ErrNotFound = errors.New("not found")

	// ErrCrypto indicates a key generation, wrap/unwrap, or seal/open
	// failure. Decryption failures are reported uniformly: wrong keys and
	// corrupted ciphertexts are indistinguishable to the caller.
	ErrCrypto = errors.New("cryptographic failure")

	// ErrNetwork indicates a discovery exchange failure.
	ErrNetwork = errors.New("network failure")

	// ErrStorage indicates a persistence read or write failure.
	ErrStorage = errors.New("storage failure")
)
