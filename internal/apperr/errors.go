// Package apperr defines the error taxonomy shared across the engine.
package apperr

import "errors"

var (
	// ErrNotFound reports an absent entry, settings record, or key.
	// Recoverable: callers treat it as "create new" or a no-op.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateID reports an insert with an id that already exists.
	// Fatal to the operation; existing entries are never overwritten.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrInvalidInput reports empty or structurally invalid caller input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAuthenticationFailure reports a wrong password or a tampered
	// ciphertext. Surfaced to the user for retry, never retried
	// automatically.
	ErrAuthenticationFailure = errors.New("authentication failure")

	// ErrCorruptedData reports a structural decode failure (malformed
	// blob, wrong length). Scoped to the affected record, not the store.
	ErrCorruptedData = errors.New("corrupted data")

	// ErrNetworkFailure reports a transient remote failure. Retried with
	// backoff, never surfaced as fatal.
	ErrNetworkFailure = errors.New("network failure")
)
