package storage

import "errors"

// Storage errors for the credential pool.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a credential
	// whose client_id already exists.
	ErrDuplicateKey = errors.New("duplicate key: client_id already in pool")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPoolExhausted is returned by ClaimUnused when no unclaimed credential remains.
	// It is a capacity condition, not a storage failure.
	ErrPoolExhausted = errors.New("credential pool exhausted")

	// ErrAlreadyClaimed is returned by ClaimUnused when the ticker is already bound
	// to another credential. Callers resolve the winner with FindClaim.
	ErrAlreadyClaimed = errors.New("ticker already claimed")

	// ErrUnavailable wraps connectivity and transaction failures of the backing store.
	ErrUnavailable = errors.New("storage unavailable")
)
