package allocation

import (
	"errors"
	"fmt"

	"ticker-provisioner/internal/domain"
)

// Failure kinds surfaced by Provision.
var (
	// ErrValidationFailure means the symbol was rejected by its price provider.
	ErrValidationFailure = errors.New("validation failure")

	// ErrCapacityExhausted means the credential pool has no unclaimed rows.
	ErrCapacityExhausted = errors.New("capacity exhausted")

	// ErrProvisionFailure means the worker could not be launched after a claim.
	// The claimed credential stays bound to the ticker.
	ErrProvisionFailure = errors.New("provision failure")

	// ErrStoreUnavailable means the pool store failed.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Error is the typed failure returned by Provision.
type Error struct {
	Kind       error // one of the Err* kinds above
	AssetClass domain.AssetClass
	Symbol     string // raw symbol as requested
	ClientID   string // set for ErrProvisionFailure
	Err        error  // underlying cause, never shown to callers
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provision %s %q: %v: %v", e.AssetClass, e.Symbol, e.Kind, e.Err)
	}
	return fmt.Sprintf("provision %s %q: %v", e.AssetClass, e.Symbol, e.Kind)
}

// Unwrap exposes the kind and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Public returns the message safe to show to the requester.
func (e *Error) Public() string {
	switch e.Kind {
	case ErrValidationFailure:
		if e.AssetClass == domain.AssetClassStock {
			return "unable to validate stock id: " + e.Symbol
		}
		return "unable to validate coin id: " + e.Symbol
	case ErrCapacityExhausted:
		return "no more new bots available"
	case ErrProvisionFailure:
		return "unable to create bot"
	default:
		return "internal error"
	}
}

// outcomeLabel names a failure kind for logs and metrics.
func outcomeLabel(kind error) string {
	switch kind {
	case ErrValidationFailure:
		return "validation_failure"
	case ErrCapacityExhausted:
		return "capacity_exhausted"
	case ErrProvisionFailure:
		return "provision_failure"
	default:
		return "store_unavailable"
	}
}
