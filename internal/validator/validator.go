// Package validator confirms user supplied identifiers against external
// price-data providers and returns their canonical form.
package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ticker-provisioner/internal/domain"
)

// ErrInvalidSymbol is matched by every validation failure, whatever the cause.
var ErrInvalidSymbol = errors.New("invalid symbol")

// Validator resolves a raw identifier to a canonical symbol.
type Validator interface {
	Validate(ctx context.Context, raw string) (domain.ValidatedSymbol, error)
}

// Kind classifies a validation failure for logging.
type Kind int

const (
	// KindNotFound means the provider answered and does not know the symbol.
	KindNotFound Kind = iota + 1
	// KindUpstream means the provider could not be reached or answered garbage.
	KindUpstream
	// KindMalformed means the input was rejected before any call.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error describes why a symbol could not be validated.
type Error struct {
	Provider string
	Symbol   string
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: validate %q: %s: %v", e.Provider, e.Symbol, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: validate %q: %s", e.Provider, e.Symbol, e.Kind)
}

// Unwrap exposes both ErrInvalidSymbol and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidSymbol}
	}
	return []error{ErrInvalidSymbol, e.Err}
}

// Registry selects a Validator per asset class.
type Registry map[domain.AssetClass]Validator

// Validate dispatches to the validator registered for class.
func (r Registry) Validate(ctx context.Context, class domain.AssetClass, raw string) (domain.ValidatedSymbol, error) {
	v, ok := r[class]
	if !ok {
		return domain.ValidatedSymbol{}, &Error{
			Provider: "registry",
			Symbol:   raw,
			Kind:     KindMalformed,
			Err:      fmt.Errorf("no validator for asset class %q", class),
		}
	}
	return v.Validate(ctx, raw)
}

// checkRaw rejects input that cannot be placed in a provider URL path segment.
func checkRaw(provider, raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" || len(s) > 64 || strings.ContainsAny(s, "/?#\\ \t\r\n") {
		return "", &Error{Provider: provider, Symbol: raw, Kind: KindMalformed}
	}
	return s, nil
}
