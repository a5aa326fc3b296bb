package storage

import (
	"context"

	"ticker-provisioner/internal/domain"
)

// Claim describes the binding requested by ClaimUnused.
type Claim struct {
	Ticker      string // normalized by the store before use
	AssetClass  domain.AssetClass
	DisplayName string
}

// PoolStats summarizes credential pool occupancy.
type PoolStats struct {
	Total     int `json:"total"`
	Claimed   int `json:"claimed"`
	Available int `json:"available"`
}

// CredentialStore provides access to the credentials pool.
type CredentialStore interface {
	// FindClaim returns the credential bound to ticker. Returns ErrNotFound if none.
	FindClaim(ctx context.Context, ticker string) (*domain.Credential, error)

	// ClaimUnused atomically binds one unclaimed credential to claim.Ticker.
	// Returns ErrPoolExhausted if no unclaimed credential exists and
	// ErrAlreadyClaimed if another credential already holds the ticker.
	// The returned credential was unclaimed at the moment of the claim.
	ClaimUnused(ctx context.Context, claim Claim) (*domain.Credential, error)

	// Insert adds an unclaimed or pre-claimed credential. Returns ErrDuplicateKey if client_id exists.
	Insert(ctx context.Context, c *domain.Credential) error

	// ListClaimed returns all claimed credentials ordered by ticker ASC.
	ListClaimed(ctx context.Context) ([]*domain.Credential, error)

	// Stats returns pool occupancy counts.
	Stats(ctx context.Context) (PoolStats, error)

	// Close releases resources held by the store.
	Close() error
}

// MaxClaimAttempts bounds how often a backend retries after losing a row race.
const MaxClaimAttempts = 2
