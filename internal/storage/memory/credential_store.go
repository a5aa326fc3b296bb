package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ticker-provisioner/internal/domain"
	"ticker-provisioner/internal/storage"
)

// CredentialStore is an in-memory implementation of storage.CredentialStore.
type CredentialStore struct {
	mu       sync.Mutex
	data     map[string]*domain.Credential // keyed by client_id
	order    []string                      // insertion order of client_ids
	byTicker map[string]string             // ticker -> client_id
	now      func() time.Time
}

// NewCredentialStore creates a new in-memory credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		data:     make(map[string]*domain.Credential),
		byTicker: make(map[string]string),
		now:      time.Now,
	}
}

// FindClaim returns the credential bound to ticker. Returns ErrNotFound if none.
func (s *CredentialStore) FindClaim(_ context.Context, ticker string) (*domain.Credential, error) {
	key := domain.NormalizeTicker(ticker)
	if key == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byTicker[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyCredential(s.data[id]), nil
}

// ClaimUnused binds the oldest unclaimed credential to claim.Ticker.
func (s *CredentialStore) ClaimUnused(_ context.Context, claim storage.Claim) (*domain.Credential, error) {
	key := domain.NormalizeTicker(claim.Ticker)
	if key == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byTicker[key]; taken {
		return nil, storage.ErrAlreadyClaimed
	}

	for _, id := range s.order {
		c := s.data[id]
		if c.Ticker != nil {
			continue
		}

		ticker := key
		class := claim.AssetClass
		name := claim.DisplayName
		at := s.now().UnixMilli()
		c.Ticker = &ticker
		c.AssetClass = &class
		c.DisplayName = &name
		c.ClaimedAt = &at
		s.byTicker[key] = id

		return copyCredential(c), nil
	}

	return nil, storage.ErrPoolExhausted
}

// Insert adds a credential. Returns ErrDuplicateKey if client_id exists.
func (s *CredentialStore) Insert(_ context.Context, c *domain.Credential) error {
	if c == nil || c.ClientID == "" || c.Token == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[c.ClientID]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	stored := copyCredential(c)
	if stored.Ticker != nil {
		key := domain.NormalizeTicker(*stored.Ticker)
		if _, taken := s.byTicker[key]; taken {
			return storage.ErrAlreadyClaimed
		}
		stored.Ticker = &key
		s.byTicker[key] = c.ClientID
	}

	s.data[c.ClientID] = stored
	s.order = append(s.order, c.ClientID)
	return nil
}

// ListClaimed returns all claimed credentials ordered by ticker ASC.
func (s *CredentialStore) ListClaimed(_ context.Context) ([]*domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*domain.Credential, 0, len(s.byTicker))
	for _, id := range s.byTicker {
		result = append(result, copyCredential(s.data[id]))
	}

	sort.Slice(result, func(i, j int) bool {
		return *result[i].Ticker < *result[j].Ticker
	})

	return result, nil
}

// Stats returns pool occupancy counts.
func (s *CredentialStore) Stats(_ context.Context) (storage.PoolStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claimed := len(s.byTicker)
	return storage.PoolStats{
		Total:     len(s.data),
		Claimed:   claimed,
		Available: len(s.data) - claimed,
	}, nil
}

// Close is a no-op for the in-memory store.
func (s *CredentialStore) Close() error {
	return nil
}

func copyCredential(c *domain.Credential) *domain.Credential {
	out := &domain.Credential{ClientID: c.ClientID, Token: c.Token}
	if c.Ticker != nil {
		v := *c.Ticker
		out.Ticker = &v
	}
	if c.AssetClass != nil {
		v := *c.AssetClass
		out.AssetClass = &v
	}
	if c.DisplayName != nil {
		v := *c.DisplayName
		out.DisplayName = &v
	}
	if c.ClaimedAt != nil {
		v := *c.ClaimedAt
		out.ClaimedAt = &v
	}
	return out
}

// Verify interface compliance at compile time.
var _ storage.CredentialStore = (*CredentialStore)(nil)
