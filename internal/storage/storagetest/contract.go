// Package storagetest provides a behavioural suite shared by every
// storage.CredentialStore backend.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticker-provisioner/internal/domain"
	"ticker-provisioner/internal/storage"
)

// Factory returns an empty store. Cleanup is registered by the factory via t.Cleanup.
type Factory func(t *testing.T) storage.CredentialStore

// Seed inserts n unclaimed credentials named bot-000, bot-001, ...
func Seed(t *testing.T, s storage.CredentialStore, n int) []string {
	t.Helper()

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("bot-%03d", i)
		err := s.Insert(context.Background(), &domain.Credential{ClientID: id, Token: "token-" + id})
		require.NoError(t, err, "seed credential %s", id)
		ids = append(ids, id)
	}
	return ids
}

// RunCredentialStoreTests runs the contract suite against the backend produced by newStore.
func RunCredentialStoreTests(t *testing.T, newStore Factory) {
	t.Run("FindClaimNotFound", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, 1)

		_, err := s.FindClaim(context.Background(), "btc")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ClaimThenFind", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, &domain.Credential{ClientID: "abc", Token: "t1"}))

		c, err := s.ClaimUnused(ctx, storage.Claim{Ticker: "BTC", AssetClass: domain.AssetClassCrypto, DisplayName: "bitcoin"})
		require.NoError(t, err)
		assert.Equal(t, "abc", c.ClientID)
		assert.Equal(t, "t1", c.Token)
		require.NotNil(t, c.Ticker)
		assert.Equal(t, "btc", *c.Ticker)

		found, err := s.FindClaim(ctx, "btc")
		require.NoError(t, err)
		assert.Equal(t, "abc", found.ClientID)
		assert.Equal(t, "t1", found.Token)
		require.NotNil(t, found.AssetClass)
		assert.Equal(t, domain.AssetClassCrypto, *found.AssetClass)
		require.NotNil(t, found.DisplayName)
		assert.Equal(t, "bitcoin", *found.DisplayName)
		assert.NotNil(t, found.ClaimedAt)

		// Lookups are case-folded.
		upper, err := s.FindClaim(ctx, "BTC")
		require.NoError(t, err)
		assert.Equal(t, "abc", upper.ClientID)
	})

	t.Run("ClaimReturnsUnclaimedRow", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ids := Seed(t, s, 3)

		first, err := s.ClaimUnused(ctx, storage.Claim{Ticker: "eth", AssetClass: domain.AssetClassCrypto, DisplayName: "ethereum"})
		require.NoError(t, err)
		second, err := s.ClaimUnused(ctx, storage.Claim{Ticker: "aapl", AssetClass: domain.AssetClassStock, DisplayName: "aapl"})
		require.NoError(t, err)

		assert.NotEqual(t, first.ClientID, second.ClientID)
		assert.Contains(t, ids, first.ClientID)
		assert.Contains(t, ids, second.ClientID)
	})

	t.Run("SameTickerTwice", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		Seed(t, s, 2)

		_, err := s.ClaimUnused(ctx, storage.Claim{Ticker: "btc", AssetClass: domain.AssetClassCrypto})
		require.NoError(t, err)

		_, err = s.ClaimUnused(ctx, storage.Claim{Ticker: "BTC", AssetClass: domain.AssetClassCrypto})
		assert.ErrorIs(t, err, storage.ErrAlreadyClaimed)

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Claimed)
		assert.Equal(t, 1, stats.Available)
	})

	t.Run("ExhaustedPoolDoesNotMutate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		Seed(t, s, 1)

		_, err := s.ClaimUnused(ctx, storage.Claim{Ticker: "btc", AssetClass: domain.AssetClassCrypto})
		require.NoError(t, err)

		before, err := s.Stats(ctx)
		require.NoError(t, err)

		_, err = s.ClaimUnused(ctx, storage.Claim{Ticker: "eth", AssetClass: domain.AssetClassCrypto})
		assert.ErrorIs(t, err, storage.ErrPoolExhausted)

		after, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)

		_, err = s.FindClaim(ctx, "eth")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("EmptyPool", func(t *testing.T) {
		s := newStore(t)

		_, err := s.ClaimUnused(context.Background(), storage.Claim{Ticker: "btc"})
		assert.ErrorIs(t, err, storage.ErrPoolExhausted)
	})

	t.Run("InsertDuplicate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Insert(ctx, &domain.Credential{ClientID: "abc", Token: "t1"}))
		err := s.Insert(ctx, &domain.Credential{ClientID: "abc", Token: "t2"})
		assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	})

	t.Run("InvalidInput", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		assert.ErrorIs(t, s.Insert(ctx, nil), storage.ErrInvalidInput)
		assert.ErrorIs(t, s.Insert(ctx, &domain.Credential{ClientID: "", Token: "t"}), storage.ErrInvalidInput)
		_, err := s.ClaimUnused(ctx, storage.Claim{Ticker: "  "})
		assert.ErrorIs(t, err, storage.ErrInvalidInput)
	})

	t.Run("ListClaimedAndStats", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		Seed(t, s, 4)

		for _, ticker := range []string{"eth", "aapl", "btc"} {
			_, err := s.ClaimUnused(ctx, storage.Claim{Ticker: ticker, AssetClass: domain.AssetClassCrypto, DisplayName: ticker})
			require.NoError(t, err)
		}

		claimed, err := s.ListClaimed(ctx)
		require.NoError(t, err)
		require.Len(t, claimed, 3)
		assert.Equal(t, "aapl", *claimed[0].Ticker)
		assert.Equal(t, "btc", *claimed[1].Ticker)
		assert.Equal(t, "eth", *claimed[2].Ticker)

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, storage.PoolStats{Total: 4, Claimed: 3, Available: 1}, stats)
	})

	t.Run("ConcurrentDistinctTickers", func(t *testing.T) {
		s := newStore(t)
		const n = 20
		Seed(t, s, n)

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			seen = make(map[string]string)
			errs []error
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ticker := fmt.Sprintf("tk%02d", i)
				c, err := s.ClaimUnused(context.Background(), storage.Claim{Ticker: ticker, AssetClass: domain.AssetClassStock})
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				if prev, dup := seen[c.ClientID]; dup {
					errs = append(errs, fmt.Errorf("client %s claimed by both %s and %s", c.ClientID, prev, ticker))
				}
				seen[c.ClientID] = ticker
			}(i)
		}
		wg.Wait()

		assert.Empty(t, errs)
		assert.Len(t, seen, n)
	})

	t.Run("ConcurrentSameTicker", func(t *testing.T) {
		s := newStore(t)
		const n = 16
		Seed(t, s, n)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []string
			losers  int
			other   []error
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c, err := s.ClaimUnused(context.Background(), storage.Claim{Ticker: "doge", AssetClass: domain.AssetClassCrypto})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners = append(winners, c.ClientID)
				case errors.Is(err, storage.ErrAlreadyClaimed):
					losers++
				default:
					other = append(other, err)
				}
			}()
		}
		wg.Wait()

		require.Empty(t, other)
		require.Len(t, winners, 1)
		assert.Equal(t, n-1, losers)

		found, err := s.FindClaim(context.Background(), "doge")
		require.NoError(t, err)
		assert.Equal(t, winners[0], found.ClientID)

		stats, err := s.Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Claimed)
	})

	t.Run("ConcurrentOversubscribed", func(t *testing.T) {
		s := newStore(t)
		const rows, callers = 5, 12
		Seed(t, s, rows)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			won       = make(map[string]bool)
			exhausted int
			other     []error
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				c, err := s.ClaimUnused(context.Background(), storage.Claim{Ticker: fmt.Sprintf("sym%02d", i), AssetClass: domain.AssetClassStock})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					if won[c.ClientID] {
						other = append(other, fmt.Errorf("client %s claimed twice", c.ClientID))
					}
					won[c.ClientID] = true
				case errors.Is(err, storage.ErrPoolExhausted):
					exhausted++
				default:
					other = append(other, err)
				}
			}(i)
		}
		wg.Wait()

		require.Empty(t, other)
		assert.Len(t, won, rows)
		assert.Equal(t, callers-rows, exhausted)
	})
}
