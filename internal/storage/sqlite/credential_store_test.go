package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticker-provisioner/internal/domain"
	"ticker-provisioner/internal/storage"
	"ticker-provisioner/internal/storage/storagetest"
)

func newTestStore(t *testing.T) *CredentialStore {
	t.Helper()

	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "pool.db"))
	require.NoError(t, err)

	store := NewCredentialStore(db)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCredentialStore_Contract(t *testing.T) {
	storagetest.RunCredentialStoreTests(t, func(t *testing.T) storage.CredentialStore {
		return newTestStore(t)
	})
}

func TestCredentialStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "pool.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)
	store := NewCredentialStore(db)
	require.NoError(t, store.Insert(ctx, &domain.Credential{ClientID: "abc", Token: "t1"}))
	_, err = store.ClaimUnused(ctx, storage.Claim{Ticker: "btc", AssetClass: domain.AssetClassCrypto, DisplayName: "bitcoin"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Migrations are idempotent; the claim must still be there.
	db, err = Open(ctx, path)
	require.NoError(t, err)
	reopened := NewCredentialStore(db)
	defer reopened.Close()

	c, err := reopened.FindClaim(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "abc", c.ClientID)
	assert.Equal(t, "bitcoin", *c.DisplayName)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	assert.Error(t, err)
}
