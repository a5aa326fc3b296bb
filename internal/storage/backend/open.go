// Package backend selects and opens a credential store from a DSN.
package backend

import (
	"context"
	"fmt"
	"strings"

	"ticker-provisioner/internal/storage"
	"ticker-provisioner/internal/storage/memory"
	"ticker-provisioner/internal/storage/migrations"
	pgstore "ticker-provisioner/internal/storage/postgres"
	"ticker-provisioner/internal/storage/sqlite"
)

// Kind names a storage backend.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindPostgres Kind = "postgres"
	KindSQLite   Kind = "sqlite"
)

// Resolve maps a DSN onto a backend and the location passed to its driver.
//
//	memory:                      in-process pool (tests, demos)
//	postgres://... postgresql:// PostgreSQL
//	sqlite:<path> or <path>      SQLite file
func Resolve(dsn string) (Kind, string, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return "", "", fmt.Errorf("%w: empty storage dsn", storage.ErrInvalidInput)
	case dsn == "memory:" || dsn == "memory":
		return KindMemory, "", nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return KindPostgres, dsn, nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return KindSQLite, strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite:"), "//"), nil
	default:
		return KindSQLite, dsn, nil
	}
}

// Open connects to the store named by dsn and applies migrations.
func Open(ctx context.Context, dsn string) (storage.CredentialStore, Kind, error) {
	kind, location, err := Resolve(dsn)
	if err != nil {
		return nil, "", err
	}

	switch kind {
	case KindMemory:
		return memory.NewCredentialStore(), kind, nil

	case KindPostgres:
		pool, err := pgstore.NewPool(ctx, location)
		if err != nil {
			return nil, kind, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, kind, fmt.Errorf("migrate postgres: %w", err)
		}
		return pgstore.NewCredentialStore(pool), kind, nil

	default:
		db, err := sqlite.Open(ctx, location)
		if err != nil {
			return nil, kind, fmt.Errorf("open sqlite: %w", err)
		}
		return sqlite.NewCredentialStore(db), kind, nil
	}
}
