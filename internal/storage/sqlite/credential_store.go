package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sqlite3 "modernc.org/sqlite/lib"

	"ticker-provisioner/internal/domain"
	"ticker-provisioner/internal/storage"
)

// CredentialStore implements storage.CredentialStore on SQLite.
type CredentialStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewCredentialStore wraps an opened database (see Open).
func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db, now: time.Now}
}

var _ storage.CredentialStore = (*CredentialStore)(nil)

const credentialColumns = `client_id, token, ticker, asset_class, display_name, claimed_at`

// FindClaim returns the credential bound to ticker. Returns ErrNotFound if none.
func (s *CredentialStore) FindClaim(ctx context.Context, ticker string) (*domain.Credential, error) {
	key := domain.NormalizeTicker(ticker)
	if key == "" {
		return nil, storage.ErrInvalidInput
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE ticker = ?`, key)
	c, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, unavailable("find claim", err)
	}
	return c, nil
}

// ClaimUnused atomically binds one unclaimed credential to claim.Ticker.
// The select and the update run as one conditional statement.
func (s *CredentialStore) ClaimUnused(ctx context.Context, claim storage.Claim) (*domain.Credential, error) {
	key := domain.NormalizeTicker(claim.Ticker)
	if key == "" {
		return nil, storage.ErrInvalidInput
	}

	query := `
		UPDATE credentials
		SET ticker = ?, asset_class = ?, display_name = ?, claimed_at = ?
		WHERE client_id = (
			SELECT client_id FROM credentials
			WHERE ticker IS NULL
			ORDER BY client_id
			LIMIT 1
		)
		AND ticker IS NULL
		RETURNING ` + credentialColumns

	for attempt := 1; attempt <= storage.MaxClaimAttempts; attempt++ {
		row := s.db.QueryRowContext(ctx, query, key, string(claim.AssetClass), claim.DisplayName, s.now().UnixMilli())
		c, err := scanCredential(row)
		switch {
		case err == nil:
			return c, nil
		case constraintCode(err) == sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return nil, storage.ErrAlreadyClaimed
		case errors.Is(err, sql.ErrNoRows):
			continue
		default:
			return nil, unavailable("claim credential", err)
		}
	}

	return nil, storage.ErrPoolExhausted
}

// Insert adds a credential. Returns ErrDuplicateKey if client_id exists.
func (s *CredentialStore) Insert(ctx context.Context, c *domain.Credential) error {
	if c == nil || c.ClientID == "" || c.Token == "" {
		return storage.ErrInvalidInput
	}

	var ticker, class, name sql.NullString
	var claimedAt sql.NullInt64
	if c.Ticker != nil {
		ticker = sql.NullString{String: domain.NormalizeTicker(*c.Ticker), Valid: true}
	}
	if c.AssetClass != nil {
		class = sql.NullString{String: string(*c.AssetClass), Valid: true}
	}
	if c.DisplayName != nil {
		name = sql.NullString{String: *c.DisplayName, Valid: true}
	}
	if c.ClaimedAt != nil {
		claimedAt = sql.NullInt64{Int64: *c.ClaimedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (`+credentialColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ClientID, c.Token, ticker, class, name, claimedAt,
	)
	if err != nil {
		switch constraintCode(err) {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return storage.ErrDuplicateKey
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return storage.ErrAlreadyClaimed
		}
		return unavailable("insert credential", err)
	}
	return nil
}

// ListClaimed returns all claimed credentials ordered by ticker ASC.
func (s *CredentialStore) ListClaimed(ctx context.Context) ([]*domain.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE ticker IS NOT NULL ORDER BY ticker ASC`)
	if err != nil {
		return nil, unavailable("list claimed credentials", err)
	}
	defer rows.Close()

	var result []*domain.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, unavailable("scan credential row", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate credential rows", err)
	}
	return result, nil
}

// Stats returns pool occupancy counts.
func (s *CredentialStore) Stats(ctx context.Context) (storage.PoolStats, error) {
	var stats storage.PoolStats
	err := s.db.QueryRowContext(ctx, `SELECT count(*), count(ticker) FROM credentials`).
		Scan(&stats.Total, &stats.Claimed)
	if err != nil {
		return storage.PoolStats{}, unavailable("pool stats", err)
	}
	stats.Available = stats.Total - stats.Claimed
	return stats, nil
}

// Close closes the database.
func (s *CredentialStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(row scanner) (*domain.Credential, error) {
	var c domain.Credential
	var ticker, class, name sql.NullString
	var claimedAt sql.NullInt64

	if err := row.Scan(&c.ClientID, &c.Token, &ticker, &class, &name, &claimedAt); err != nil {
		return nil, err
	}

	if ticker.Valid {
		c.Ticker = &ticker.String
	}
	if class.Valid {
		a := domain.AssetClass(class.String)
		c.AssetClass = &a
	}
	if name.Valid {
		c.DisplayName = &name.String
	}
	if claimedAt.Valid {
		c.ClaimedAt = &claimedAt.Int64
	}
	return &c, nil
}
