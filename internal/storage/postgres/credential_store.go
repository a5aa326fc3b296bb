package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"ticker-provisioner/internal/domain"
	"ticker-provisioner/internal/storage"
)

// constraintTickerUnique is the UNIQUE(ticker) constraint from migrations/postgres/001_credentials.sql.
const constraintTickerUnique = "credentials_ticker_key"

// CredentialStore implements storage.CredentialStore using PostgreSQL.
type CredentialStore struct {
	pool *Pool
	now  func() time.Time
}

// NewCredentialStore creates a new CredentialStore.
func NewCredentialStore(pool *Pool) *CredentialStore {
	return &CredentialStore{pool: pool, now: time.Now}
}

// Compile-time interface check.
var _ storage.CredentialStore = (*CredentialStore)(nil)

const credentialColumns = `client_id, token, ticker, asset_class, display_name, claimed_at`

// FindClaim returns the credential bound to ticker. Returns ErrNotFound if none.
func (s *CredentialStore) FindClaim(ctx context.Context, ticker string) (*domain.Credential, error) {
	key := domain.NormalizeTicker(ticker)
	if key == "" {
		return nil, storage.ErrInvalidInput
	}

	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE ticker = $1`

	c, err := scanCredential(s.pool.QueryRow(ctx, query, key))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, unavailable("find claim", err)
	}
	return c, nil
}

// ClaimUnused atomically binds one unclaimed credential to claim.Ticker.
//
// The row is selected and updated in one statement. FOR UPDATE SKIP LOCKED keeps
// concurrent claimers off each other's rows; the UNIQUE(ticker) constraint makes
// exactly one claimer win when several race for the same ticker.
func (s *CredentialStore) ClaimUnused(ctx context.Context, claim storage.Claim) (*domain.Credential, error) {
	key := domain.NormalizeTicker(claim.Ticker)
	if key == "" {
		return nil, storage.ErrInvalidInput
	}

	query := `
		UPDATE credentials
		SET ticker = $1, asset_class = $2, display_name = $3, claimed_at = $4
		WHERE client_id = (
			SELECT client_id FROM credentials
			WHERE ticker IS NULL
			ORDER BY client_id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		AND ticker IS NULL
		RETURNING ` + credentialColumns

	for attempt := 1; attempt <= storage.MaxClaimAttempts; attempt++ {
		row := s.pool.QueryRow(ctx, query, key, string(claim.AssetClass), claim.DisplayName, s.now().UnixMilli())
		c, err := scanCredential(row)
		switch {
		case err == nil:
			return c, nil
		case uniqueViolation(err) != "":
			return nil, storage.ErrAlreadyClaimed
		case isNotFoundError(err):
			// Either the pool is empty or every free row was locked by a concurrent claimer.
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

	query := `
		INSERT INTO credentials (` + credentialColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	var ticker *string
	if c.Ticker != nil {
		key := domain.NormalizeTicker(*c.Ticker)
		ticker = &key
	}
	var class *string
	if c.AssetClass != nil {
		v := string(*c.AssetClass)
		class = &v
	}

	_, err := s.pool.Exec(ctx, query, c.ClientID, c.Token, ticker, class, c.DisplayName, c.ClaimedAt)
	if err != nil {
		switch uniqueViolation(err) {
		case "":
			return unavailable("insert credential", err)
		case constraintTickerUnique:
			return storage.ErrAlreadyClaimed
		default:
			return storage.ErrDuplicateKey
		}
	}
	return nil
}

// ListClaimed returns all claimed credentials ordered by ticker ASC.
func (s *CredentialStore) ListClaimed(ctx context.Context) ([]*domain.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM credentials
		WHERE ticker IS NOT NULL
		ORDER BY ticker ASC
	`

	rows, err := s.pool.Query(ctx, query)
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
	query := `SELECT count(*), count(ticker) FROM credentials`

	var stats storage.PoolStats
	if err := s.pool.QueryRow(ctx, query).Scan(&stats.Total, &stats.Claimed); err != nil {
		return storage.PoolStats{}, unavailable("pool stats", err)
	}
	stats.Available = stats.Total - stats.Claimed
	return stats, nil
}

// Close closes the underlying pool.
func (s *CredentialStore) Close() error {
	s.pool.Close()
	return nil
}

// scanCredential scans a single row into a Credential.
func scanCredential(row pgx.Row) (*domain.Credential, error) {
	var c domain.Credential
	var class *string

	err := row.Scan(
		&c.ClientID,
		&c.Token,
		&c.Ticker,
		&class,
		&c.DisplayName,
		&c.ClaimedAt,
	)
	if err != nil {
		return nil, err
	}

	if class != nil {
		a := domain.AssetClass(*class)
		c.AssetClass = &a
	}
	return &c, nil
}
