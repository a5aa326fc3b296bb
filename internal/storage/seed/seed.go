// Package seed imports pool credentials from CSV.
//
// Each record is client_id,token[,ticker[,asset_class[,display_name]]].
// A first row whose first cell is "client_id" is treated as a header.
// Rows with a ticker are imported as already claimed.
package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"ticker-provisioner/internal/domain"
	"ticker-provisioner/internal/storage"
)

// Parse reads credentials from r.
func Parse(r io.Reader) ([]*domain.Credential, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var out []*domain.Credential
	seen := make(map[string]int)
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "client_id") {
			continue
		}

		cred, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if prev, dup := seen[cred.ClientID]; dup {
			return nil, fmt.Errorf("line %d: client_id %s repeats line %d", line, cred.ClientID, prev)
		}
		seen[cred.ClientID] = line
		out = append(out, cred)
	}
	return out, nil
}

func parseRecord(rec []string) (*domain.Credential, error) {
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}
	if len(rec) < 2 || rec[0] == "" || rec[1] == "" {
		return nil, fmt.Errorf("%w: client_id and token are required", storage.ErrInvalidInput)
	}
	if len(rec) > 5 {
		return nil, fmt.Errorf("%w: %d columns, at most 5", storage.ErrInvalidInput, len(rec))
	}

	cred := &domain.Credential{ClientID: rec[0], Token: rec[1]}
	if len(rec) < 3 || rec[2] == "" {
		return cred, nil
	}

	ticker := domain.NormalizeTicker(rec[2])
	cred.Ticker = &ticker
	if len(rec) > 3 && rec[3] != "" {
		class, ok := domain.ParseAssetClass(rec[3])
		if !ok {
			return nil, fmt.Errorf("%w: asset class %q", storage.ErrInvalidInput, rec[3])
		}
		cred.AssetClass = &class
	}
	if len(rec) > 4 && rec[4] != "" {
		name := rec[4]
		cred.DisplayName = &name
	}
	return cred, nil
}

// Result counts the outcome of Load.
type Result struct {
	Inserted int
	Skipped  int // client_id already present
}

// Load inserts creds into store. Existing client ids are skipped so a
// seed file can be re-applied.
func Load(ctx context.Context, store storage.CredentialStore, creds []*domain.Credential) (Result, error) {
	var res Result
	now := time.Now().UnixMilli()
	for _, c := range creds {
		if c.Ticker != nil && c.ClaimedAt == nil {
			ts := now
			c.ClaimedAt = &ts
		}
		err := store.Insert(ctx, c)
		switch {
		case err == nil:
			res.Inserted++
		case errors.Is(err, storage.ErrDuplicateKey):
			res.Skipped++
		default:
			return res, fmt.Errorf("insert %s: %w", c.ClientID, err)
		}
	}
	return res, nil
}
