package domain

import "strings"

// Credential represents one pre-registered bot identity from the pool.
// Corresponds to credentials table.
type Credential struct {
	ClientID    string      // PRIMARY KEY, public bot identifier
	Token       string      // secret used by the worker to authenticate
	Ticker      *string     // bound canonical ticker (nullable, NULL = unclaimed)
	AssetClass  *AssetClass // asset class recorded at claim time (nullable)
	DisplayName *string     // worker display name recorded at claim time (nullable)
	ClaimedAt   *int64      // claim timestamp in milliseconds (nullable)
}

// Claimed reports whether the credential is bound to a ticker.
func (c *Credential) Claimed() bool {
	return c.Ticker != nil
}

// TickerOrEmpty returns the bound ticker or "" for unclaimed rows.
func (c *Credential) TickerOrEmpty() string {
	if c.Ticker == nil {
		return ""
	}
	return *c.Ticker
}

// NormalizeTicker returns the canonical pool key for a symbol.
// Applying it twice yields the same result.
func NormalizeTicker(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
