package validator

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"ticker-provisioner/internal/domain"
)

// DefaultCoinGeckoURL is the public CoinGecko API base.
const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3/"

// coinGeckoQuery trims the coin payload to the descriptive fields.
const coinGeckoQuery = "localization=false&tickers=false&market_data=false&community_data=false&developer_data=false&sparkline=false"

var _ Validator = (*CoinGecko)(nil)

// CoinGecko validates crypto coin ids against the CoinGecko coins endpoint.
type CoinGecko struct {
	baseURL string
	http    *httpClient
}

// NewCoinGecko creates a CoinGecko validator. An empty baseURL uses DefaultCoinGeckoURL.
func NewCoinGecko(baseURL string, opts ...ClientOption) *CoinGecko {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	return &CoinGecko{
		baseURL: ensureSlash(baseURL),
		http:    newHTTPClient("coingecko", opts...),
	}
}

type coinResponse struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Error  string `json:"error"`
}

// Validate resolves a coin id (e.g. "bitcoin") to its ticker ("btc").
func (c *CoinGecko) Validate(ctx context.Context, raw string) (domain.ValidatedSymbol, error) {
	id, err := checkRaw("coingecko", raw)
	if err != nil {
		return domain.ValidatedSymbol{}, err
	}
	id = strings.ToLower(id)

	var coin coinResponse
	u := c.baseURL + "coins/" + url.PathEscape(id) + "?" + coinGeckoQuery
	if err := c.http.getJSON(ctx, u, &coin); err != nil {
		kind := KindUpstream
		if errors.Is(err, errNotFound) {
			kind = KindNotFound
		}
		return domain.ValidatedSymbol{}, &Error{Provider: "coingecko", Symbol: raw, Kind: kind, Err: err}
	}
	if coin.Error != "" || coin.ID == "" || coin.Symbol == "" {
		return domain.ValidatedSymbol{}, &Error{Provider: "coingecko", Symbol: raw, Kind: KindNotFound}
	}

	return domain.ValidatedSymbol{
		ID:          domain.NormalizeTicker(coin.Symbol),
		DisplayName: coin.ID,
	}, nil
}

func ensureSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
