package validator

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"ticker-provisioner/internal/domain"
)

// DefaultYahooURL is the public Yahoo Finance API base.
const DefaultYahooURL = "https://query1.finance.yahoo.com/v10/finance/"

var _ Validator = (*Yahoo)(nil)

// Yahoo validates stock and index symbols against the Yahoo Finance quote summary.
type Yahoo struct {
	baseURL string
	http    *httpClient
}

// NewYahoo creates a Yahoo validator. An empty baseURL uses DefaultYahooURL.
func NewYahoo(baseURL string, opts ...ClientOption) *Yahoo {
	if baseURL == "" {
		baseURL = DefaultYahooURL
	}
	return &Yahoo{
		baseURL: ensureSlash(baseURL),
		http:    newHTTPClient("yahoo", opts...),
	}
}

// quoteSummary is the response structure from the quoteSummary API.
type quoteSummary struct {
	QuoteSummary struct {
		Result []struct {
			Price struct {
				Symbol    string `json:"symbol"`
				ShortName string `json:"shortName"`
			} `json:"price"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteSummary"`
}

// Validate resolves a symbol (e.g. "AAPL", "^GSPC") to its canonical lower-cased form.
func (y *Yahoo) Validate(ctx context.Context, raw string) (domain.ValidatedSymbol, error) {
	sym, err := checkRaw("yahoo", raw)
	if err != nil {
		return domain.ValidatedSymbol{}, err
	}

	var qs quoteSummary
	u := y.baseURL + "quoteSummary/" + url.PathEscape(sym) + "?modules=price"
	err = y.http.getJSON(ctx, u, &qs)

	if e := qs.QuoteSummary.Error; e != nil {
		return domain.ValidatedSymbol{}, &Error{
			Provider: "yahoo",
			Symbol:   raw,
			Kind:     KindNotFound,
			Err:      fmt.Errorf("%s: %s", e.Code, e.Description),
		}
	}
	if err != nil {
		kind := KindUpstream
		if errors.Is(err, errNotFound) {
			kind = KindNotFound
		}
		return domain.ValidatedSymbol{}, &Error{Provider: "yahoo", Symbol: raw, Kind: kind, Err: err}
	}
	if len(qs.QuoteSummary.Result) == 0 || qs.QuoteSummary.Result[0].Price.Symbol == "" {
		return domain.ValidatedSymbol{}, &Error{Provider: "yahoo", Symbol: raw, Kind: KindNotFound}
	}

	ticker := domain.NormalizeTicker(qs.QuoteSummary.Result[0].Price.Symbol)
	return domain.ValidatedSymbol{ID: ticker, DisplayName: ticker}, nil
}
