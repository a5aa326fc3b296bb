package seed

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ticker-provisioner/internal/domain"
	"ticker-provisioner/internal/storage"
	"ticker-provisioner/internal/storage/memory"
)

func TestParse(t *testing.T) {
	in := `client_id,token,ticker,asset_class,display_name
# pool batch 1
111, tok-a
222,tok-b,BTC,crypto,bitcoin
333,tok-c,,,
`
	creds, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(creds) != 3 {
		t.Fatalf("got %d credentials, want 3", len(creds))
	}
	if creds[0].ClientID != "111" || creds[0].Token != "tok-a" || creds[0].Claimed() {
		t.Errorf("first = %+v", creds[0])
	}
	c := creds[1]
	if c.TickerOrEmpty() != "btc" {
		t.Errorf("ticker = %q, want btc", c.TickerOrEmpty())
	}
	if c.AssetClass == nil || *c.AssetClass != domain.AssetClassCrypto {
		t.Errorf("asset class = %v", c.AssetClass)
	}
	if c.DisplayName == nil || *c.DisplayName != "bitcoin" {
		t.Errorf("display name = %v", c.DisplayName)
	}
	if creds[2].Claimed() {
		t.Error("empty ticker column should leave the credential unclaimed")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"missing token", "111\n"},
		{"empty token", "111,\n"},
		{"bad class", "111,tok,btc,bond\n"},
		{"too many columns", "111,tok,btc,crypto,bitcoin,extra\n"},
		{"duplicate id", "111,a\n111,b\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tt.in)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_SkipsExisting(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCredentialStore()

	creds, err := Parse(strings.NewReader("111,a\n222,b,eth,crypto\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	res, err := Load(ctx, store, creds)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Inserted != 2 || res.Skipped != 0 {
		t.Errorf("first load = %+v", res)
	}

	again, _ := Parse(strings.NewReader("111,a\n222,b,eth,crypto\n333,c\n"))
	res, err = Load(ctx, store, again)
	if err != nil {
		t.Fatalf("Load again: %v", err)
	}
	if res.Inserted != 1 || res.Skipped != 2 {
		t.Errorf("second load = %+v, want 1 inserted 2 skipped", res)
	}

	stats, _ := store.Stats(ctx)
	if stats.Total != 3 || stats.Claimed != 1 {
		t.Errorf("stats = %+v", stats)
	}

	got, err := store.FindClaim(ctx, "eth")
	if err != nil {
		t.Fatalf("FindClaim: %v", err)
	}
	if got.ClaimedAt == nil {
		t.Error("pre-claimed credential should carry a claim timestamp")
	}
}

func TestLoad_InvalidCredential(t *testing.T) {
	store := memory.NewCredentialStore()
	_, err := Load(context.Background(), store, []*domain.Credential{{ClientID: "1"}})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}
