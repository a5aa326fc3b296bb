package container

import (
	"reflect"
	"testing"

	"ticker-provisioner/internal/domain"
)

func TestWorkerEnv(t *testing.T) {
	env := WorkerEnv(EnvParams{
		AssetClass:  domain.AssetClassCrypto,
		Ticker:      "btc",
		DisplayName: "bitcoin",
		Token:       "t1",
		Defaults:    DefaultWorkerDefaults(),
	})

	want := map[string]string{
		"DISCORD_BOT_TOKEN": "t1",
		"TICKER":            "btc",
		"CRYPTO_NAME":       "bitcoin",
		"FREQUENCY":         "30",
		"TZ":                "America/Chicago",
		"REDIS_URL":         "cache",
	}
	if !reflect.DeepEqual(env, want) {
		t.Errorf("WorkerEnv = %v, want %v", env, want)
	}
}

func TestWorkerEnv_StockAndEmptyDefaults(t *testing.T) {
	env := WorkerEnv(EnvParams{
		AssetClass:  domain.AssetClassStock,
		Ticker:      "^gspc",
		DisplayName: "^gspc",
		Token:       "tok",
	})

	if env["STOCK_NAME"] != "^gspc" {
		t.Errorf("STOCK_NAME = %q", env["STOCK_NAME"])
	}
	if env["TICKER"] != "^gspc" {
		t.Errorf("TICKER must be passed verbatim, got %q", env["TICKER"])
	}
	for _, k := range []string{EnvFrequency, EnvTimezone, EnvCacheURL} {
		if _, ok := env[k]; ok {
			t.Errorf("expected %s to be omitted", k)
		}
	}
}

func TestEnvList_Sorted(t *testing.T) {
	got := envList(map[string]string{"TZ": "UTC", "A": "1", "M": "x=y"})
	want := []string{"A=1", "M=x=y", "TZ=UTC"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("envList = %v, want %v", got, want)
	}
}

func TestWorkerLabels(t *testing.T) {
	l := WorkerLabels("aapl", "c1", domain.AssetClassStock)
	if l[LabelTicker] != "aapl" || l[LabelClientID] != "c1" || l[LabelClass] != "STOCK" {
		t.Errorf("unexpected labels %v", l)
	}
}
