package container

import (
	"sort"
	"strconv"

	"ticker-provisioner/internal/domain"
)

// Worker environment keys.
const (
	EnvToken     = "DISCORD_BOT_TOKEN"
	EnvTicker    = "TICKER"
	EnvFrequency = "FREQUENCY"
	EnvTimezone  = "TZ"
	EnvCacheURL  = "REDIS_URL"
)

// Defaults are the fixed worker settings shared by every launch.
type Defaults struct {
	Frequency int    // refresh interval in seconds
	Timezone  string // IANA zone name
	CacheURL  string // shared cache host
}

// DefaultWorkerDefaults returns the settings workers were historically launched with.
func DefaultWorkerDefaults() Defaults {
	return Defaults{
		Frequency: 30,
		Timezone:  "America/Chicago",
		CacheURL:  "cache",
	}
}

// EnvParams are the inputs to WorkerEnv.
type EnvParams struct {
	AssetClass  domain.AssetClass
	Ticker      string
	DisplayName string
	Token       string
	Defaults    Defaults
}

// WorkerEnv builds the worker environment. Values are passed through verbatim.
func WorkerEnv(p EnvParams) map[string]string {
	env := map[string]string{
		EnvToken:                  p.Token,
		EnvTicker:                 p.Ticker,
		p.AssetClass.NameEnvKey(): p.DisplayName,
	}
	if p.Defaults.Frequency > 0 {
		env[EnvFrequency] = strconv.Itoa(p.Defaults.Frequency)
	}
	if p.Defaults.Timezone != "" {
		env[EnvTimezone] = p.Defaults.Timezone
	}
	if p.Defaults.CacheURL != "" {
		env[EnvCacheURL] = p.Defaults.CacheURL
	}
	return env
}

// envList flattens env into sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
