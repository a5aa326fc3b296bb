package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every key Load reads so host settings do not leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LISTEN_ADDR", "HTTP_READ_TIMEOUT", "HTTP_WRITE_TIMEOUT", "SHUTDOWN_TIMEOUT",
		"DB_PATH", "DATABASE_URL", "IMAGE_NAME", "WORKER_NETWORK", "WORKER_RESTART_POLICY",
		"WORKER_FREQUENCY", "WORKER_TZ", "WORKER_CACHE_URL", "DOCKER_TIMEOUT",
		"COINGECKO_URL", "YAHOO_URL", "VALIDATOR_TIMEOUT", "VALIDATOR_MAX_RETRIES",
		"VALIDATOR_RATE", "VALIDATOR_BURST", "DISCORD_ADMIN_WEBHOOK", "DISCORD_WEBHOOK",
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "NOTIFY_QUEUE_SIZE", "RECONCILE_SCHEDULE",
		"RECONCILE_ON_START", "RECONCILE_MIN_CLAIM_AGE", "LOG_LEVEL", "LOG_FORMAT", "TRACING_ENABLED", "TRACING_SERVICE_NAME",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "sqlite:data/bots.db", cfg.Store.DSN)
	assert.Equal(t, 30, cfg.Worker.Frequency)
	assert.Equal(t, "America/Chicago", cfg.Worker.Timezone)
	assert.Equal(t, "cache", cfg.Worker.CacheURL)
	assert.Equal(t, "https://api.coingecko.com/api/v3/", cfg.Validator.CoinGeckoURL)
	assert.Equal(t, "https://query1.finance.yahoo.com/v10/finance/", cfg.Validator.YahooURL)
	assert.Equal(t, "@every 15m", cfg.Reconcile.Schedule)
	assert.Equal(t, 5*time.Minute, cfg.Reconcile.MinClaimAge)
	assert.True(t, cfg.ReconcileEnabled())
	require.NotNil(t, cfg.Validator.MaxRetries)
	assert.Equal(t, 2, *cfg.Validator.MaxRetries)

	// IMAGE_NAME has no default.
	assert.Error(t, cfg.Validate())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen_addr: ":9000"
  write_timeout: 90s
store:
  dsn: "memory:"
worker:
  image: ghcr.io/example/ticker:1.0
  frequency: 60
validator:
  timeout: 3s
reconcile:
  schedule: "off"
log:
  format: json
`), 0o644))

	t.Setenv("WORKER_FREQUENCY", "15")
	t.Setenv("DISCORD_ADMIN_WEBHOOK", "https://discord.example/admin")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, 90*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "memory:", cfg.Store.DSN)
	assert.Equal(t, "ghcr.io/example/ticker:1.0", cfg.Worker.Image)
	assert.Equal(t, 15, cfg.Worker.Frequency, "env must override file")
	assert.Equal(t, 3*time.Second, cfg.Validator.Timeout)
	assert.Equal(t, "https://discord.example/admin", cfg.Notify.AdminWebhook)
	assert.False(t, cfg.ReconcileEnabled())
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_StoreLocation(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_PATH", "/var/lib/bots.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite:/var/lib/bots.db", cfg.Store.DSN)

	t.Setenv("DATABASE_URL", "postgres://u:p@db/bots")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db/bots", cfg.Store.DSN)
}

func TestLoad_BadEnvValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("WORKER_FREQUENCY", "often")
	t.Setenv("VALIDATOR_TIMEOUT", "soon")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORKER_FREQUENCY")
	assert.Contains(t, err.Error(), "VALIDATOR_TIMEOUT")
}

func TestLoad_DurationSeconds(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOCKER_TIMEOUT", "45")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Docker.CallTimeout)
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		cfg.Worker.Image = "ticker-bot:latest"
		return cfg
	}

	require.NoError(t, base().Validate())

	cfg := base()
	cfg.Worker.RestartPolicy = "sometimes"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Notify.TelegramToken = "123:abc"
	assert.Error(t, cfg.Validate(), "telegram token without chat id")

	cfg = base()
	cfg.Log.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("IMAGE_NAME=from-dotenv\nLOG_LEVEL=debug\n"), 0o644))
	t.Setenv("LOG_LEVEL", "warn")

	require.NoError(t, LoadDotEnv(path))
	t.Cleanup(func() { os.Unsetenv("IMAGE_NAME") })

	assert.Equal(t, "from-dotenv", os.Getenv("IMAGE_NAME"))
	assert.Equal(t, "warn", os.Getenv("LOG_LEVEL"), "existing variables are kept")
}

func TestLoad_ZeroRetriesKept(t *testing.T) {
	clearEnv(t)
	t.Setenv("VALIDATOR_MAX_RETRIES", "0")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg.Validator.MaxRetries)
	assert.Equal(t, 0, *cfg.Validator.MaxRetries)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("validator:\n  max_retries: 0\n"), 0o644))
	clearEnv(t)
	cfg, err = Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Validator.MaxRetries)
	assert.Equal(t, 0, *cfg.Validator.MaxRetries)

	t.Setenv("VALIDATOR_MAX_RETRIES", "-1")
	cfg, err = Load("")
	require.NoError(t, err)
	cfg.Worker.Image = "ticker:latest"
	assert.Error(t, cfg.Validate())
}

func TestValidate_MinClaimAgeBelowProvisionTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("IMAGE_NAME", "ticker:latest")

	t.Setenv("RECONCILE_MIN_CLAIM_AGE", "30s")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())

	t.Setenv("RECONCILE_MIN_CLAIM_AGE", "2m")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())

	t.Setenv("RECONCILE_MIN_CLAIM_AGE", "-1s")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate(), "negative disables the window")
}
