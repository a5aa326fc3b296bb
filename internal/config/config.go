// Package config loads service configuration from an optional YAML file,
// a .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ticker-provisioner/internal/allocation"
	"ticker-provisioner/internal/container"
	"ticker-provisioner/internal/logging"
	"ticker-provisioner/internal/reconcile"
	"ticker-provisioner/internal/validator"
)

// ScheduleOff disables the reconcile scheduler.
const ScheduleOff = "off"

// Config holds all application configuration.
type Config struct {
	Server struct {
		ListenAddr      string        `yaml:"listen_addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Store struct {
		DSN string `yaml:"dsn"` // memory:, postgres://..., sqlite:<path> or a bare path
	} `yaml:"store"`
	Worker struct {
		Image         string `yaml:"image"`
		Network       string `yaml:"network"`
		RestartPolicy string `yaml:"restart_policy"`
		Frequency     int    `yaml:"frequency"`
		Timezone      string `yaml:"timezone"`
		CacheURL      string `yaml:"cache_url"`
	} `yaml:"worker"`
	Docker struct {
		CallTimeout time.Duration `yaml:"call_timeout"`
	} `yaml:"docker"`
	Validator struct {
		CoinGeckoURL  string        `yaml:"coingecko_url"`
		YahooURL      string        `yaml:"yahoo_url"`
		Timeout       time.Duration `yaml:"timeout"`
		MaxRetries    *int          `yaml:"max_retries"` // nil uses the default, zero disables retries
		RatePerSecond float64       `yaml:"rate_per_second"`
		Burst         int           `yaml:"burst"`
	} `yaml:"validator"`
	Notify struct {
		AdminWebhook   string `yaml:"admin_webhook"`
		PublicWebhook  string `yaml:"public_webhook"`
		TelegramToken  string `yaml:"telegram_token"`
		TelegramChatID int64  `yaml:"telegram_chat_id"`
		QueueSize      int    `yaml:"queue_size"`
	} `yaml:"notify"`
	Reconcile struct {
		Schedule string `yaml:"schedule"` // cron spec, "off" disables
		OnStart  bool   `yaml:"on_start"`
		// MinClaimAge keeps the sweep away from claims whose launch may still be running.
		MinClaimAge time.Duration `yaml:"min_claim_age"`
	} `yaml:"reconcile"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Tracing struct {
		Enabled     bool   `yaml:"enabled"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"tracing"`
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. An empty or missing path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	e := &envReader{}

	e.setString("LISTEN_ADDR", &c.Server.ListenAddr)
	e.setDuration("HTTP_READ_TIMEOUT", &c.Server.ReadTimeout)
	e.setDuration("HTTP_WRITE_TIMEOUT", &c.Server.WriteTimeout)
	e.setDuration("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	// DATABASE_URL wins over the legacy sqlite DB_PATH.
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Store.DSN = "sqlite:" + v
	}
	e.setString("DATABASE_URL", &c.Store.DSN)

	e.setString("IMAGE_NAME", &c.Worker.Image)
	e.setString("WORKER_NETWORK", &c.Worker.Network)
	e.setString("WORKER_RESTART_POLICY", &c.Worker.RestartPolicy)
	e.setInt("WORKER_FREQUENCY", &c.Worker.Frequency)
	e.setString("WORKER_TZ", &c.Worker.Timezone)
	e.setString("WORKER_CACHE_URL", &c.Worker.CacheURL)

	e.setDuration("DOCKER_TIMEOUT", &c.Docker.CallTimeout)

	e.setString("COINGECKO_URL", &c.Validator.CoinGeckoURL)
	e.setString("YAHOO_URL", &c.Validator.YahooURL)
	e.setDuration("VALIDATOR_TIMEOUT", &c.Validator.Timeout)
	e.setIntPtr("VALIDATOR_MAX_RETRIES", &c.Validator.MaxRetries)
	e.setFloat("VALIDATOR_RATE", &c.Validator.RatePerSecond)
	e.setInt("VALIDATOR_BURST", &c.Validator.Burst)

	e.setString("DISCORD_ADMIN_WEBHOOK", &c.Notify.AdminWebhook)
	e.setString("DISCORD_WEBHOOK", &c.Notify.PublicWebhook)
	e.setString("TELEGRAM_BOT_TOKEN", &c.Notify.TelegramToken)
	e.setInt64("TELEGRAM_CHAT_ID", &c.Notify.TelegramChatID)
	e.setInt("NOTIFY_QUEUE_SIZE", &c.Notify.QueueSize)

	e.setString("RECONCILE_SCHEDULE", &c.Reconcile.Schedule)
	e.setBool("RECONCILE_ON_START", &c.Reconcile.OnStart)
	e.setDuration("RECONCILE_MIN_CLAIM_AGE", &c.Reconcile.MinClaimAge)

	e.setString("LOG_LEVEL", &c.Log.Level)
	e.setString("LOG_FORMAT", &c.Log.Format)

	e.setBool("TRACING_ENABLED", &c.Tracing.Enabled)
	e.setString("TRACING_SERVICE_NAME", &c.Tracing.ServiceName)

	return errors.Join(e.errs...)
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		// Provisioning waits on validation and the container runtime.
		c.Server.WriteTimeout = 3 * time.Minute
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Store.DSN == "" {
		c.Store.DSN = "sqlite:data/bots.db"
	}

	d := container.DefaultWorkerDefaults()
	if c.Worker.Frequency == 0 {
		c.Worker.Frequency = d.Frequency
	}
	if c.Worker.Timezone == "" {
		c.Worker.Timezone = d.Timezone
	}
	if c.Worker.CacheURL == "" {
		c.Worker.CacheURL = d.CacheURL
	}
	if c.Docker.CallTimeout == 0 {
		c.Docker.CallTimeout = container.DefaultCallTimeout
	}

	if c.Validator.CoinGeckoURL == "" {
		c.Validator.CoinGeckoURL = validator.DefaultCoinGeckoURL
	}
	if c.Validator.YahooURL == "" {
		c.Validator.YahooURL = validator.DefaultYahooURL
	}
	if c.Validator.Timeout == 0 {
		c.Validator.Timeout = validator.DefaultTimeout
	}
	if c.Validator.MaxRetries == nil {
		n := validator.DefaultMaxRetries
		c.Validator.MaxRetries = &n
	}
	if c.Validator.RatePerSecond == 0 {
		// CoinGecko's public tier allows roughly thirty calls a minute. Negative disables.
		c.Validator.RatePerSecond = 0.5
	}
	if c.Validator.Burst == 0 {
		c.Validator.Burst = 5
	}

	if c.Reconcile.Schedule == "" {
		c.Reconcile.Schedule = reconcile.DefaultSchedule
	}
	if c.Reconcile.MinClaimAge == 0 {
		c.Reconcile.MinClaimAge = reconcile.DefaultMinClaimAge
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = logging.FormatConsole
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "ticker-provisioner"
	}
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Worker.Image == "" {
		return fmt.Errorf("worker.image (IMAGE_NAME) is required")
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn (DATABASE_URL or DB_PATH) is required")
	}
	if c.Worker.Frequency <= 0 {
		return fmt.Errorf("worker.frequency must be positive")
	}
	switch c.Worker.RestartPolicy {
	case "", container.RestartNo, container.RestartAlways, container.RestartUnlessStopped, container.RestartOnFailure:
	default:
		return fmt.Errorf("worker.restart_policy %q is not supported", c.Worker.RestartPolicy)
	}
	if c.Validator.Timeout <= 0 {
		return fmt.Errorf("validator.timeout must be positive")
	}
	if c.Validator.MaxRetries != nil && *c.Validator.MaxRetries < 0 {
		return fmt.Errorf("validator.max_retries must not be negative")
	}
	// A shorter window lets the sweep relaunch a worker whose launch is still running.
	if c.Reconcile.MinClaimAge > 0 && c.Reconcile.MinClaimAge < allocation.DefaultProvisionTimeout {
		return fmt.Errorf("reconcile.min_claim_age must be at least %s or negative", allocation.DefaultProvisionTimeout)
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == 0) {
		return fmt.Errorf("notify.telegram_token and notify.telegram_chat_id must be set together")
	}
	switch strings.ToLower(c.Log.Format) {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		return fmt.Errorf("log.format %q must be console or json", c.Log.Format)
	}
	return nil
}

// ReconcileEnabled reports whether the periodic sweep should run.
func (c *Config) ReconcileEnabled() bool {
	s := strings.TrimSpace(strings.ToLower(c.Reconcile.Schedule))
	return s != "" && s != ScheduleOff
}

// WorkerDefaults returns the shared worker environment settings.
func (c *Config) WorkerDefaults() container.Defaults {
	return container.Defaults{
		Frequency: c.Worker.Frequency,
		Timezone:  c.Worker.Timezone,
		CacheURL:  c.Worker.CacheURL,
	}
}

// envReader applies environment overrides and collects parse errors.
type envReader struct {
	errs []error
}

func (e *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

// setIntPtr keeps an explicit zero distinguishable from an unset key.
func (e *envReader) setIntPtr(key string, dst **int) {
	if _, ok := e.lookup(key); ok {
		var n int
		before := len(e.errs)
		e.setInt(key, &n)
		if len(e.errs) == before {
			*dst = &n
		}
	}
}

func (e *envReader) setInt64(key string, dst *int64) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) setFloat(key string, dst *float64) {
	if v, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			// Bare integers are read as seconds.
			if n, nerr := strconv.Atoi(v); nerr == nil {
				*dst = time.Duration(n) * time.Second
				return
			}
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}
