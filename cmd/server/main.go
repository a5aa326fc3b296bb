// Package main runs the provisioning service:
// - HTTP API: GET /crypto/{id}, GET /stock/{id}, /health, /metrics, /status
// - Reconcile (scheduled): claimed credentials vs. running workers
// - Notifications (async): operator log and public announcements
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"ticker-provisioner/internal/allocation"
	"ticker-provisioner/internal/config"
	"ticker-provisioner/internal/container"
	"ticker-provisioner/internal/domain"
	"ticker-provisioner/internal/httpapi"
	"ticker-provisioner/internal/logging"
	"ticker-provisioner/internal/notify"
	"ticker-provisioner/internal/observability"
	"ticker-provisioner/internal/reconcile"
	"ticker-provisioner/internal/storage"
	"ticker-provisioner/internal/storage/backend"
	"ticker-provisioner/internal/tracing"
	"ticker-provisioner/internal/validator"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Server holds all components of the service.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	store      storage.CredentialStore
	docker     *container.Docker
	dispatcher *notify.Dispatcher
	service    *allocation.Service
	scheduler  *reconcile.Scheduler
	api        *httpapi.Server
}

func main() {
	// Load .env file if exists
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "dotenv: %v\n", err)
		os.Exit(1)
	}

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to YAML config file")
	listenAddr := flag.String("listen", "", "HTTP listen address (overrides config)")
	storeDSN := flag.String("store", "", "Credential store DSN (overrides config)")
	image := flag.String("image", "", "Worker container image (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (overrides config)")
	schedule := flag.String("reconcile-schedule", "", `Reconcile cron schedule, "off" disables (overrides config)`)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	override(&cfg.Server.ListenAddr, *listenAddr)
	override(&cfg.Store.DSN, *storeDSN)
	override(&cfg.Worker.Image, *image)
	override(&cfg.Log.Level, *logLevel)
	override(&cfg.Reconcile.Schedule, *schedule)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.With().Str("service", "ticker-provisioner").Logger()

	shutdownTracing, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init tracing")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	server, err := newServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Warn().Str("signal", sig.String()).Msg("second signal, forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(cfg.Server.ShutdownTimeout + 20*time.Second):
			logger.Error().Msg("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err = server.Run(ctx)
	server.Close()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if terr := shutdownTracing(flushCtx); terr != nil {
		logger.Warn().Err(terr).Msg("flush traces")
	}
	flushCancel()

	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("shutdown complete")
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// newServer wires every component from cfg.
func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	store, kind, err := backend.Open(ctx, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	s.store = store
	logger.Info().Str("backend", string(kind)).Msg("credential store ready")

	if stats, err := store.Stats(ctx); err == nil {
		observability.UpdatePoolStats(stats.Claimed, stats.Available)
		logger.Info().Int("total", stats.Total).Int("available", stats.Available).Msg("credential pool")
		if stats.Available == 0 {
			logger.Warn().Msg("credential pool has no unclaimed credentials")
		}
	}

	docker, err := container.NewDockerFromEnv(cfg.Docker.CallTimeout, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("connect to container runtime: %w", err)
	}
	s.docker = docker

	admin, public, err := newNotifiers(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.dispatcher = notify.NewDispatcher(notify.DispatcherOptions{
		QueueSize: cfg.Notify.QueueSize,
		Retries:   2,
		Logger:    logger,
	})

	s.service = allocation.New(allocation.Options{
		Store:           store,
		Validators:      newValidators(cfg),
		Orchestrator:    docker,
		Notifications:   s.dispatcher,
		Admin:           admin,
		Public:          public,
		Image:           cfg.Worker.Image,
		Network:         cfg.Worker.Network,
		RestartPolicy:   cfg.Worker.RestartPolicy,
		Defaults:        cfg.WorkerDefaults(),
		// Rate limiter waits count against the lookup too.
		ValidateTimeout: validator.Budget(cfg.Validator.Timeout, *cfg.Validator.MaxRetries) + 10*time.Second,
		Logger:          logger,
		Tracer:          tracing.Tracer(),
	})

	s.api = httpapi.New(httpapi.Options{
		Provisioner: s.service,
		Stats:       store,
		Version:     version,
		Logger:      logger,
	})

	if cfg.ReconcileEnabled() {
		r := reconcile.New(reconcile.Options{
			Store:        store,
			Orchestrator: docker,
			Specs:        s.service,
			MinClaimAge:  cfg.Reconcile.MinClaimAge,
			Logger:       logger,
			Tracer:       tracing.Tracer(),
		})
		sched, err := reconcile.NewScheduler(cfg.Reconcile.Schedule, r, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		sched.OnSweep(func(_ reconcile.Report, err error) {
			if err == nil {
				s.api.MarkReconciled(time.Now())
			}
		})
		s.scheduler = sched
	}

	return s, nil
}

func newValidators(cfg *config.Config) validator.Registry {
	opts := []validator.ClientOption{
		validator.WithTimeout(cfg.Validator.Timeout),
		validator.WithMaxRetries(*cfg.Validator.MaxRetries),
		validator.WithRateLimit(cfg.Validator.RatePerSecond, cfg.Validator.Burst),
	}
	return validator.Registry{
		domain.AssetClassCrypto: validator.NewCoinGecko(cfg.Validator.CoinGeckoURL, opts...),
		domain.AssetClassStock:  validator.NewYahoo(cfg.Validator.YahooURL, opts...),
	}
}

// newNotifiers returns the operator and public channels. Unconfigured channels are nil.
func newNotifiers(cfg *config.Config) (notify.Notifier, notify.Notifier, error) {
	httpClient := &http.Client{Timeout: 10 * time.Second}

	var admin notify.Multi
	if cfg.Notify.AdminWebhook != "" {
		admin = append(admin, notify.NewDiscordWebhook(cfg.Notify.AdminWebhook, httpClient))
	}
	if cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			Token:  cfg.Notify.TelegramToken,
			ChatID: cfg.Notify.TelegramChatID,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("telegram notifier: %w", err)
		}
		admin = append(admin, tg)
	}

	var adminN, publicN notify.Notifier
	switch len(admin) {
	case 0:
	case 1:
		adminN = admin[0]
	default:
		adminN = admin
	}
	if cfg.Notify.PublicWebhook != "" {
		publicN = notify.NewDiscordWebhook(cfg.Notify.PublicWebhook, httpClient)
	}
	return adminN, publicN, nil
}

// Run serves HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().Str("version", version).Msg("starting server")

	errCh := make(chan error, 1)

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.api.Handler(),
		ReadHeaderTimeout: s.cfg.Server.ReadTimeout,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
	}
	go func() {
		s.logger.Info().Str("addr", httpServer.Addr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.scheduler != nil {
		if s.cfg.Reconcile.OnStart {
			go s.scheduler.RunNow()
		}
		s.scheduler.Start()
	} else {
		s.logger.Info().Msg("reconcile disabled")
	}

	go trackUptime(ctx)

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-errCh:
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("http shutdown")
	}
	return runErr
}

// Close releases components in reverse start order.
func (s *Server) Close() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := s.dispatcher.Close(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("notification queue not drained")
		}
		cancel()
	}
	if s.docker != nil {
		s.docker.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}

func trackUptime(ctx context.Context) {
	const step = 10 * time.Second
	t := time.NewTicker(step)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			observability.AddUptime(step.Seconds())
		}
	}
}
