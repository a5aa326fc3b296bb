// Command poolctl administers the credential pool and worker containers.
//
//	poolctl seed <file.csv>        import credentials (re-runnable)
//	poolctl list [-json]           show claimed credentials and pool stats
//	poolctl reconcile [-dry-run] [-min-claim-age d]   run one reconcile sweep
//	poolctl stop <ticker>          stop the worker for a ticker
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"ticker-provisioner/internal/allocation"
	"ticker-provisioner/internal/config"
	"ticker-provisioner/internal/container"
	"ticker-provisioner/internal/domain"
	"ticker-provisioner/internal/logging"
	"ticker-provisioner/internal/reconcile"
	"ticker-provisioner/internal/storage"
	"ticker-provisioner/internal/storage/backend"
	"ticker-provisioner/internal/storage/seed"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fatalf("dotenv: %v", err)
	}

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to YAML config file")
	storeDSN := flag.String("store", "", "Credential store DSN (overrides config)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("config: %v", err)
	}
	if *storeDSN != "" {
		cfg.Store.DSN = *storeDSN
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})
	if err != nil {
		fatalf("logger: %v", err)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	store, _, err := backend.Open(ctx, cfg.Store.DSN)
	if err != nil {
		fatalf("open credential store: %v", err)
	}
	defer store.Close()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "seed":
		err = runSeed(ctx, store, args)
	case "list":
		err = runList(ctx, store, args)
	case "reconcile":
		err = runReconcile(ctx, cfg, store, logger, args)
	case "stop":
		err = runStop(ctx, cfg, logger, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		store.Close()
		fatalf("%s: %v", cmd, err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: poolctl [-config file] [-store dsn] <command> [args]

commands:
  seed <file.csv>       import client_id,token[,ticker,asset_class,display_name] rows
  list [-json]          show claimed credentials and pool stats
  reconcile [-dry-run]  run one reconcile sweep against the container runtime
  stop <ticker>         stop the worker container for a ticker
`)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "poolctl: "+format+"\n", args...)
	os.Exit(1)
}

func runSeed(ctx context.Context, store storage.CredentialStore, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected one csv file")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	creds, err := seed.Parse(f)
	if err != nil {
		return err
	}
	res, err := seed.Load(ctx, store, creds)
	if err != nil {
		return err
	}
	fmt.Printf("inserted %d, skipped %d existing\n", res.Inserted, res.Skipped)
	return nil
}

// listOutput is the JSON form of the list command.
type listOutput struct {
	Pool    storage.PoolStats `json:"pool"`
	Claimed []claimedJSON     `json:"claimed"`
}

type claimedJSON struct {
	Ticker      string `json:"ticker"`
	ClientID    string `json:"client_id"`
	AssetClass  string `json:"asset_class,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	ClaimedAt   string `json:"claimed_at,omitempty"`
	Container   string `json:"container"`
}

func runList(ctx context.Context, store storage.CredentialStore, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Output as JSON")
	fs.Parse(args)

	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	claimed, err := store.ListClaimed(ctx)
	if err != nil {
		return err
	}

	out := listOutput{Pool: stats, Claimed: make([]claimedJSON, 0, len(claimed))}
	for _, c := range claimed {
		row := claimedJSON{
			Ticker:    c.TickerOrEmpty(),
			ClientID:  c.ClientID,
			Container: domain.ContainerName(c.TickerOrEmpty()),
		}
		if c.AssetClass != nil {
			row.AssetClass = string(*c.AssetClass)
		}
		if c.DisplayName != nil {
			row.DisplayName = *c.DisplayName
		}
		if c.ClaimedAt != nil {
			row.ClaimedAt = time.UnixMilli(*c.ClaimedAt).UTC().Format(time.RFC3339)
		}
		out.Claimed = append(out.Claimed, row)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("pool: %d total, %d claimed, %d available\n\n", stats.Total, stats.Claimed, stats.Available)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TICKER\tCLASS\tCLIENT ID\tCONTAINER\tCLAIMED AT")
	for _, r := range out.Claimed {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Ticker, r.AssetClass, r.ClientID, r.Container, r.ClaimedAt)
	}
	return w.Flush()
}

func runReconcile(ctx context.Context, cfg *config.Config, store storage.CredentialStore, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "Report only, take no action")
	minAge := fs.Duration("min-claim-age", cfg.Reconcile.MinClaimAge, "Skip claims younger than this, negative checks every claim")
	fs.Parse(args)

	if err := cfg.Validate(); err != nil {
		return err
	}
	docker, err := container.NewDockerFromEnv(cfg.Docker.CallTimeout, logger)
	if err != nil {
		return err
	}
	defer docker.Close()

	// Only LaunchSpec is used; validation and notifications stay unset.
	specs := allocation.New(allocation.Options{
		Store:         store,
		Orchestrator:  docker,
		Image:         cfg.Worker.Image,
		Network:       cfg.Worker.Network,
		RestartPolicy: cfg.Worker.RestartPolicy,
		Defaults:      cfg.WorkerDefaults(),
		Logger:        logger,
	})

	rep, err := reconcile.New(reconcile.Options{
		Store:        store,
		Orchestrator: docker,
		Specs:        specs,
		DryRun:       *dryRun,
		MinClaimAge:  *minAge,
		Logger:       logger,
	}).Run(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reportJSON(rep)); err != nil {
		return err
	}
	if len(rep.Failed) > 0 {
		return fmt.Errorf("%d workers could not be repaired", len(rep.Failed))
	}
	return nil
}

func reportJSON(rep reconcile.Report) map[string]any {
	failed := make(map[string]string, len(rep.Failed))
	for _, f := range rep.Failed {
		failed[f.Ticker] = f.Err.Error()
	}
	return map[string]any{
		"dry_run":          rep.DryRun,
		"checked":          rep.Checked,
		"healthy":          rep.Healthy,
		"started":          rep.Started,
		"relaunched":       rep.Relaunched,
		"missing_metadata": rep.MissingMetadata,
		"pending":          rep.Pending,
		"unclaimed":        rep.Unclaimed,
		"failed":           failed,
		"pool":             rep.Pool,
		"duration":         rep.Duration.String(),
	}
}

func runStop(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected one ticker")
	}
	docker, err := container.NewDockerFromEnv(cfg.Docker.CallTimeout, logger)
	if err != nil {
		return err
	}
	defer docker.Close()

	name := domain.ContainerName(args[0])
	if err := docker.Stop(ctx, name); err != nil {
		return err
	}
	// The credential stays claimed, so the next reconcile sweep starts it again.
	fmt.Printf("stopped %s\n", name)
	return nil
}
