// Package reconcile restores workers for claimed credentials.
// Flow: list claims → list workers → start stopped → relaunch missing
//
// A claim is never released here; orphaned claims without recorded metadata
// are reported for an operator.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ticker-provisioner/internal/container"
	"ticker-provisioner/internal/domain"
	"ticker-provisioner/internal/observability"
	"ticker-provisioner/internal/storage"
	"ticker-provisioner/internal/tracing"
)

// DefaultMinClaimAge is how old a claim must be before a missing worker is
// relaunched. It exceeds the provisioning timeout so an in-flight launch,
// image pull included, is never raced.
const DefaultMinClaimAge = 5 * time.Minute

// SpecBuilder builds the launch spec for a claimed credential.
type SpecBuilder interface {
	LaunchSpec(class domain.AssetClass, ticker, displayName string, cred *domain.Credential) container.LaunchSpec
}

// Options for creating a Reconciler.
type Options struct {
	Store        storage.CredentialStore
	Orchestrator container.Orchestrator
	Specs        SpecBuilder
	DryRun       bool          // report only, take no action
	MinClaimAge  time.Duration // zero uses DefaultMinClaimAge, negative disables the window
	Logger       zerolog.Logger
	Tracer       trace.Tracer
}

// Reconciler compares claimed credentials with running workers.
type Reconciler struct {
	store  storage.CredentialStore
	orch   container.Orchestrator
	specs  SpecBuilder
	dryRun bool
	minAge time.Duration
	now    func() time.Time
	logger zerolog.Logger
	tracer trace.Tracer
}

// New creates a new Reconciler.
func New(opts Options) *Reconciler {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = tracing.Tracer()
	}
	minAge := opts.MinClaimAge
	switch {
	case minAge == 0:
		minAge = DefaultMinClaimAge
	case minAge < 0:
		minAge = 0
	}
	return &Reconciler{
		store:  opts.Store,
		orch:   opts.Orchestrator,
		specs:  opts.Specs,
		dryRun: opts.DryRun,
		minAge: minAge,
		now:    time.Now,
		logger: opts.Logger.With().Str("component", "reconcile").Logger(),
		tracer: tracer,
	}
}

// Failure is one ticker the sweep could not repair.
type Failure struct {
	Ticker string
	Err    error
}

// Report summarizes one sweep.
type Report struct {
	Checked         int
	Healthy         int
	Started         []string // tickers whose stopped worker was started
	Relaunched      []string // tickers whose missing worker was launched
	MissingMetadata []string // claims that cannot be relaunched automatically
	Pending         []string // claims too recent to touch, a launch may be in flight
	Unclaimed       []string // worker names with no matching claim
	Failed          []Failure
	Pool            storage.PoolStats
	DryRun          bool
	Duration        time.Duration
}

// Run performs one reconciliation sweep.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "reconcile.Run", trace.WithAttributes(attribute.Bool("dry_run", r.dryRun)))
	defer span.End()

	rep, err := r.run(ctx)
	rep.Duration = time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if len(rep.Failed) > 0 {
		status = "partial"
	}
	observability.RecordReconcileRun(status, rep.Duration.Seconds(), time.Now().Unix())
	observability.RecordReconcileAction("started", len(rep.Started))
	observability.RecordReconcileAction("relaunched", len(rep.Relaunched))
	observability.RecordReconcileAction("missing_metadata", len(rep.MissingMetadata))
	observability.RecordReconcileAction("failed", len(rep.Failed))

	if err != nil {
		r.logger.Error().Err(err).Dur("duration", rep.Duration).Msg("reconcile sweep failed")
		return rep, err
	}

	level := r.logger.Info
	if len(rep.Failed) > 0 || len(rep.MissingMetadata) > 0 {
		level = r.logger.Warn
	}
	level().Int("checked", rep.Checked).
		Int("healthy", rep.Healthy).
		Int("started", len(rep.Started)).
		Int("relaunched", len(rep.Relaunched)).
		Int("missing_metadata", len(rep.MissingMetadata)).
		Int("unclaimed", len(rep.Unclaimed)).
		Int("pending", len(rep.Pending)).
		Int("failed", len(rep.Failed)).
		Bool("dry_run", r.dryRun).
		Dur("duration", rep.Duration).
		Msg("reconcile sweep finished")
	return rep, nil
}

func (r *Reconciler) run(ctx context.Context) (Report, error) {
	rep := Report{DryRun: r.dryRun}

	claimed, err := r.store.ListClaimed(ctx)
	if err != nil {
		return rep, fmt.Errorf("list claimed: %w", err)
	}
	workers, err := r.orch.List(ctx, domain.ContainerPrefix)
	if err != nil {
		return rep, fmt.Errorf("list workers: %w", err)
	}

	byName := make(map[string]domain.ContainerHandle, len(workers))
	for _, w := range workers {
		byName[w.Name] = w
	}

	for _, cred := range claimed {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Checked++
		ticker := cred.TickerOrEmpty()
		name := domain.ContainerName(ticker)

		w, ok := byName[name]
		delete(byName, name)

		switch {
		case ok && w.Running():
			rep.Healthy++

		case ok:
			if !r.dryRun {
				if err := r.orch.Start(ctx, name); err != nil {
					rep.Failed = append(rep.Failed, Failure{Ticker: ticker, Err: err})
					continue
				}
			}
			r.logger.Info().Str("ticker", ticker).Str("container", name).Str("status", w.Status).Msg("started stopped worker")
			rep.Started = append(rep.Started, ticker)

		case r.recent(cred):
			r.logger.Debug().Str("ticker", ticker).Msg("claim is recent, worker may still be launching")
			rep.Pending = append(rep.Pending, ticker)

		case cred.AssetClass == nil || cred.DisplayName == nil:
			r.logger.Warn().Str("ticker", ticker).Str("client_id", cred.ClientID).Msg("claim has no worker and no launch metadata")
			rep.MissingMetadata = append(rep.MissingMetadata, ticker)

		default:
			if !r.dryRun {
				spec := r.specs.LaunchSpec(*cred.AssetClass, ticker, *cred.DisplayName, cred)
				if _, err := r.orch.Launch(ctx, spec); err != nil && !errors.Is(err, container.ErrNameConflict) {
					rep.Failed = append(rep.Failed, Failure{Ticker: ticker, Err: err})
					continue
				}
			}
			r.logger.Info().Str("ticker", ticker).Str("container", name).Str("client_id", cred.ClientID).Msg("relaunched missing worker")
			rep.Relaunched = append(rep.Relaunched, ticker)
		}
	}

	for name := range byName {
		rep.Unclaimed = append(rep.Unclaimed, name)
	}
	sort.Strings(rep.Unclaimed)

	if stats, err := r.store.Stats(ctx); err == nil {
		rep.Pool = stats
		observability.UpdatePoolStats(stats.Claimed, stats.Available)
	}
	return rep, nil
}

// recent reports whether cred was claimed within the grace window.
// Claims without a timestamp predate the window.
func (r *Reconciler) recent(cred *domain.Credential) bool {
	if r.minAge <= 0 || cred.ClaimedAt == nil {
		return false
	}
	return r.now().Sub(time.UnixMilli(*cred.ClaimedAt)) < r.minAge
}
