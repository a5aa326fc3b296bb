// Package allocation provisions ticker bots: validate, claim or reuse a
// credential, launch the worker, notify.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"ticker-provisioner/internal/container"
	"ticker-provisioner/internal/domain"
	"ticker-provisioner/internal/logging"
	"ticker-provisioner/internal/notify"
	"ticker-provisioner/internal/observability"
	"ticker-provisioner/internal/storage"
	"ticker-provisioner/internal/tracing"
	"ticker-provisioner/internal/validator"
)

// DefaultProvisionTimeout bounds the claim and launch steps of one request.
const DefaultProvisionTimeout = 2 * time.Minute

// DefaultValidateTimeout bounds symbol validation, rate limiter waits included.
var DefaultValidateTimeout = validator.Budget(validator.DefaultTimeout, validator.DefaultMaxRetries) + 10*time.Second

// Outcome is the successful terminal state of a request.
type Outcome string

const (
	// OutcomeCreated means a credential was claimed and a worker launched.
	OutcomeCreated Outcome = "created"
	// OutcomeExisting means the ticker was already provisioned.
	OutcomeExisting Outcome = "existing"
)

// Result is a successful provisioning response.
type Result struct {
	Outcome   Outcome
	ClientID  string
	Ticker    string
	Container domain.ContainerHandle // set for OutcomeCreated
}

// Notifications accepts fire-and-forget messages.
type Notifications interface {
	Enqueue(to notify.Notifier, msg notify.Message) bool
}

// Options configures a Service.
type Options struct {
	Store         storage.CredentialStore
	Validators    validator.Registry
	Orchestrator  container.Orchestrator
	Notifications Notifications   // nil disables notifications
	Admin         notify.Notifier // operator channel, nil disables
	Public        notify.Notifier // announcement channel, nil disables
	Image         string
	Network       string
	RestartPolicy string
	Defaults      container.Defaults
	Timeout       time.Duration
	// ValidateTimeout bounds the provider lookup. Zero uses DefaultValidateTimeout.
	ValidateTimeout time.Duration
	Logger          zerolog.Logger
	Tracer          trace.Tracer
}

// Service runs the provisioning workflow.
type Service struct {
	store   storage.CredentialStore
	valid   validator.Registry
	orch    container.Orchestrator
	notes   Notifications
	admin   notify.Notifier
	public  notify.Notifier
	image   string
	network string
	restart string
	env     container.Defaults
	timeout time.Duration
	vtime   time.Duration
	logger  zerolog.Logger
	tracer  trace.Tracer

	group singleflight.Group
}

// New creates a new provisioning service.
func New(opts Options) *Service {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultProvisionTimeout
	}
	vtime := opts.ValidateTimeout
	if vtime <= 0 {
		vtime = DefaultValidateTimeout
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = tracing.Tracer()
	}
	return &Service{
		store:   opts.Store,
		valid:   opts.Validators,
		orch:    opts.Orchestrator,
		notes:   opts.Notifications,
		admin:   opts.Admin,
		public:  opts.Public,
		image:   opts.Image,
		network: opts.Network,
		restart: opts.RestartPolicy,
		env:     opts.Defaults,
		timeout: timeout,
		vtime:   vtime,
		logger:  opts.Logger.With().Str("component", "allocation").Logger(),
		tracer:  tracer,
	}
}

// Provision handles one request. Failures are returned as *Error.
func (s *Service) Provision(ctx context.Context, req domain.ProvisionRequest) (Result, error) {
	start := time.Now()
	log := logging.ForRequest(ctx, s.logger).With().
		Str("asset_class", req.AssetClass.String()).
		Str("symbol", req.RawSymbol).
		Logger()

	ctx, span := s.tracer.Start(ctx, "allocation.Provision", trace.WithAttributes(
		attribute.String("asset_class", req.AssetClass.String()),
		attribute.String("symbol", req.RawSymbol),
	))
	defer span.End()
	if id := tracing.TraceID(ctx); id != "" {
		log = log.With().Str("trace_id", id).Logger()
	}

	res, err := s.provision(ctx, req, log)

	elapsed := time.Since(start)
	outcome := string(res.Outcome)
	var perr *Error
	if errors.As(err, &perr) {
		outcome = outcomeLabel(perr.Kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	observability.RecordProvision(req.AssetClass.String(), outcome, elapsed.Seconds())

	var ev *zerolog.Event
	switch {
	case perr == nil:
		ev = log.Info().Str("client_id", res.ClientID).Str("ticker", res.Ticker)
	case perr.Kind == ErrProvisionFailure || perr.Kind == ErrStoreUnavailable:
		ev = log.Error().Err(perr.Err).Str("client_id", perr.ClientID)
	default:
		ev = log.Warn().Err(perr.Err)
	}
	ev.Str("outcome", outcome).Dur("duration", elapsed).Msg("provision request finished")

	return res, err
}

func (s *Service) provision(ctx context.Context, req domain.ProvisionRequest, log zerolog.Logger) (Result, error) {
	fail := func(kind error, cause error) error {
		return &Error{Kind: kind, AssetClass: req.AssetClass, Symbol: req.RawSymbol, Err: cause}
	}

	if !req.AssetClass.IsValid() {
		return Result{}, fail(ErrValidationFailure, fmt.Errorf("unknown asset class %q", req.AssetClass))
	}

	vctx, cancel := context.WithTimeout(ctx, s.vtime)
	sym, err := s.valid.Validate(vctx, req.AssetClass, req.RawSymbol)
	cancel()
	if err != nil {
		s.adminLog("unable to validate %s id: %s", idNoun(req.AssetClass), req.RawSymbol)
		return Result{}, fail(ErrValidationFailure, err)
	}
	ticker := domain.NormalizeTicker(sym.ID)
	sym.ID = ticker

	// Identical in-flight requests share one claim and launch. The shared work
	// must outlive any single caller's cancellation.
	key := req.AssetClass.String() + ":" + ticker
	leader := false
	v, err, shared := s.group.Do(key, func() (any, error) {
		leader = true
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.allocate(wctx, req, sym, log)
	})
	if shared && !leader {
		log.Debug().Str("ticker", ticker).Msg("coalesced with in-flight request")
	}
	if err != nil {
		var perr *Error
		if errors.As(err, &perr) {
			// Report the caller's own raw symbol.
			cp := *perr
			cp.Symbol = req.RawSymbol
			return Result{}, &cp
		}
		return Result{}, fail(ErrStoreUnavailable, err)
	}

	res := v.(Result)
	if !leader && res.Outcome == OutcomeCreated {
		// Only the leader launched the worker; followers observe it as existing.
		res.Outcome = OutcomeExisting
		res.Container = domain.ContainerHandle{}
	}
	return res, nil
}

func (s *Service) allocate(ctx context.Context, req domain.ProvisionRequest, sym domain.ValidatedSymbol, log zerolog.Logger) (Result, error) {
	fail := func(kind error, clientID string, cause error) error {
		return &Error{Kind: kind, AssetClass: req.AssetClass, Symbol: req.RawSymbol, ClientID: clientID, Err: cause}
	}
	ticker := sym.ID

	existing, err := s.store.FindClaim(ctx, ticker)
	switch {
	case err == nil:
		s.adminLog("existing bot requested: %s", req.RawSymbol)
		return Result{Outcome: OutcomeExisting, ClientID: existing.ClientID, Ticker: ticker}, nil
	case !errors.Is(err, storage.ErrNotFound):
		return Result{}, fail(ErrStoreUnavailable, "", err)
	}

	cred, err := s.store.ClaimUnused(ctx, storage.Claim{
		Ticker:      ticker,
		AssetClass:  req.AssetClass,
		DisplayName: sym.DisplayName,
	})
	switch {
	case errors.Is(err, storage.ErrPoolExhausted):
		// A competing claim for the same ticker may hold the last free row.
		if winner, ferr := s.store.FindClaim(ctx, ticker); ferr == nil {
			s.adminLog("existing bot requested: %s", req.RawSymbol)
			return Result{Outcome: OutcomeExisting, ClientID: winner.ClientID, Ticker: ticker}, nil
		}
		s.adminLog("no more new bots available")
		return Result{}, fail(ErrCapacityExhausted, "", err)
	case errors.Is(err, storage.ErrAlreadyClaimed):
		// Another process won the race for this ticker.
		winner, ferr := s.store.FindClaim(ctx, ticker)
		if ferr != nil {
			return Result{}, fail(ErrStoreUnavailable, "", ferr)
		}
		s.adminLog("existing bot requested: %s", req.RawSymbol)
		return Result{Outcome: OutcomeExisting, ClientID: winner.ClientID, Ticker: ticker}, nil
	case err != nil:
		return Result{}, fail(ErrStoreUnavailable, "", err)
	}

	s.adminLog("attempting to create new bot: %s", req.RawSymbol)

	spec := s.LaunchSpec(req.AssetClass, ticker, sym.DisplayName, cred)
	handle, err := s.orch.Launch(ctx, spec)
	if err != nil {
		if errors.Is(err, container.ErrNameConflict) {
			log.Error().Str("container", spec.Name).Str("client_id", cred.ClientID).
				Msg("worker name already in use by an unclaimed container")
		}
		log.Error().Err(err).Str("client_id", cred.ClientID).Str("ticker", ticker).
			Msg("worker launch failed, credential left claimed")
		s.adminLog("unable to create bot: %s (client_id %s left claimed)", ticker, cred.ClientID)
		return Result{}, fail(ErrProvisionFailure, cred.ClientID, err)
	}

	s.adminLog("New %s bot: %s %s %s %s", strings.ToLower(req.AssetClass.String()), ticker, sym.DisplayName, handle.Name, handle.Status)
	s.enqueue(s.admin, notify.AdminLaunch(notify.LaunchInfo{
		Ticker:        ticker,
		ContainerName: spec.Name,
		Image:         spec.Image,
		ClientID:      cred.ClientID,
		Env:           spec.Env,
		SecretKeys:    []string{container.EnvToken},
	}))
	s.enqueue(s.public, notify.Announcement(ticker, cred.ClientID))

	return Result{Outcome: OutcomeCreated, ClientID: cred.ClientID, Ticker: ticker, Container: handle}, nil
}

// LaunchSpec builds the worker container spec for a claimed credential.
func (s *Service) LaunchSpec(class domain.AssetClass, ticker, displayName string, cred *domain.Credential) container.LaunchSpec {
	return container.LaunchSpec{
		Name:  domain.ContainerName(ticker),
		Image: s.image,
		Env: container.WorkerEnv(container.EnvParams{
			AssetClass:  class,
			Ticker:      ticker,
			DisplayName: displayName,
			Token:       cred.Token,
			Defaults:    s.env,
		}),
		Labels:        container.WorkerLabels(ticker, cred.ClientID, class),
		Network:       s.network,
		RestartPolicy: s.restart,
	}
}

func (s *Service) adminLog(format string, args ...any) {
	s.enqueue(s.admin, notify.AdminLog(fmt.Sprintf(format, args...)))
}

func (s *Service) enqueue(to notify.Notifier, msg notify.Message) {
	if s.notes == nil || to == nil {
		return
	}
	if !s.notes.Enqueue(to, msg) {
		s.logger.Warn().Str("title", msg.Title).Msg("notification dropped")
	}
}

func idNoun(class domain.AssetClass) string {
	if class == domain.AssetClassStock {
		return "stock"
	}
	return "coin"
}
