// Package httpapi exposes the provisioning service over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ticker-provisioner/internal/allocation"
	"ticker-provisioner/internal/domain"
	"ticker-provisioner/internal/observability"
	"ticker-provisioner/internal/storage"
)

// Provisioner handles provisioning requests.
type Provisioner interface {
	Provision(ctx context.Context, req domain.ProvisionRequest) (allocation.Result, error)
}

// StatsSource reports credential pool occupancy.
type StatsSource interface {
	Stats(ctx context.Context) (storage.PoolStats, error)
}

// Options configures a Server.
type Options struct {
	Provisioner Provisioner
	Stats       StatsSource
	Version     string
	Logger      zerolog.Logger
}

// Server routes HTTP requests to the provisioning service.
type Server struct {
	prov    Provisioner
	stats   StatsSource
	version string
	logger  zerolog.Logger
	started time.Time

	mu            sync.Mutex
	lastReconcile time.Time
}

// New creates a new HTTP server.
func New(opts Options) *Server {
	return &Server{
		prov:    opts.Provisioner,
		stats:   opts.Stats,
		version: opts.Version,
		logger:  opts.Logger.With().Str("component", "http").Logger(),
		started: time.Now(),
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /crypto/{id}", s.handleProvision(domain.AssetClassCrypto))
	mux.HandleFunc("GET /stock/{id}", s.handleProvision(domain.AssetClassStock))

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("GET /metrics", observability.Handler())

	// Status endpoint
	mux.HandleFunc("GET /status", s.handleStatus)

	return chain(mux,
		s.recoverer,
		s.requestID,
		s.accessLog,
		headers,
	)
}

// MarkReconciled records the completion time of a reconcile sweep for /status.
func (s *Server) MarkReconciled(t time.Time) {
	s.mu.Lock()
	s.lastReconcile = t
	s.mu.Unlock()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"goto": "website"})
}

type provisionResponse struct {
	ClientID string `json:"client_id"`
	Existing bool   `json:"existing,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleProvision(class domain.AssetClass) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.prov.Provision(r.Context(), domain.ProvisionRequest{
			AssetClass: class,
			RawSymbol:  r.PathValue("id"),
		})
		if err != nil {
			var perr *allocation.Error
			if !errors.As(err, &perr) {
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
				return
			}
			writeJSON(w, statusFor(perr.Kind), errorResponse{Error: perr.Public()})
			return
		}

		writeJSON(w, http.StatusOK, provisionResponse{
			ClientID: res.ClientID,
			Existing: res.Outcome == allocation.OutcomeExisting,
		})
	}
}

// statusFor maps a failure kind to an HTTP status code.
func statusFor(kind error) int {
	switch kind {
	case allocation.ErrValidationFailure:
		return http.StatusBadRequest
	case allocation.ErrCapacityExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status        string     `json:"status"`
	Version       string     `json:"version,omitempty"`
	Uptime        string     `json:"uptime"`
	Started       time.Time  `json:"started"`
	LastReconcile *time.Time `json:"last_reconcile,omitempty"`
	Pool          *PoolJSON  `json:"pool,omitempty"`
	PoolError     string     `json:"pool_error,omitempty"`
}

// PoolJSON is the pool section of StatusResponse.
type PoolJSON struct {
	Total     int `json:"total"`
	Claimed   int `json:"claimed"`
	Available int `json:"available"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:  "running",
		Version: s.version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Started: s.started,
	}

	s.mu.Lock()
	if !s.lastReconcile.IsZero() {
		t := s.lastReconcile
		resp.LastReconcile = &t
	}
	s.mu.Unlock()

	code := http.StatusOK
	if s.stats != nil {
		stats, err := s.stats.Stats(r.Context())
		if err != nil {
			s.logger.Warn().Err(err).Msg("pool stats unavailable")
			resp.Status = "degraded"
			resp.PoolError = "store unavailable"
			code = http.StatusServiceUnavailable
		} else {
			resp.Pool = &PoolJSON{Total: stats.Total, Claimed: stats.Claimed, Available: stats.Available}
			observability.UpdatePoolStats(stats.Claimed, stats.Available)
		}
	}

	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
