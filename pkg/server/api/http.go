// Package api serves the oracle's status endpoints and the reconcile event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/StrathCole/sui-oracle/pkg/feeder/ledger"
	"github.com/StrathCole/sui-oracle/pkg/feeder/publisher"
	"github.com/StrathCole/sui-oracle/pkg/logging"
	"github.com/StrathCole/sui-oracle/pkg/metrics"
	"github.com/StrathCole/sui-oracle/pkg/version"
)

// RegistryView is the read side of the object registry.
type RegistryView interface {
	Snapshot() map[string]ledger.ObjectRef
	Dirty() bool
}

// StatusView exposes the last publish cycle.
type StatusView interface {
	LastReport() (publisher.CycleReport, bool)
}

// HaltView exposes pairs stopped by fatal chain errors.
type HaltView interface {
	HaltedPairs() map[string]error
}

// Server represents the HTTP status server.
type Server struct {
	addr        string
	registry    RegistryView
	status      StatusView
	halts       HaltView
	stream      *StreamHub
	metricsPath string
	started     time.Time
	server      *http.Server
	logger      *logging.Logger
}

// Config holds configuration for creating a Server.
type Config struct {
	Addr        string
	Registry    RegistryView
	Status      StatusView
	Halts       HaltView   // optional
	Stream      *StreamHub // optional, mounted at /v1/stream
	MetricsPath string     // empty disables /metrics on this server
	Logger      *logging.Logger
}

// NewServer creates a new status server.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNoopLogger()
	}
	return &Server{
		addr:        cfg.Addr,
		registry:    cfg.Registry,
		status:      cfg.Status,
		halts:       cfg.Halts,
		stream:      cfg.Stream,
		metricsPath: cfg.MetricsPath,
		started:     time.Now(),
		logger:      cfg.Logger,
	}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", s.instrument("/health", s.handleHealth))
	mux.Handle("/v1/registry", s.instrument("/v1/registry", s.handleRegistry))
	mux.Handle("/v1/status", s.instrument("/v1/status", s.handleStatus))
	if s.stream != nil {
		mux.Handle("/v1/stream", s.stream)
	}
	if s.metricsPath != "" {
		mux.Handle(s.metricsPath, metrics.Handler())
	}
	return mux
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		s.logger.Info("Stopping HTTP server")
		return s.server.Shutdown(ctx)
	}
	return nil
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			rec.Header().Set("Allow", "GET, HEAD")
			http.Error(rec, "method not allowed", http.StatusMethodNotAllowed)
		} else {
			h(rec, r)
		}
		metrics.RecordHTTPRequest(endpoint, strconv.Itoa(rec.code), time.Since(start))
	})
}

// handleHealth answers 200 unless a pair was halted by a fatal chain error.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.halts != nil {
		if halted := s.halts.HaltedPairs(); len(halted) > 0 {
			pairs := make([]string, 0, len(halted))
			for p := range halted {
				pairs = append(pairs, p)
			}
			sort.Strings(pairs)
			http.Error(w, fmt.Sprintf("halted: %v", pairs), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type registryResponse struct {
	Entries map[string]ledger.ObjectRef `json:"entries"`
	Dirty   bool                        `json:"dirty"`
}

func (s *Server) handleRegistry(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, registryResponse{
		Entries: s.registry.Snapshot(),
		Dirty:   s.registry.Dirty(),
	})
}

type statusResponse struct {
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	LastCycle *publisher.CycleReport `json:"last_cycle,omitempty"`
	Halted    map[string]string      `json:"halted,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Version: version.Version,
		Uptime:  time.Since(s.started).Truncate(time.Second).String(),
	}
	if report, ok := s.status.LastReport(); ok {
		resp.LastCycle = &report
	}
	if s.halts != nil {
		for pair, err := range s.halts.HaltedPairs() {
			if resp.Halted == nil {
				resp.Halted = make(map[string]string)
			}
			resp.Halted[pair] = err.Error()
		}
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// sendJSON sends a JSON response.
func (s *Server) sendJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}
