// Package httpapi serves the read-only status surface: current
// universe, latest decisions, open positions and provider health. It
// never mutates pipeline state.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Server exposes the status endpoints.
type Server struct {
	status *StatusStore
	srv    *http.Server
}

// NewServer builds the route table over the status store. A nil
// registry skips the /metrics endpoint.
func NewServer(addr string, status *StatusStore, registry *prometheus.Registry) *Server {
	r := mux.NewRouter()
	s := &Server{status: status}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/universe", s.handleUniverse).Methods(http.MethodGet)
	r.HandleFunc("/decisions", s.handleDecisions).Methods(http.MethodGet)
	r.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("status server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("status server failed")
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler returns the route table, used directly in tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.status.Get()
	writeJSON(w, map[string]any{
		"status":          "ok",
		"last_cycle_id":   status.CycleID,
		"last_cycle_at":   status.FinishedAt,
		"degraded":        status.Degraded,
		"provider_health": status.ProviderHealth,
	})
}

func (s *Server) handleUniverse(w http.ResponseWriter, _ *http.Request) {
	status := s.status.Get()
	writeJSON(w, map[string]any{
		"cycle_id": status.CycleID,
		"degraded": status.Degraded,
		"symbols":  status.Universe,
	})
}

func (s *Server) handleDecisions(w http.ResponseWriter, _ *http.Request) {
	status := s.status.Get()
	writeJSON(w, map[string]any{
		"cycle_id":  status.CycleID,
		"decisions": status.Decisions,
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	status := s.status.Get()
	writeJSON(w, map[string]any{
		"equity":      status.Equity,
		"cash":        status.Cash,
		"realized_pl": status.RealizedPL,
		"positions":   status.Positions,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("status response encode failed")
	}
}
