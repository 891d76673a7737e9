// Package api serves the live status endpoints of a running batch.
package api

import (
	"context"
	"net/http"

	"github.com/okian/meshrsa/pkg/metrics"
)

// Server wires the status routes.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
}

// NewServer creates a server reading batch statistics from statsProvider.
func NewServer(statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
	}
}

// Register attaches all routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.Handle("/metrics", metrics.Handler())
}
