// Package api declares the ops HTTP surface and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/starsignal/internal/domain/types"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	StatsProvider

	// RunDetection runs one detection pass and persists its findings.
	RunDetection(ctx context.Context) (types.DetectionResult, error)
	// RunCycle recalculates every entity's metrics and then runs detection.
	RunCycle(ctx context.Context) (types.DetectionResult, error)
	// Summary aggregates the active early signals.
	Summary(ctx context.Context) (types.ActiveSummary, error)
}

// Server wires HTTP routes for the ops API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	detectHandler  *DetectHandler
	summaryHandler *SummaryHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(deps),
		detectHandler:  NewDetectHandler(deps),
		summaryHandler: NewSummaryHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/summary", MetricsMiddleware(s.summaryHandler.HandleSummary, "summary"))
	mux.HandleFunc("/detect", MetricsMiddleware(s.detectHandler.HandleDetect, "detect"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
