// Package web implements the bridge's HTTP control surface: read-only
// status, manual override and release endpoints, health, metrics
// exposition, and a live event stream.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkarlsson/tunesync/internal/bridge"
	"github.com/mkarlsson/tunesync/internal/buildinfo"
)

// Controller is the slice of the reconciliation engine the HTTP
// surface needs. Keeps the web package decoupled from the engine's
// construction and lets tests substitute a fake.
type Controller interface {
	Status(ctx context.Context) ([]bridge.RoomStatus, error)
	ManualOverride(ctx context.Context, temperature float64, hours int) error
	ReleaseToSchedule(ctx context.Context) error
}

// PassReporter reports the most recent reconciliation pass. Satisfied
// by bridge.Runner; nil when running without the scheduled loop.
type PassReporter interface {
	LastPass() (bridge.PassSummary, bool)
}

// defaultOverrideHours is applied when a manual-set request omits the
// duration.
const defaultOverrideHours = 4

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		logger.Debug("failed to write error response", "error", err)
	}
}

// Server is the control API server.
type Server struct {
	address    string
	port       int
	controller Controller
	passes     PassReporter
	hub        *Hub
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
	server     *http.Server
}

// NewServer creates a control API server. passes, hub, and gatherer
// may be nil; the corresponding endpoints then degrade gracefully.
func NewServer(address string, port int, controller Controller, passes PassReporter, hub *Hub, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:    address,
		port:       port,
		controller: controller,
		passes:     passes,
		hub:        hub,
		gatherer:   gatherer,
		logger:     logger,
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /manual-set", s.handleManualSet)
	mux.HandleFunc("POST /follow-schedule", s.handleFollowSchedule)
	mux.HandleFunc("GET /health", s.handleHealth)

	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.hub != nil {
		mux.HandleFunc("GET /ws/events", s.hub.handleWS)
	}

	return mux
}

// Start serves HTTP until ctx is cancelled, then shuts down
// gracefully. It blocks.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("server shutdown", "error", err)
		}
	}()

	s.logger.Info("control API listening", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// handleStatus reports every mapped room's live source state alongside
// the last value this bridge synced. Read-only.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.controller.Status(r.Context())
	if err != nil {
		s.logger.Error("status failed", "error", err)
		writeError(w, http.StatusBadGateway, "status unavailable: "+err.Error(), s.logger)
		return
	}
	writeJSON(w, statuses, s.logger)
}

type manualSetRequest struct {
	Temperature *float64 `json:"temperature"`
	Hours       int      `json:"hours"`
}

type manualSetResponse struct {
	Accepted    bool    `json:"accepted"`
	Temperature float64 `json:"temperature"`
	Hours       int     `json:"hours"`
}

// handleManualSet pins every room to the requested temperature. The
// override bypasses the sync state store, so the next scheduled pass
// may overwrite it from source-system state; see
// [bridge.Engine.ManualOverride].
func (s *Server) handleManualSet(w http.ResponseWriter, r *http.Request) {
	var req manualSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), s.logger)
		return
	}
	if req.Temperature == nil {
		writeError(w, http.StatusBadRequest, "temperature is required", s.logger)
		return
	}
	if req.Hours == 0 {
		req.Hours = defaultOverrideHours
	}
	if req.Hours < 0 {
		writeError(w, http.StatusBadRequest, "hours must be positive", s.logger)
		return
	}

	if err := s.controller.ManualOverride(r.Context(), *req.Temperature, req.Hours); err != nil {
		s.logger.Error("manual override failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error(), s.logger)
		return
	}
	writeJSON(w, manualSetResponse{Accepted: true, Temperature: *req.Temperature, Hours: req.Hours}, s.logger)
}

// handleFollowSchedule releases every room back to its target-system
// schedule. Same store bypass as manual-set.
func (s *Server) handleFollowSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.ReleaseToSchedule(r.Context()); err != nil {
		s.logger.Error("release failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error(), s.logger)
		return
	}
	writeJSON(w, map[string]bool{"accepted": true}, s.logger)
}

// handleHealth reports liveness, build info, and the latest pass
// summary when the scheduled loop is running.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"build":  buildinfo.Info(),
	}
	if s.passes != nil {
		if last, ok := s.passes.LastPass(); ok {
			resp["last_pass"] = last
		}
	}
	writeJSON(w, resp, s.logger)
}
