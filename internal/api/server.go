// internal/api/server.go
// Package api exposes the local control endpoint: manual job triggers
// and a health probe. It is an operator surface, not a public one; the
// default bind address is loopback.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/gleaner/api/schemas"
	"github.com/xkilldash9x/gleaner/internal/config"
)

// Triggerer starts a job outside its schedule.
type Triggerer interface {
	TriggerManual(ctx context.Context, jobID string) error
}

// HealthSource reports scheduler and run-tracker occupancy for the
// health payload.
type HealthSource interface {
	ScheduledCount() int
	Active() []schemas.RunState
}

// Server is the control-plane HTTP server.
type Server struct {
	triggerer Triggerer
	health    HealthSource
	limiter   *rate.Limiter
	logger    *zap.Logger
	httpSrv   *http.Server
}

// NewServer wires the endpoint handlers. The limiter guards triggers
// process-wide: a runaway caller must not turn the manual path into a
// scheduler bypass.
func NewServer(cfg config.APIConfig, triggerer Triggerer, health HealthSource, logger *zap.Logger) *Server {
	s := &Server{
		triggerer: triggerer,
		health:    health,
		limiter:   rate.NewLimiter(rate.Limit(cfg.TriggerPerMin/60.0), cfg.TriggerBurst),
		logger:    logger.Named("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs/{id}/trigger", s.handleTrigger)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.httpSrv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Control API listening.", zap.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}

	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "trigger rate exceeded")
		return
	}

	err := s.triggerer.TriggerManual(r.Context(), jobID)
	switch {
	case err == nil:
		s.logger.Info("Manual trigger dispatched.", zap.String("job_id", jobID))
		writeJSON(w, http.StatusAccepted, map[string]any{"started": true})
	case errors.Is(err, schemas.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "already running")
	case errors.Is(err, schemas.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, schemas.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("Manual trigger failed.",
			zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "trigger failed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	active := s.health.Active()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"scheduled_jobs": s.health.ScheduledCount(),
		"active_runs":    len(active),
		"runs":           active,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Headers are gone; nothing left to do but note it.
		zap.L().Debug("Failed to encode API response.", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
