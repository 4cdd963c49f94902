// internal/surface/manager.go
// Package surface owns the dedicated-tab-per-job registry: creation,
// reuse, origin validation, reload, and load-completion waits. At most
// one surface exists per job at any time, and only the loop owning that
// job's run may touch it.
package surface

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gleaner/api/schemas"
	"github.com/xkilldash9x/gleaner/internal/config"
	"github.com/xkilldash9x/gleaner/internal/executor"
)

// Surface binds a job to its live tab and exposes the two operations
// the execution loop needs: performing a tool call and capturing a
// snapshot.
type Surface struct {
	id     string
	jobID  string
	tab    Tab
	exec   *executor.Executor
	logger *zap.Logger
}

// ID returns the surface handle.
func (s *Surface) ID() string { return s.id }

// Execute performs one primitive action on this surface. Always returns
// outcome text, never an error; see the executor package contract.
func (s *Surface) Execute(ctx context.Context, call schemas.ToolCall) string {
	return s.exec.Perform(ctx, s.tab, s.jobID, call)
}

// CaptureSnapshot takes a screenshot plus the viewport it was measured
// at. Returns nil rather than an error when capture fails (for example
// the tab lost its window); the run continues without a fresh image.
func (s *Surface) CaptureSnapshot(ctx context.Context) *schemas.Snapshot {
	vp, err := s.tab.Viewport(ctx)
	if err != nil {
		s.logger.Warn("Snapshot skipped, viewport unavailable.", zap.Error(err))
		return nil
	}
	img, err := s.tab.CaptureScreenshot(ctx)
	if err != nil {
		s.logger.Warn("Snapshot skipped, capture failed.", zap.Error(err))
		return nil
	}
	return &schemas.Snapshot{
		ImageBase64: base64.StdEncoding.EncodeToString(img),
		Viewport:    vp,
	}
}

// Manager is the per-job surface registry.
type Manager struct {
	driver Driver
	exec   *executor.Executor
	logger *zap.Logger

	pollInterval time.Duration
	loadTimeout  time.Duration
	settleDelay  time.Duration

	mu       sync.Mutex
	surfaces map[string]*Surface // keyed by job ID
}

// NewManager creates the registry around a driver.
func NewManager(driver Driver, exec *executor.Executor, cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		driver:       driver,
		exec:         exec,
		logger:       logger.Named("surface_manager"),
		pollInterval: cfg.LoadPollInterval,
		loadTimeout:  cfg.LoadTimeout,
		settleDelay:  cfg.SettleDelay,
		surfaces:     make(map[string]*Surface),
	}
}

// Ensure returns a ready surface for the job. An existing surface is
// reused only when its tab still exists and its current origin matches
// the target's origin; it is then reloaded at the target address.
// Anything else (missing, dead, origin mismatch) discards the stale
// entry and creates a fresh background tab.
func (m *Manager) Ensure(ctx context.Context, jobID, targetURL string) (*Surface, error) {
	targetOrigin, err := Origin(targetURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schemas.ErrSurfaceCreation, err)
	}

	m.mu.Lock()
	existing := m.surfaces[jobID]
	m.mu.Unlock()

	if existing != nil {
		if m.reusable(ctx, existing, targetOrigin) {
			if err := existing.tab.Navigate(ctx, targetURL); err == nil {
				if err := m.waitReady(ctx, existing.tab); err != nil {
					m.discard(ctx, existing)
					return nil, err
				}
				m.logger.Debug("Surface reused.",
					zap.String("job_id", jobID),
					zap.String("surface_id", existing.id))
				return existing, nil
			}
			m.logger.Warn("Surface reload failed, recreating.",
				zap.String("job_id", jobID),
				zap.String("surface_id", existing.id))
		}
		m.discard(ctx, existing)
	}

	tab, err := m.driver.NewTab(ctx, targetURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schemas.ErrSurfaceCreation, err)
	}

	s := &Surface{
		id:     uuid.New().String()[:8],
		jobID:  jobID,
		tab:    tab,
		exec:   m.exec,
		logger: m.logger.With(zap.String("job_id", jobID)),
	}

	m.mu.Lock()
	m.surfaces[jobID] = s
	m.mu.Unlock()

	if err := m.waitReady(ctx, tab); err != nil {
		m.discard(ctx, s)
		return nil, err
	}

	m.logger.Info("Surface created.",
		zap.String("job_id", jobID),
		zap.String("surface_id", s.id),
		zap.String("target", targetURL))
	return s, nil
}

// reusable checks existence and origin equality.
func (m *Manager) reusable(ctx context.Context, s *Surface, targetOrigin string) bool {
	if !s.tab.Alive(ctx) {
		return false
	}
	current, err := s.tab.CurrentURL(ctx)
	if err != nil {
		return false
	}
	origin, err := Origin(current)
	if err != nil {
		return false
	}
	return origin == targetOrigin
}

// waitReady polls document readiness at a fixed interval until
// "complete" or the load timeout elapses, then sleeps a small settle
// buffer so late-firing page scripts finish. Timeout is fatal.
func (m *Manager) waitReady(ctx context.Context, tab Tab) error {
	deadline := time.Now().Add(m.loadTimeout)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		var state string
		if err := tab.Evaluate(ctx, "document.readyState", &state); err == nil && state == "complete" {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: page not ready after %s", schemas.ErrSurfaceLoadTimeout, m.loadTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	if m.settleDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.settleDelay):
		}
	}
	return nil
}

// Release closes and deregisters the job's surface, best effort: a
// close failure is logged and the entry is removed anyway so a stuck
// tab never permanently blocks future scheduling. Callers pair this
// with the run tracker release in their cleanup path.
func (m *Manager) Release(jobID string) {
	m.mu.Lock()
	s := m.surfaces[jobID]
	delete(m.surfaces, jobID)
	m.mu.Unlock()

	if s == nil {
		return
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.tab.Close(closeCtx); err != nil {
		m.logger.Warn("Surface close failed; deregistered anyway.",
			zap.String("job_id", jobID),
			zap.String("surface_id", s.id),
			zap.Error(err))
		return
	}
	m.logger.Debug("Surface released.",
		zap.String("job_id", jobID),
		zap.String("surface_id", s.id))
}

// discard removes a stale surface without the release logging niceties.
func (m *Manager) discard(ctx context.Context, s *Surface) {
	m.mu.Lock()
	if m.surfaces[s.jobID] == s {
		delete(m.surfaces, s.jobID)
	}
	m.mu.Unlock()

	if err := s.tab.Close(ctx); err != nil {
		m.logger.Debug("Stale surface close failed.",
			zap.String("surface_id", s.id),
			zap.Error(err))
	}
}

// Shutdown releases every surface and stops the driver.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	jobIDs := make([]string, 0, len(m.surfaces))
	for id := range m.surfaces {
		jobIDs = append(jobIDs, id)
	}
	m.mu.Unlock()

	for _, id := range jobIDs {
		m.Release(id)
	}
	if err := m.driver.Shutdown(ctx); err != nil {
		m.logger.Warn("Driver shutdown reported an error.", zap.Error(err))
	}
	m.logger.Info("Surface manager shut down.")
}
