// internal/runtracker/tracker.go
// Package runtracker is the single source of truth for "is job X
// running". Every admission path (timer fire, manual trigger) must go
// through TryAdmit; a false result means a run is already in flight and
// the trigger is skipped, never queued.
package runtracker

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gleaner/api/schemas"
)

// Tracker is a mutex-guarded registry of in-flight runs keyed by job
// identity. It holds no history: entries exist only between admission
// and release.
type Tracker struct {
	logger *zap.Logger

	mu   sync.Mutex
	runs map[string]*schemas.RunState
}

// New creates an empty tracker.
func New(logger *zap.Logger) *Tracker {
	return &Tracker{
		logger: logger.Named("run_tracker"),
		runs:   make(map[string]*schemas.RunState),
	}
}

// TryAdmit atomically checks for an existing entry and, if absent,
// inserts an Initializing placeholder. The returned RunState copy is
// only meaningful when admitted is true.
func (t *Tracker) TryAdmit(jobID string) (state schemas.RunState, admitted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.runs[jobID]; ok {
		t.logger.Debug("Admission refused, run already in flight.",
			zap.String("job_id", jobID),
			zap.String("run_id", existing.RunID),
			zap.String("phase", string(existing.Phase)))
		return schemas.RunState{}, false
	}

	rs := &schemas.RunState{
		JobID:     jobID,
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
		Phase:     schemas.PhaseInitializing,
	}
	t.runs[jobID] = rs
	t.logger.Debug("Run admitted.", zap.String("job_id", jobID), zap.String("run_id", rs.RunID))
	return *rs, true
}

// Update applies a patch to the tracked state for jobID, if present.
// Used to record the remote session id once known, the bound surface,
// and phase transitions.
func (t *Tracker) Update(jobID string, patch func(*schemas.RunState)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rs, ok := t.runs[jobID]; ok {
		patch(rs)
	}
}

// Get returns a copy of the tracked state for jobID.
func (t *Tracker) Get(jobID string) (schemas.RunState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rs, ok := t.runs[jobID]
	if !ok {
		return schemas.RunState{}, false
	}
	return *rs, true
}

// Release removes the entry unconditionally. Callers invoke it from a
// deferred cleanup covering every loop exit path; releasing an absent
// entry is a no-op.
func (t *Tracker) Release(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rs, ok := t.runs[jobID]; ok {
		t.logger.Debug("Run released.",
			zap.String("job_id", jobID),
			zap.String("run_id", rs.RunID),
			zap.Duration("elapsed", time.Since(rs.StartedAt)))
		delete(t.runs, jobID)
	}
}

// Active returns copies of all tracked runs, for status reporting.
func (t *Tracker) Active() []schemas.RunState {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]schemas.RunState, 0, len(t.runs))
	for _, rs := range t.runs {
		out = append(out, *rs)
	}
	return out
}

// Len reports the number of in-flight runs.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.runs)
}
