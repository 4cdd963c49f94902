// api/schemas/jobs.go
package schemas

import (
	"fmt"
	"time"
)

// JobKind discriminates registry entries. Only browser jobs are
// automatable by this process; other kinds belong to other consumers of
// the same registry.
type JobKind string

const (
	JobKindBrowser JobKind = "browser"
)

// JobSpec is a read-only job definition pulled from the external task
// registry. The registry owns CRUD and persistence; this process only
// reads and runs.
type JobSpec struct {
	ID              string  `json:"id"`
	Kind            JobKind `json:"kind"`
	Name            string  `json:"name"`
	TargetURL       string  `json:"target_url"`
	Instruction     string  `json:"instruction"`
	IntervalMinutes int     `json:"interval_minutes"`
	Enabled         bool    `json:"enabled"`
}

// Interval returns the job's schedule interval as a duration.
func (j JobSpec) Interval() time.Duration {
	return time.Duration(j.IntervalMinutes) * time.Minute
}

// ValidateRunnable checks the preconditions for starting an execution.
// A job may exist in the registry in a half-configured state; it must
// never be admitted until both the target and the instruction are set.
func (j JobSpec) ValidateRunnable() error {
	if j.Kind != JobKindBrowser {
		return fmt.Errorf("%w: job %q has kind %q, want %q", ErrValidation, j.ID, j.Kind, JobKindBrowser)
	}
	if j.TargetURL == "" {
		return fmt.Errorf("%w: job %q has no target URL", ErrValidation, j.ID)
	}
	if j.Instruction == "" {
		return fmt.Errorf("%w: job %q has no instruction", ErrValidation, j.ID)
	}
	return nil
}

// RunPhase is the lifecycle state of one in-flight execution.
//
//	Idle -> Initializing -> Running <-> Interrupted -> Completed | Failed
//
// Running and Interrupted alternate once per loop iteration. Completed
// and Failed are terminal; the tracker entry is removed along with them.
type RunPhase string

const (
	PhaseIdle         RunPhase = "idle"
	PhaseInitializing RunPhase = "initializing"
	PhaseRunning      RunPhase = "running"
	PhaseInterrupted  RunPhase = "interrupted"
	PhaseCompleted    RunPhase = "completed"
	PhaseFailed       RunPhase = "failed"
)

// RunState is the bookkeeping record for one in-flight execution. There
// is at most one per job at any instant; the run tracker enforces that.
type RunState struct {
	JobID     string    `json:"job_id"`
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id,omitempty"`
	SurfaceID string    `json:"surface_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Iteration int       `json:"iteration"`
	Phase     RunPhase  `json:"phase"`
}
