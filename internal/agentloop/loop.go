// internal/agentloop/loop.go
// Package agentloop drives one job execution end to end: admit the run,
// prepare the surface, submit the initial page state to the reasoning
// service, then alternate between executing the service's interrupted
// tool calls and resuming it with their results until the session
// completes, fails, or hits the iteration cap.
package agentloop

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/gleaner/api/schemas"
	"github.com/xkilldash9x/gleaner/internal/runtracker"
)

// Surface is the loop's view of a prepared browser tab.
type Surface interface {
	ID() string
	// Execute performs one tool call, returning outcome text. Never
	// errors; failures are described in the text.
	Execute(ctx context.Context, call schemas.ToolCall) string
	// CaptureSnapshot returns the current screenshot and viewport, or
	// nil when capture is impossible right now.
	CaptureSnapshot(ctx context.Context) *schemas.Snapshot
}

// SurfaceManager hands out and reclaims surfaces.
type SurfaceManager interface {
	Ensure(ctx context.Context, jobID, targetURL string) (Surface, error)
	Release(jobID string)
}

// Runner executes jobs. Safe for concurrent use; per-job exclusivity is
// the tracker's business, not the caller's.
type Runner struct {
	tracker       *runtracker.Tracker
	surfaces      SurfaceManager
	reasoner      schemas.Reasoner
	logger        *zap.Logger
	maxIterations int
}

// NewRunner wires the loop's collaborators together.
func NewRunner(tracker *runtracker.Tracker, surfaces SurfaceManager, reasoner schemas.Reasoner, maxIterations int, logger *zap.Logger) *Runner {
	return &Runner{
		tracker:       tracker,
		surfaces:      surfaces,
		reasoner:      reasoner,
		logger:        logger.Named("agentloop"),
		maxIterations: maxIterations,
	}
}

// TryStart admits the job and launches its execution in the background.
// The admission decision is synchronous so callers can report "already
// running" immediately; everything after that is fire-and-forget. ctx
// bounds the whole run, not just the admission.
func (r *Runner) TryStart(ctx context.Context, job schemas.JobSpec) error {
	if err := job.ValidateRunnable(); err != nil {
		return err
	}
	run, admitted := r.tracker.TryAdmit(job.ID)
	if !admitted {
		return fmt.Errorf("%w: job %q", schemas.ErrAlreadyRunning, job.ID)
	}

	go func() {
		err := r.execute(ctx, job, run.RunID)
		switch {
		case err == nil:
		case errors.Is(err, schemas.ErrIterationCap):
			// Hitting the cap is an expected outcome for an unbounded
			// session, not a malfunction.
			r.logger.Warn("Run stopped at iteration cap.",
				zap.String("job_id", job.ID),
				zap.String("run_id", run.RunID),
				zap.Error(err))
		default:
			r.logger.Error("Run failed.",
				zap.String("job_id", job.ID),
				zap.String("run_id", run.RunID),
				zap.Error(err))
		}
	}()
	return nil
}

// Run admits and executes the job synchronously. Used by tests and by
// callers that manage their own concurrency.
func (r *Runner) Run(ctx context.Context, job schemas.JobSpec) error {
	if err := job.ValidateRunnable(); err != nil {
		return err
	}
	run, admitted := r.tracker.TryAdmit(job.ID)
	if !admitted {
		return fmt.Errorf("%w: job %q", schemas.ErrAlreadyRunning, job.ID)
	}
	return r.execute(ctx, job, run.RunID)
}

// execute is the run body. Both registrations are released on every
// exit path, success or not; a leaked tracker entry would block the job
// forever and a leaked surface would leak a tab.
func (r *Runner) execute(ctx context.Context, job schemas.JobSpec, runID string) (err error) {
	logger := r.logger.With(
		zap.String("job_id", job.ID),
		zap.String("run_id", runID))

	defer func() {
		phase := schemas.PhaseCompleted
		if err != nil {
			phase = schemas.PhaseFailed
		}
		logger.Info("Run finished.", zap.String("phase", string(phase)))
		r.surfaces.Release(job.ID)
		r.tracker.Release(job.ID)
	}()

	logger.Info("Run starting.", zap.String("target", job.TargetURL))

	surface, err := r.surfaces.Ensure(ctx, job.ID, job.TargetURL)
	if err != nil {
		return fmt.Errorf("surface preparation failed: %w", err)
	}
	r.tracker.Update(job.ID, func(rs *schemas.RunState) {
		rs.SurfaceID = surface.ID()
		rs.Phase = schemas.PhaseRunning
	})

	snap := surface.CaptureSnapshot(ctx)
	if snap == nil {
		return fmt.Errorf("initial snapshot unavailable for job %q", job.ID)
	}

	initialVP := snap.Viewport
	initial := &schemas.InitialState{
		JobID:       job.ID,
		TargetURL:   job.TargetURL,
		Instruction: job.Instruction,
		Screenshot:  snap.ImageBase64,
		Viewport:    &initialVP,
	}

	// One submission per iteration: the initial state opens the session
	// on iteration 1, every later iteration resumes it with the prior
	// tool result. The cap bounds submissions, so it is checked before
	// each one.
	var resume *schemas.ToolResult
	var sessionID string
	for iteration := 1; ; iteration++ {
		if iteration > r.maxIterations {
			return fmt.Errorf("%w: job %q exceeded %d iterations",
				schemas.ErrIterationCap, job.ID, r.maxIterations)
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run cancelled: %w", err)
		}
		r.tracker.Update(job.ID, func(rs *schemas.RunState) {
			rs.Iteration = iteration
			rs.Phase = schemas.PhaseRunning
		})

		turn, err := r.reasoner.Submit(ctx, sessionID, initial, resume)
		if err != nil {
			return fmt.Errorf("submit failed at iteration %d: %w", iteration, err)
		}
		initial = nil

		switch {
		case sessionID == "":
			sessionID = turn.SessionID
			r.tracker.Update(job.ID, func(rs *schemas.RunState) {
				rs.SessionID = sessionID
			})
			logger.Debug("Session opened.", zap.String("session_id", sessionID))
		case turn.SessionID != "" && turn.SessionID != sessionID:
			// The service should never migrate a session mid-run; trust
			// it if it does, but leave a trace.
			logger.Warn("Session id changed mid-run.",
				zap.String("old", sessionID),
				zap.String("new", turn.SessionID))
			sessionID = turn.SessionID
		}

		if len(turn.Interrupts) == 0 {
			logger.Info("Session completed.",
				zap.String("session_id", sessionID),
				zap.Int("iterations", iteration))
			return nil
		}

		// The service may pause on several tool calls at once; only the
		// first is executed, matching its own resume expectations.
		call := turn.Interrupts[0]
		r.tracker.Update(job.ID, func(rs *schemas.RunState) {
			rs.Phase = schemas.PhaseInterrupted
		})

		outcome := surface.Execute(ctx, call)
		logger.Debug("Action executed.",
			zap.Int("iteration", iteration),
			zap.String("action", string(call.Action)),
			zap.String("outcome", outcome))

		result := schemas.ToolResult{Result: outcome}
		if call.RequestScreenshot {
			if snap := surface.CaptureSnapshot(ctx); snap != nil {
				result.Screenshot = snap.ImageBase64
				vp := snap.Viewport
				result.Viewport = &vp
			} else {
				logger.Warn("Resuming without a screenshot; capture failed.",
					zap.Int("iteration", iteration))
			}
		}
		resume = &result
	}
}

// IsBusy reports whether the job currently has an admitted run.
func (r *Runner) IsBusy(jobID string) bool {
	_, ok := r.tracker.Get(jobID)
	return ok
}

// Active exposes current run states for observability surfaces.
func (r *Runner) Active() []schemas.RunState {
	return r.tracker.Active()
}
