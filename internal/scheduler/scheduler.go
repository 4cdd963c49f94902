// internal/scheduler/scheduler.go
// Package scheduler reconciles the local timer set against the external
// task registry and fires executions on each job's interval. It holds
// no job state of its own beyond the timers; the registry stays the
// source of truth and the run tracker enforces per-job exclusivity.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/gleaner/api/schemas"
	"github.com/xkilldash9x/gleaner/internal/config"
)

// JobStarter launches one job execution. ErrAlreadyRunning from it is
// an expected overlap signal, not a failure.
type JobStarter interface {
	TryStart(ctx context.Context, job schemas.JobSpec) error
}

// SurfaceReleaser reclaims the surface of a job that left the registry.
type SurfaceReleaser interface {
	Release(jobID string)
}

// scheduledJob is one installed timer.
type scheduledJob struct {
	spec   schemas.JobSpec
	cancel context.CancelFunc
}

// Scheduler runs the sync loop and the per-job timers.
type Scheduler struct {
	registry schemas.JobRegistry
	starter  JobStarter
	surfaces SurfaceReleaser
	logger   *zap.Logger

	syncInterval time.Duration
	initialDelay time.Duration

	mu   sync.Mutex
	jobs map[string]*scheduledJob
	wg   sync.WaitGroup
}

// New builds a scheduler. Nothing starts until Run.
func New(registry schemas.JobRegistry, starter JobStarter, surfaces SurfaceReleaser, cfg config.SchedulerConfig, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		registry:     registry,
		starter:      starter,
		surfaces:     surfaces,
		logger:       logger.Named("scheduler"),
		syncInterval: cfg.SyncInterval,
		initialDelay: cfg.InitialDelay,
		jobs:         make(map[string]*scheduledJob),
	}
}

// Run blocks until ctx is cancelled: one sync after the initial delay,
// then one per sync interval. On exit every timer is stopped and its
// goroutine joined.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Scheduler starting.",
		zap.Duration("initial_delay", s.initialDelay),
		zap.Duration("sync_interval", s.syncInterval))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.initialDelay):
	}

	if err := s.sync(ctx); err != nil {
		s.logger.Error("Initial registry sync failed; keeping empty schedule.", zap.Error(err))
	}

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			s.wg.Wait()
			s.logger.Info("Scheduler stopped.")
			return ctx.Err()
		case <-ticker.C:
			if err := s.sync(ctx); err != nil {
				s.logger.Error("Registry sync failed; keeping previous schedule.", zap.Error(err))
			}
		}
	}
}

// sync reconciles installed timers against the registry's current view:
// unknown jobs get timers, changed jobs get their timer reinstalled,
// vanished jobs get torn down and their surface reclaimed.
func (s *Scheduler) sync(ctx context.Context) error {
	listed, err := s.registry.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to list registry tasks: %w", err)
	}

	desired := make(map[string]schemas.JobSpec, len(listed))
	for _, job := range listed {
		if job.Kind != schemas.JobKindBrowser {
			continue
		}
		if job.Interval() <= 0 {
			s.logger.Warn("Skipping job with no usable interval.",
				zap.String("job_id", job.ID),
				zap.Int("interval_minutes", job.IntervalMinutes))
			continue
		}
		desired[job.ID] = job
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var installed, replaced, removed int
	for id, existing := range s.jobs {
		want, ok := desired[id]
		if ok && want == existing.spec {
			delete(desired, id)
			continue
		}
		// Gone or changed. The old timer comes down either way; a
		// changed job falls through to reinstallation below.
		existing.cancel()
		delete(s.jobs, id)
		if !ok {
			s.surfaces.Release(id)
			removed++
			s.logger.Info("Job removed from schedule.", zap.String("job_id", id))
		} else {
			replaced++
		}
	}

	for _, job := range desired {
		s.installLocked(ctx, job)
		installed++
	}

	s.logger.Debug("Registry sync complete.",
		zap.Int("scheduled", len(s.jobs)),
		zap.Int("installed", installed),
		zap.Int("replaced", replaced),
		zap.Int("removed", removed))
	return nil
}

// installLocked starts a timer goroutine for the job. Caller holds mu.
func (s *Scheduler) installLocked(ctx context.Context, job schemas.JobSpec) {
	jobCtx, cancel := context.WithCancel(ctx)
	s.jobs[job.ID] = &scheduledJob{spec: job, cancel: cancel}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(job.Interval())
		defer ticker.Stop()
		for {
			select {
			case <-jobCtx.Done():
				return
			case <-ticker.C:
				s.fire(jobCtx, job)
			}
		}
	}()

	s.logger.Info("Job scheduled.",
		zap.String("job_id", job.ID),
		zap.String("name", job.Name),
		zap.Duration("interval", job.Interval()))
}

// fire launches one execution. Overlap with a still-running execution
// is skipped silently; the next tick tries again.
func (s *Scheduler) fire(ctx context.Context, job schemas.JobSpec) {
	err := s.starter.TryStart(ctx, job)
	switch {
	case err == nil:
	case errors.Is(err, schemas.ErrAlreadyRunning):
		s.logger.Debug("Skipping tick; previous run still in flight.",
			zap.String("job_id", job.ID))
	default:
		s.logger.Error("Failed to start scheduled run.",
			zap.String("job_id", job.ID),
			zap.Error(err))
	}
}

// TriggerManual starts the job immediately, outside its schedule. The
// job is resolved from the installed set first, then from the registry,
// so a freshly created job can be triggered before the next sync.
func (s *Scheduler) TriggerManual(ctx context.Context, jobID string) error {
	s.mu.Lock()
	installed, ok := s.jobs[jobID]
	s.mu.Unlock()

	var job schemas.JobSpec
	if ok {
		job = installed.spec
	} else {
		fetched, err := s.registry.Get(ctx, jobID)
		if err != nil {
			return err
		}
		job = *fetched
		if !job.Enabled {
			return fmt.Errorf("%w: job %q is disabled", schemas.ErrValidation, jobID)
		}
	}

	if err := s.starter.TryStart(ctx, job); err != nil {
		return err
	}
	s.logger.Info("Manual trigger accepted.", zap.String("job_id", jobID))
	return nil
}

// ScheduledCount reports how many jobs currently have timers. Exposed
// for the health endpoint.
func (s *Scheduler) ScheduledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// stopAll cancels every timer.
func (s *Scheduler) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, job := range s.jobs {
		job.cancel()
		delete(s.jobs, id)
	}
}
