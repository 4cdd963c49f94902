// -- cmd/run.go --
package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/gleaner/api/schemas"
	"github.com/xkilldash9x/gleaner/internal/agentloop"
	"github.com/xkilldash9x/gleaner/internal/api"
	"github.com/xkilldash9x/gleaner/internal/executor"
	"github.com/xkilldash9x/gleaner/internal/observability"
	"github.com/xkilldash9x/gleaner/internal/reasoner"
	"github.com/xkilldash9x/gleaner/internal/registry"
	"github.com/xkilldash9x/gleaner/internal/runtracker"
	"github.com/xkilldash9x/gleaner/internal/scheduler"
	"github.com/xkilldash9x/gleaner/internal/surface"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler and control API until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// runService wires every component together and blocks until
// SIGINT/SIGTERM.
func runService() error {
	logger := observability.GetLogger()
	defer observability.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracker := runtracker.New(logger)
	exec := executor.New(logger, collectSink(logger))
	driver := surface.NewChromeDriver(cfg.Browser, logger)
	surfaces := surface.NewManager(driver, exec, cfg.Browser, logger)
	defer surfaces.Shutdown(context.Background())

	runner := agentloop.NewRunner(
		tracker,
		surfaceAdapter{m: surfaces},
		reasoner.NewClient(cfg.Reasoner, logger),
		cfg.Reasoner.MaxIterations,
		logger,
	)

	registryClient := registry.NewClient(cfg.Registry, logger)
	sched := scheduler.New(registryClient, runner, surfaces, cfg.Scheduler, logger)
	server := api.NewServer(cfg.API, sched, healthSource{sched: sched, runner: runner}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	logger.Info("Service running; waiting for jobs or signals.")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Service stopped.")
	return nil
}

// collectSink records collected items. The registry owns downstream
// processing; locally the submission is logged for audit.
func collectSink(logger *zap.Logger) executor.CollectSink {
	sink := logger.Named("collected_data")
	return func(jobID string, items []string) {
		sink.Info("Data collected.",
			zap.String("job_id", jobID),
			zap.Int("count", len(items)),
			zap.Strings("items", items))
	}
}

// surfaceAdapter narrows *surface.Manager to the loop's view of it.
type surfaceAdapter struct {
	m *surface.Manager
}

func (a surfaceAdapter) Ensure(ctx context.Context, jobID, targetURL string) (agentloop.Surface, error) {
	s, err := a.m.Ensure(ctx, jobID, targetURL)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (a surfaceAdapter) Release(jobID string) {
	a.m.Release(jobID)
}

// healthSource fans the health payload out over the scheduler and the
// runner.
type healthSource struct {
	sched  *scheduler.Scheduler
	runner *agentloop.Runner
}

func (h healthSource) ScheduledCount() int        { return h.sched.ScheduledCount() }
func (h healthSource) Active() []schemas.RunState { return h.runner.Active() }
