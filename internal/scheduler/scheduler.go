package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
	"github.com/GoPolymarket/relaygate/internal/pkg/logger"
	"github.com/GoPolymarket/relaygate/internal/pkg/metrics"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Task is one tick of a periodic job.
type Task func(ctx context.Context) error

// Scheduler runs tasks on cron specs. A tick that fires while the previous
// tick of the same task is still running is skipped, and a panicking tick is
// logged instead of taking the process down.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	log  *slog.Logger
}

// New returns a scheduler whose task runs receive ctx.
func New(ctx context.Context) *Scheduler {
	log := logger.Component("scheduler")
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(log.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))
	return &Scheduler{cron: c, ctx: ctx, log: log}
}

// Add registers task under name. spec accepts the standard five field cron
// syntax and descriptors such as "@every 5s".
func (s *Scheduler) Add(name, spec string, task Task) error {
	if _, err := s.cron.AddFunc(spec, func() { s.run(name, task) }); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.log.Info("task scheduled", "task", name, "schedule", spec)
	return nil
}

func (s *Scheduler) run(name string, task Task) {
	if s.ctx.Err() != nil {
		return
	}
	runID := uuid.NewString()
	start := time.Now()
	err := task(s.ctx)
	metrics.TaskLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		logger.LogAt(s.ctx, s.log, apperrors.LogLevel(err), err, "task failed", "task", name, "run_id", runID)
		return
	}
	s.log.Debug("task done", "task", name, "run_id", runID, "took", time.Since(start))
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling. The returned context is done once running ticks
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
