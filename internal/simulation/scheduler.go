package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/metrics"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/store"
)

// Scheduler defaults.
const (
	DefaultPollInterval = 30 * time.Second
	DefaultMaxAttempts  = 5
	DefaultBaseBackoff  = 30 * time.Second
	DefaultMaxBackoff   = 15 * time.Minute
)

// Cleaner removes one demo resource. *Simulator satisfies it.
type Cleaner interface {
	Cleanup(ctx context.Context, name string) (CleanupResult, error)
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	PollInterval time.Duration
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

// Scheduler drains due cleanup tasks from a TaskQueue. Tasks survive
// process restarts; a task claimed by a crashed worker becomes claimable
// again once its lease expires.
type Scheduler struct {
	tasks     store.TaskQueue
	cleaner   Cleaner
	opts      SchedulerOptions
	publisher metrics.Publisher
	now       func() time.Time
	logger    *slog.Logger
}

// NewScheduler returns a Scheduler. Zero options take the defaults.
func NewScheduler(tasks store.TaskQueue, cleaner Cleaner, opts SchedulerOptions, publisher metrics.Publisher, logger *slog.Logger) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = DefaultBaseBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if publisher == nil {
		publisher = metrics.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		tasks:     tasks,
		cleaner:   cleaner,
		opts:      opts,
		publisher: publisher,
		now:       time.Now,
		logger:    logger.With("component", "cleanup-scheduler"),
	}
}

// Backoff returns the delay before retry number attempt (1-based),
// doubling from BaseBackoff up to MaxBackoff.
func (s *Scheduler) Backoff(attempt int) time.Duration {
	d := s.opts.BaseBackoff
	for i := 1; i < attempt && d < s.opts.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, s.opts.MaxBackoff)
}

// RunStats counts the tasks handled by one RunOnce.
type RunStats struct {
	Done        int
	Rescheduled int
	Failed      int
}

// RunOnce claims and processes every currently due task.
func (s *Scheduler) RunOnce(ctx context.Context) (RunStats, error) {
	var stats RunStats
	for ctx.Err() == nil {
		task, err := s.tasks.ClaimDue(ctx, s.now().UTC())
		if err != nil {
			return stats, fmt.Errorf("claim due task: %w", err)
		}
		if task == nil {
			break
		}
		switch s.process(ctx, task) {
		case store.TaskDone:
			stats.Done++
		case store.TaskPending:
			stats.Rescheduled++
		default:
			stats.Failed++
		}
	}

	if stats != (RunStats{}) {
		if err := s.publisher.Publish(ctx,
			metrics.Count(metrics.CleanupTasksDone, stats.Done, nil),
			metrics.Count(metrics.CleanupTasksRetried, stats.Rescheduled, nil),
		); err != nil {
			s.logger.Warn("publish cleanup metrics failed", "error", err)
		}
	}
	return stats, nil
}

// process runs one claimed task and records its next state.
func (s *Scheduler) process(ctx context.Context, task *store.Task) store.TaskStatus {
	logger := s.logger.With("task_id", task.ID, "resource", task.Target, "attempt", task.Attempts)

	if task.Kind != TaskKindCleanupBucket {
		s.fail(ctx, task, logger, fmt.Errorf("unknown task kind %q", task.Kind))
		return store.TaskFailed
	}

	_, err := s.cleaner.Cleanup(ctx, task.Target)
	if err == nil {
		if err := s.tasks.Complete(ctx, task.ID); err != nil {
			logger.Warn("mark task done failed", "error", err)
		}
		return store.TaskDone
	}

	if errors.Is(err, ErrNotDemoResource) || task.Attempts >= s.opts.MaxAttempts {
		s.fail(ctx, task, logger, err)
		return store.TaskFailed
	}

	next := s.now().Add(s.Backoff(task.Attempts)).UTC()
	logger.Warn("cleanup failed, rescheduled", "step", "cleanup", "next_attempt", next, "error", err)
	if rerr := s.tasks.Reschedule(ctx, task.ID, next, err.Error()); rerr != nil {
		logger.Warn("reschedule task failed", "error", rerr)
	}
	return store.TaskPending
}

func (s *Scheduler) fail(ctx context.Context, task *store.Task, logger *slog.Logger, cause error) {
	logger.Error("cleanup task failed permanently", "step", "cleanup", "error", cause)
	if err := s.tasks.Fail(ctx, task.ID, cause.Error()); err != nil {
		logger.Warn("record task failure failed", "error", err)
	}
}

// Run drains due tasks immediately and then every PollInterval until ctx
// is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Warn("cleanup pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
