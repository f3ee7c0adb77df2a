package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/metrics"
)

// ErrJobRunning is returned by Job.Run when a previous run of the same job
// has not finished.
var ErrJobRunning = errors.New("job already running")

// Summary is the result of one job run.
type Summary interface {
	slog.LogValuer
	Metrics() []metrics.Datum
}

// RunFunc performs one job run.
type RunFunc func(ctx context.Context) (Summary, error)

// Job runs a RunFunc with at most one concurrent execution, logging and
// publishing each summary.
type Job struct {
	name      string
	run       RunFunc
	publisher metrics.Publisher
	logger    *slog.Logger
	mu        sync.Mutex
}

// NewJob returns a named job.
func NewJob(name string, run RunFunc, publisher metrics.Publisher, logger *slog.Logger) *Job {
	if publisher == nil {
		publisher = metrics.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{name: name, run: run, publisher: publisher, logger: logger.With("job", name)}
}

// ReconcileJob wraps r.Reconcile.
func ReconcileJob(r *Reconciler, publisher metrics.Publisher, logger *slog.Logger) *Job {
	return NewJob("reconcile-"+string(r.kind), func(ctx context.Context) (Summary, error) {
		return r.Reconcile(ctx)
	}, publisher, logger)
}

// DedupJob wraps d.Deduplicate.
func DedupJob(d *Deduplicator, publisher metrics.Publisher, logger *slog.Logger) *Job {
	return NewJob("dedupe", func(ctx context.Context) (Summary, error) {
		return d.Deduplicate(ctx)
	}, publisher, logger)
}

// Name returns the job name.
func (j *Job) Name() string { return j.name }

// Run executes the job once. It returns ErrJobRunning without running when
// another run is in progress.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	if !j.mu.TryLock() {
		return nil, ErrJobRunning
	}
	defer j.mu.Unlock()

	start := time.Now()
	sum, err := j.run(ctx)
	if err != nil {
		j.logger.Error("job failed", "error", err, "elapsed", time.Since(start))
		return sum, err
	}
	j.logger.Info("job finished", "summary", sum, "elapsed", time.Since(start))

	if sum == nil {
		return nil, nil
	}
	if perr := j.publisher.Publish(ctx, sum.Metrics()...); perr != nil {
		j.logger.Warn("publish job metrics failed", "error", perr)
	}
	return sum, nil
}

// Every runs the job immediately and then once per interval until ctx is
// cancelled. Overlapping ticks are skipped.
func (j *Job) Every(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := j.Run(ctx); errors.Is(err, ErrJobRunning) {
			j.logger.Debug("previous run still in progress; skipping")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
