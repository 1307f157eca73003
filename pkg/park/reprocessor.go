package park

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/Nerval-Labs/reflex/pkg/task"
)

// Executor re-runs one parked task on the warm tier. Implementations may
// suspend; the strict tick bound does not apply here.
type Executor interface {
	Reexecute(ctx context.Context, t *task.Task) error
}

// Reprocessor drains parked deltas and feeds them back through a warm-tier
// executor at a bounded rate. It never writes back into the reflex tier.
type Reprocessor struct {
	manager  *Manager
	executor Executor
	limiter  *rate.Limiter
	interval time.Duration
	logger   *slog.Logger
}

// NewReprocessor builds a reprocessor polling the manager every interval,
// re-executing at most perSecond tasks per second.
func NewReprocessor(m *Manager, e Executor, perSecond float64, interval time.Duration, logger *slog.Logger) *Reprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reprocessor{
		manager:  m,
		executor: e,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), 1),
		interval: interval,
		logger:   logger,
	}
}

// Run drains and re-executes until ctx is cancelled. Cooperatively
// scheduled: every blocking point honors the context.
func (r *Reprocessor) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		for _, d := range r.manager.Drain() {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
			if err := d.Task.Transition(task.Ready); err != nil {
				r.logger.Warn("parked task not re-admittable",
					"task", d.Task.ID, "cause", d.Cause.String(), "err", err)
				continue
			}
			if err := r.executor.Reexecute(ctx, d.Task); err != nil {
				r.logger.Warn("warm-tier re-execution failed",
					"task", d.Task.ID, "cause", d.Cause.String(), "err", err)
			}
		}
	}
}
