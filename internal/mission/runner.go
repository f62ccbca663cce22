// Package mission drives a booted kernel until its queue drains or a
// step budget runs out. The budget is the containment mechanism for
// delegation loops: the kernel itself stays permissive about agents
// re-delegating forever.
package mission

import (
	"context"
	"errors"
	"log/slog"
)

// DefaultMaxSteps bounds a mission when the runner is not configured.
const DefaultMaxSteps = 1000

// ErrBudgetExhausted is returned when the queue still holds work after
// MaxSteps dispatches. Callers treat it like a timeout: the recorded
// history up to that point is valid.
var ErrBudgetExhausted = errors.New("mission step budget exhausted")

// Kernel is the slice of the kernel the runner drives.
type Kernel interface {
	Tick(ctx context.Context) (bool, error)
}

// Stats summarizes one mission run.
type Stats struct {
	// Steps is the number of ticks that dispatched a task.
	Steps int

	// Completed counts dispatches that finished cleanly.
	Completed int

	// Failed counts dispatches whose agent failed. Failures are already
	// recorded in the ledger by the time the runner sees them.
	Failed int
}

// Runner ticks a kernel until the queue drains.
type Runner struct {
	// Kernel is the kernel to drive. Required.
	Kernel Kernel

	// MaxSteps bounds the number of dispatching ticks.
	// DefaultMaxSteps when <= 0.
	MaxSteps int

	// Logger receives run progress. slog.Default() when nil.
	Logger *slog.Logger
}

// Run ticks until the queue drains, the context is done or the step
// budget runs out. A failed dispatch is counted and logged but does not
// stop the run; the ledger already holds its terminal record. Agent
// panics are not contained here: the kernel re-raises them and the
// mission dies with the process, as a crashing agent should.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	maxSteps := r.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var stats Stats
	for {
		if err := ctx.Err(); err != nil {
			logger.Warn("mission interrupted",
				"steps", stats.Steps,
				"completed", stats.Completed,
				"failed", stats.Failed,
				"error", err)
			return stats, err
		}
		if stats.Steps >= maxSteps {
			logger.Warn("mission step budget exhausted",
				"steps", stats.Steps,
				"completed", stats.Completed,
				"failed", stats.Failed)
			return stats, ErrBudgetExhausted
		}

		dispatched, err := r.Kernel.Tick(ctx)
		if !dispatched {
			logger.Info("mission complete",
				"steps", stats.Steps,
				"completed", stats.Completed,
				"failed", stats.Failed)
			return stats, nil
		}
		stats.Steps++
		if err != nil {
			stats.Failed++
			logger.Warn("task failed during mission", "step", stats.Steps, "error", err)
			continue
		}
		stats.Completed++
	}
}
