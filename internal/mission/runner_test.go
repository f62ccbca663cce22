package mission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/haasonsaas/vibe/internal/agent"
	"github.com/haasonsaas/vibe/internal/kernel"
	"github.com/haasonsaas/vibe/internal/task"
	"github.com/haasonsaas/vibe/internal/tools"
	"github.com/haasonsaas/vibe/internal/tools/kerneltools"
)

type tickFunc func(ctx context.Context) (bool, error)

func (f tickFunc) Tick(ctx context.Context) (bool, error) { return f(ctx) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunDrainsQueue(t *testing.T) {
	remaining := 3
	r := &Runner{
		Logger: quietLogger(),
		Kernel: tickFunc(func(ctx context.Context) (bool, error) {
			if remaining == 0 {
				return false, nil
			}
			remaining--
			return true, nil
		}),
	}

	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Steps != 3 || stats.Completed != 3 || stats.Failed != 0 {
		t.Fatalf("stats = %+v, want 3 steps, 3 completed", stats)
	}
}

func TestRunCountsFailuresAndKeepsGoing(t *testing.T) {
	script := []error{errors.New("first task failed"), nil, errors.New("third task failed")}
	step := 0
	r := &Runner{
		Logger: quietLogger(),
		Kernel: tickFunc(func(ctx context.Context) (bool, error) {
			if step >= len(script) {
				return false, nil
			}
			err := script[step]
			step++
			return true, err
		}),
	}

	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Steps != 3 || stats.Completed != 1 || stats.Failed != 2 {
		t.Fatalf("stats = %+v, want 3 steps, 1 completed, 2 failed", stats)
	}
}

func TestRunStopsAtBudget(t *testing.T) {
	r := &Runner{
		MaxSteps: 7,
		Logger:   quietLogger(),
		Kernel: tickFunc(func(ctx context.Context) (bool, error) {
			return true, nil // queue never drains
		}),
	}

	stats, err := r.Run(context.Background())
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("Run error = %v, want ErrBudgetExhausted", err)
	}
	if stats.Steps != 7 {
		t.Fatalf("stats.Steps = %d, want 7", stats.Steps)
	}
}

func TestRunDefaultBudget(t *testing.T) {
	ticks := 0
	r := &Runner{
		Logger: quietLogger(),
		Kernel: tickFunc(func(ctx context.Context) (bool, error) {
			ticks++
			return true, nil
		}),
	}

	_, err := r.Run(context.Background())
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("Run error = %v, want ErrBudgetExhausted", err)
	}
	if ticks != DefaultMaxSteps {
		t.Fatalf("ticks = %d, want DefaultMaxSteps (%d)", ticks, DefaultMaxSteps)
	}
}

func TestRunHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &Runner{
		Logger: quietLogger(),
		Kernel: tickFunc(func(ctx context.Context) (bool, error) {
			t.Fatal("tick must not run after cancellation")
			return false, nil
		}),
	}

	stats, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if stats.Steps != 0 {
		t.Fatalf("stats = %+v, want zero", stats)
	}
}

// TestRunContainsDelegationLoop drives a real kernel whose only agent
// re-delegates to itself on every task. The queue never drains; the
// step budget is what ends the mission.
func TestRunContainsDelegationLoop(t *testing.T) {
	looper := &agent.Func{
		AgentID: "looper",
		Handler: func(ctx context.Context, tk *task.Task) (*agent.Response, error) {
			return &agent.Response{
				Success: true,
				ToolCall: &tools.Invocation{
					Tool: "delegate_task",
					Parameters: map[string]any{
						"agent_id": "looper",
						"payload":  map[string]any{"user_message": "again"},
					},
				},
			}, nil
		},
	}

	k := kernel.New(kernel.Config{WorkspaceRoot: t.TempDir(), Logger: quietLogger()})
	if err := k.RegisterAgent(looper); err != nil {
		t.Fatal(err)
	}
	if err := k.Tools().Register(kerneltools.NewDelegateTool()); err != nil {
		t.Fatal(err)
	}
	if err := k.Boot(context.Background()); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if _, err := k.Submit(task.New("looper", map[string]any{"user_message": "start"})); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	r := &Runner{Kernel: k, MaxSteps: 25, Logger: quietLogger()}
	stats, err := r.Run(context.Background())
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("Run error = %v, want ErrBudgetExhausted", err)
	}
	if stats.Steps != 25 || stats.Completed != 25 {
		t.Fatalf("stats = %+v, want 25 dispatched and completed", stats)
	}
	if k.QueueSize() == 0 {
		t.Fatal("queue drained unexpectedly; the loop should still be feeding it")
	}
}
