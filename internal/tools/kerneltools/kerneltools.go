// Package kerneltools provides the tools that let agents reach back into
// the kernel: delegate_task submits new work, inspect_result reads the
// ledger. Both are constructed unbound and receive their kernel
// reference after boot, because the kernel owns the registry that owns
// these tools; the late binding is what breaks that cycle.
package kerneltools

import (
	"context"
	"sync"

	"github.com/haasonsaas/vibe/internal/ledger"
	"github.com/haasonsaas/vibe/internal/task"
)

// Kernel is the narrow slice of the kernel the tools need. Declared
// here, on the consumer side, so the tools do not import the kernel
// package.
type Kernel interface {
	// Submit validates the task's target agent and queues it.
	Submit(t *task.Task) (string, error)

	// GetTaskResult returns the ledger record for a task id, or
	// (nil, nil) when the id was never dispatched.
	GetTaskResult(ctx context.Context, id string) (*ledger.Record, error)
}

// Binder is implemented by tools that need a kernel reference injected
// after boot. The kernel walks its registry and binds every tool that
// implements it.
type Binder interface {
	Bind(k Kernel)
}

// kernelRef is the shared late-binding slot embedded by both tools.
type kernelRef struct {
	mu sync.RWMutex
	k  Kernel
}

// Bind implements Binder.
func (r *kernelRef) Bind(k Kernel) {
	r.mu.Lock()
	r.k = k
	r.mu.Unlock()
}

func (r *kernelRef) kernel() Kernel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.k
}
