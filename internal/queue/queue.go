// Package queue holds pending tasks in strict submission order.
package queue

import (
	"sync"

	"github.com/haasonsaas/vibe/internal/task"
)

// Queue is a FIFO task buffer. Submission is safe from any goroutine;
// the kernel is the single consumer. Task priority is recorded on the
// task but deliberately ignored here: ordering is submission order only.
type Queue struct {
	mu    sync.Mutex
	tasks []*task.Task
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// Submit appends the task and returns its id, assigning one if the task
// arrived without it.
func (q *Queue) Submit(t *task.Task) string {
	id := t.EnsureID()
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
	return id
}

// Next removes and returns the oldest task, or nil when the queue is empty.
func (q *Queue) Next() *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil
	}
	t := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return t
}

// Size reports the number of queued tasks.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Snapshot returns the queued tasks in dispatch order without consuming
// them. The slice is a copy; the tasks are shared.
func (q *Queue) Snapshot() []*task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*task.Task, len(q.tasks))
	copy(out, q.tasks)
	return out
}
