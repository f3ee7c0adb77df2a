package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryTaskQueue is an in-process TaskQueue. It is not durable across
// restarts and is meant for tests and single-process runs.
type MemoryTaskQueue struct {
	mu    sync.Mutex
	tasks map[string]*Task
	lease time.Duration
	now   func() time.Time
}

// NewMemoryTaskQueue returns an empty queue with the default lease.
func NewMemoryTaskQueue() *MemoryTaskQueue {
	return &MemoryTaskQueue{tasks: make(map[string]*Task), lease: DefaultTaskLease, now: time.Now}
}

// Enqueue implements TaskQueue.
func (q *MemoryTaskQueue) Enqueue(_ context.Context, t Task) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now().UTC()
	t.ID = primitive.NewObjectID().Hex()
	t.Status = TaskPending
	t.CreatedAt = now
	t.UpdatedAt = now
	q.tasks[t.ID] = &t
	return t.ID, nil
}

// ClaimDue implements TaskQueue.
func (q *MemoryTaskQueue) ClaimDue(_ context.Context, now time.Time) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var best *Task
	for _, t := range q.tasks {
		if !claimable(t, now, q.lease) {
			continue
		}
		if best == nil || t.DueAt.Before(best.DueAt) {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = TaskRunning
	best.ClaimedAt = now
	best.Attempts++
	best.UpdatedAt = now
	claimed := *best
	return &claimed, nil
}

func claimable(t *Task, now time.Time, lease time.Duration) bool {
	switch t.Status {
	case TaskPending:
		return !t.DueAt.After(now)
	case TaskRunning:
		return !t.ClaimedAt.Add(lease).After(now)
	}
	return false
}

func (q *MemoryTaskQueue) update(id string, fn func(*Task)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	fn(t)
	t.UpdatedAt = q.now().UTC()
	return nil
}

// Complete implements TaskQueue.
func (q *MemoryTaskQueue) Complete(_ context.Context, id string) error {
	return q.update(id, func(t *Task) { t.Status = TaskDone; t.LastError = "" })
}

// Reschedule implements TaskQueue.
func (q *MemoryTaskQueue) Reschedule(_ context.Context, id string, dueAt time.Time, lastErr string) error {
	return q.update(id, func(t *Task) {
		t.Status = TaskPending
		t.DueAt = dueAt
		t.LastError = lastErr
		t.ClaimedAt = time.Time{}
	})
}

// Fail implements TaskQueue.
func (q *MemoryTaskQueue) Fail(_ context.Context, id string, lastErr string) error {
	return q.update(id, func(t *Task) { t.Status = TaskFailed; t.LastError = lastErr })
}

// Pending implements TaskQueue.
func (q *MemoryTaskQueue) Pending(context.Context) ([]Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := []Task{}
	for _, t := range q.tasks {
		if t.Status == TaskPending || t.Status == TaskRunning {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

// Get returns a copy of the task with id.
func (q *MemoryTaskQueue) Get(id string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}
