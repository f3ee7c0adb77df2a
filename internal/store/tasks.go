package store

import (
	"context"
	"errors"
	"time"
)

// ErrTaskNotFound is returned when a task id matches nothing.
var ErrTaskNotFound = errors.New("task not found")

// TaskStatus is the lifecycle state of a scheduled task.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// DefaultTaskLease is how long a claimed task stays invisible to other
// claimers. A task still running after its lease is considered abandoned
// and can be claimed again.
const DefaultTaskLease = 5 * time.Minute

// Task is one unit of deferred work, due at DueAt.
type Task struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Target    string     `json:"target"`
	Region    string     `json:"region,omitempty"`
	DueAt     time.Time  `json:"due_at"`
	Status    TaskStatus `json:"status"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error,omitempty"`
	ClaimedAt time.Time  `json:"claimed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TaskQueue is a durable, time-indexed queue. Claiming is atomic: a due
// task is handed to exactly one claimer until it completes, is
// rescheduled, or its lease expires.
type TaskQueue interface {
	// Enqueue stores t as pending and returns its id.
	Enqueue(ctx context.Context, t Task) (string, error)
	// ClaimDue claims the oldest task due at or before now. It returns
	// nil, nil when nothing is due.
	ClaimDue(ctx context.Context, now time.Time) (*Task, error)
	// Complete marks a claimed task done.
	Complete(ctx context.Context, id string) error
	// Reschedule returns a claimed task to pending with a new due time.
	Reschedule(ctx context.Context, id string, dueAt time.Time, lastErr string) error
	// Fail marks a task permanently failed.
	Fail(ctx context.Context, id string, lastErr string) error
	// Pending lists tasks not yet done or failed, soonest first.
	Pending(ctx context.Context) ([]Task, error)
}
