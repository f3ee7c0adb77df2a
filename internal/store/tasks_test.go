package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryTaskQueue_ClaimsOnlyDueTasks(t *testing.T) {
	q := NewMemoryTaskQueue()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	later, _ := q.Enqueue(ctx, Task{Kind: "cleanup", Target: "later", DueAt: now.Add(time.Hour)})
	soon, _ := q.Enqueue(ctx, Task{Kind: "cleanup", Target: "soon", DueAt: now.Add(-time.Minute)})
	q.Enqueue(ctx, Task{Kind: "cleanup", Target: "sooner", DueAt: now.Add(-time.Hour)})

	first, err := q.ClaimDue(ctx, now)
	if err != nil || first == nil {
		t.Fatalf("claim: %v, %v", first, err)
	}
	if first.Target != "sooner" || first.Status != TaskRunning || first.Attempts != 1 {
		t.Errorf("first = %+v; want oldest due task, running", first)
	}

	second, _ := q.ClaimDue(ctx, now)
	if second == nil || second.ID != soon {
		t.Errorf("second = %+v; want %s", second, soon)
	}

	third, err := q.ClaimDue(ctx, now)
	if err != nil || third != nil {
		t.Errorf("third = %+v, %v; want nil, nil", third, err)
	}

	got, _ := q.Get(later)
	if got.Status != TaskPending {
		t.Errorf("future task status = %q; want pending", got.Status)
	}
}

func TestMemoryTaskQueue_ExpiredLeaseIsReclaimed(t *testing.T) {
	q := NewMemoryTaskQueue()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	q.Enqueue(ctx, Task{Kind: "cleanup", Target: "b", DueAt: now})

	q.ClaimDue(ctx, now)
	if again, _ := q.ClaimDue(ctx, now.Add(time.Minute)); again != nil {
		t.Fatal("task within its lease must not be claimed twice")
	}
	again, _ := q.ClaimDue(ctx, now.Add(DefaultTaskLease))
	if again == nil || again.Attempts != 2 {
		t.Errorf("reclaimed = %+v; want second attempt", again)
	}
}

func TestMemoryTaskQueue_Transitions(t *testing.T) {
	q := NewMemoryTaskQueue()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	id, _ := q.Enqueue(ctx, Task{Kind: "cleanup", Target: "b", DueAt: now})
	q.ClaimDue(ctx, now)

	if err := q.Reschedule(ctx, id, now.Add(time.Minute), "throttled"); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	got, _ := q.Get(id)
	if got.Status != TaskPending || got.LastError != "throttled" {
		t.Errorf("after reschedule = %+v", got)
	}
	pending, _ := q.Pending(ctx)
	if len(pending) != 1 {
		t.Errorf("pending = %d; want 1", len(pending))
	}

	q.ClaimDue(ctx, now.Add(time.Minute))
	if err := q.Complete(ctx, id); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ = q.Get(id)
	if got.Status != TaskDone || got.LastError != "" {
		t.Errorf("after complete = %+v", got)
	}
	pending, _ = q.Pending(ctx)
	if len(pending) != 0 {
		t.Errorf("pending = %d; want 0", len(pending))
	}

	if err := q.Fail(ctx, "missing", "x"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v; want ErrTaskNotFound", err)
	}
}
