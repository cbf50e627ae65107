package batch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRun_OrderPreserved(t *testing.T) {
	ctx := context.Background()

	// Later tasks finish first, so completion order is the reverse of
	// input order
	tasks := make([]Task[int], 12)
	for i := range tasks {
		i := i
		tasks[i] = func(ctx context.Context) (int, error) {
			time.Sleep(time.Duration(len(tasks)-i) * time.Millisecond)
			return i, nil
		}
	}

	outcomes := Run(ctx, tasks, 5)
	if len(outcomes) != len(tasks) {
		t.Fatalf("len(outcomes) = %d, want %d", len(outcomes), len(tasks))
	}
	for i, out := range outcomes {
		if out.Err != nil {
			t.Errorf("outcomes[%d].Err = %v", i, out.Err)
		}
		if out.Value != i {
			t.Errorf("outcomes[%d].Value = %d, want %d", i, out.Value, i)
		}
	}
}

func TestRun_LimitEnforced(t *testing.T) {
	ctx := context.Background()

	var running, peak int64
	tasks := make([]Task[int], 12)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) (int, error) {
			n := atomic.AddInt64(&running, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&running, -1)
			return 0, nil
		}
	}

	Run(ctx, tasks, 5)
	if got := atomic.LoadInt64(&peak); got > 5 {
		t.Errorf("peak concurrency = %d, want <= 5", got)
	}
}

func TestRun_SequentialWithLimitOne(t *testing.T) {
	ctx := context.Background()

	var active int32
	var order []int
	tasks := make([]Task[int], 4)
	for i := range tasks {
		i := i
		tasks[i] = func(ctx context.Context) (int, error) {
			if !atomic.CompareAndSwapInt32(&active, 0, 1) {
				t.Error("task overlapped with a sibling")
			}
			order = append(order, i)
			time.Sleep(time.Millisecond)
			atomic.StoreInt32(&active, 0)
			return i, nil
		}
	}

	Run(ctx, tasks, 1)
	for i, got := range order {
		if got != i {
			t.Fatalf("start order = %v, want tasks in input order", order)
		}
	}
}

func TestRun_FailureIsolation(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	tasks := []Task[string]{
		func(ctx context.Context) (string, error) { return "a", nil },
		func(ctx context.Context) (string, error) { return "", boom },
		func(ctx context.Context) (string, error) { return "c", nil },
	}

	outcomes := Run(ctx, tasks, 2)
	if outcomes[0].Err != nil || outcomes[0].Value != "a" {
		t.Errorf("outcomes[0] = %+v, want a", outcomes[0])
	}
	if !errors.Is(outcomes[1].Err, boom) {
		t.Errorf("outcomes[1].Err = %v, want boom", outcomes[1].Err)
	}
	if outcomes[2].Err != nil || outcomes[2].Value != "c" {
		t.Errorf("outcomes[2] = %+v, want c", outcomes[2])
	}
}

func TestRun_Empty(t *testing.T) {
	outcomes := Run[int](context.Background(), nil, 3)
	if len(outcomes) != 0 {
		t.Fatalf("len(outcomes) = %d, want 0", len(outcomes))
	}
}

func TestRun_LimitLargerThanTasks(t *testing.T) {
	tasks := []Task[int]{
		func(ctx context.Context) (int, error) { return 1, nil },
		func(ctx context.Context) (int, error) { return 2, nil },
	}

	outcomes := Run(context.Background(), tasks, 100)
	if outcomes[0].Value != 1 || outcomes[1].Value != 2 {
		t.Errorf("outcomes = %+v", outcomes)
	}
}
