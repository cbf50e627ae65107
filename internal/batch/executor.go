package batch

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Task is a unit of independent asynchronous work producing a value of type T.
type Task[T any] func(ctx context.Context) (T, error)

// Outcome is the settled result of a Task: a value or a failure cause.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Run executes tasks with at most limit running concurrently and returns one
// outcome per task, in input order. A task's failure never affects its
// siblings. Tasks are started in input order as window slots free up, so
// limit == 1 degenerates to strict sequential execution and
// limit >= len(tasks) to full parallelism. A limit below 1 is treated as 1.
func Run[T any](ctx context.Context, tasks []Task[T], limit int) []Outcome[T] {
	outcomes := make([]Outcome[T], len(tasks))
	if len(tasks) == 0 {
		return outcomes
	}
	if limit < 1 {
		limit = 1
	}

	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup

	for i, task := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context ended while waiting for a slot; the remaining
			// tasks settle as failures without running.
			outcomes[i] = Outcome[T]{Err: err}
			continue
		}

		wg.Add(1)
		go func(i int, task Task[T]) {
			defer wg.Done()
			defer sem.Release(1)

			v, err := task(ctx)
			outcomes[i] = Outcome[T]{Value: v, Err: err}
		}(i, task)
	}

	wg.Wait()
	return outcomes
}
