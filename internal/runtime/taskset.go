package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// TaskSet tracks goroutines spawned for in-flight work. A positive limit caps
// how many may run at once; Go refuses new work instead of blocking.
type TaskSet struct {
	wg    sync.WaitGroup
	count atomic.Int64
	sem   *semaphore.Weighted
}

// NewTaskSet returns a set capped at limit concurrent tasks, or unbounded
// when limit is zero or negative.
func NewTaskSet(limit int64) *TaskSet {
	ts := &TaskSet{}
	if limit > 0 {
		ts.sem = semaphore.NewWeighted(limit)
	}
	return ts
}

// Go runs fn in its own goroutine and reports whether it was started.
func (ts *TaskSet) Go(fn func()) bool {
	if ts.sem != nil && !ts.sem.TryAcquire(1) {
		return false
	}
	ts.wg.Add(1)
	ts.count.Add(1)
	go func() {
		defer func() {
			ts.count.Add(-1)
			if ts.sem != nil {
				ts.sem.Release(1)
			}
			ts.wg.Done()
		}()
		fn()
	}()
	return true
}

// Len returns the number of running tasks.
func (ts *TaskSet) Len() int64 {
	return ts.count.Load()
}

// Wait blocks until every task has finished or ctx is done.
func (ts *TaskSet) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		ts.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
