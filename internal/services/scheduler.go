package services

import (
	"context"
	"sync"
)

// Scheduler runs work after the current state change has been committed.
// The guard never navigates from inside a store notification; it hands the
// redirect to a Scheduler instead.
type Scheduler interface {
	AfterCommit(fn func())
}

// InlineScheduler runs fn immediately on the caller's goroutine, after the
// guard has released its lock. Used in tests for deterministic ordering.
type InlineScheduler struct{}

// AfterCommit runs fn.
func (InlineScheduler) AfterCommit(fn func()) {
	fn()
}

// RunLoop is a serial task queue: every task runs on the loop goroutine one
// turn after it was queued, in queue order.
type RunLoop struct {
	tasks    chan func()
	done     chan struct{}
	stopOnce sync.Once
}

// NewRunLoop creates a loop with room for buffer queued tasks.
func NewRunLoop(buffer int) *RunLoop {
	if buffer < 1 {
		buffer = 1
	}
	return &RunLoop{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

// AfterCommit queues fn. Tasks queued after the loop stopped are dropped.
func (l *RunLoop) AfterCommit(fn func()) {
	select {
	case <-l.done:
		return
	default:
	}

	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

// Run executes queued tasks until ctx is done.
func (l *RunLoop) Run(ctx context.Context) {
	defer l.stopOnce.Do(func() { close(l.done) })

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Done is closed once Run has returned.
func (l *RunLoop) Done() <-chan struct{} {
	return l.done
}
