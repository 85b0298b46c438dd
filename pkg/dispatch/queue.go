// Package dispatch provides the designated execution context result callbacks run on.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
)

// Queue accepts jobs for later execution. Async must never block the submitter.
type Queue interface {
	Async(fn func())
}

// MainQueue is an unbounded FIFO whose jobs run one at a time on the goroutine
// that drives it through Run or Drain.
type MainQueue struct {
	mu        sync.Mutex
	pending   []func()
	wake      chan struct{}
	executing atomic.Bool
}

// NewMainQueue returns an empty queue.
func NewMainQueue() *MainQueue {
	return &MainQueue{wake: make(chan struct{}, 1)}
}

var (
	mainOnce  sync.Once
	mainQueue *MainQueue
)

// Main returns the process-wide queue. The host drives it with Run, typically
// from its main goroutine.
func Main() *MainQueue {
	mainOnce.Do(func() {
		mainQueue = NewMainQueue()
	})
	return mainQueue
}

// Async appends fn to the queue.
func (q *MainQueue) Async(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run executes queued jobs on the calling goroutine until ctx is done.
func (q *MainQueue) Run(ctx context.Context) error {
	for {
		q.Drain()
		select {
		case <-ctx.Done():
			return nil
		case <-q.wake:
		}
	}
}

// Drain runs every job queued so far on the calling goroutine and returns how
// many ran. Jobs queued by those jobs run in the same pass. If a job panics,
// the rest of its batch is put back at the head of the queue before the panic
// propagates, so a later Drain picks up where this one stopped.
func (q *MainQueue) Drain() int {
	ran := 0
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()
		if len(batch) == 0 {
			return ran
		}
		for i, fn := range batch {
			q.run(fn, batch[i+1:])
			ran++
		}
	}
}

func (q *MainQueue) run(fn func(), rest []func()) {
	completed := false
	q.executing.Store(true)
	defer func() {
		q.executing.Store(false)
		if !completed {
			q.requeueFront(rest)
		}
	}()
	fn()
	completed = true
}

func (q *MainQueue) requeueFront(jobs []func()) {
	if len(jobs) == 0 {
		return
	}
	q.mu.Lock()
	q.pending = append(append(make([]func(), 0, len(jobs)+len(q.pending)), jobs...), q.pending...)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of jobs waiting.
func (q *MainQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Executing reports whether a job is currently running on the queue.
func (q *MainQueue) Executing() bool { return q.executing.Load() }
