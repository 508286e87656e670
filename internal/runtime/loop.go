// Package runtime hosts the single background loop that runs all pool
// mutation, session invocation, and persistence work. Callers on other
// goroutines (the websocket read loop, signal handlers) never touch shared
// state directly — they submit units of work and optionally wait on the
// returned Future.
package runtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrHostUnavailable is returned by Submit once the loop has stopped.
	// Fatal for the affected submission only, not for the process.
	ErrHostUnavailable = errors.New("runtime: loop host unavailable")

	// ErrWaitTimeout is returned by Future.Wait when the result did not
	// arrive within the deadline. The unit keeps running to completion.
	ErrWaitTimeout = errors.New("runtime: wait timed out")

	// ErrQueueFull is returned by TrySubmit when no queue slot is free.
	ErrQueueFull = errors.New("runtime: submission queue full")
)

// Task is a unit of work executed on the loop goroutine.
type Task func(ctx context.Context) (any, error)

// Future is the result handle for a submitted Task.
type Future struct {
	done chan struct{}
	val  any
	err  error
}

// Done returns a channel that closes once the task has finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task finishes or timeout elapses.
func (f *Future) Wait(timeout time.Duration) (any, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.val, f.err
	case <-timer.C:
		return nil, ErrWaitTimeout
	}
}

// Result returns the task outcome. Only valid after Done() has closed.
func (f *Future) Result() (any, error) { return f.val, f.err }

type submission struct {
	task   Task
	future *Future
}

// Loop is a single-consumer work loop. Submissions are executed one at a
// time, in FIFO order, on one dedicated goroutine.
type Loop struct {
	tasks   chan submission
	ctx     context.Context
	cancel  context.CancelFunc
	quit    chan struct{}
	stopped chan struct{}

	mu      sync.Mutex
	closed  bool
	senders sync.WaitGroup
}

// NewLoop creates a loop with the given submission queue depth and starts
// its consumer goroutine.
func NewLoop(queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		tasks:   make(chan submission, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.stopped)

	for sub := range l.tasks {
		val, err := l.runOne(sub.task)
		sub.future.val = val
		sub.future.err = err
		close(sub.future.done)
	}
}

func (l *Loop) runOne(task Task) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in loop task", "panic", r)
			err = errors.New("runtime: task panicked")
		}
	}()
	return task(l.ctx)
}

// Submit enqueues a task and returns its Future. Safe for concurrent use
// from any goroutine except the loop goroutine itself: a full queue blocks
// the sender, and the consumer can never drain a send it is itself blocked
// on. Tasks that need to enqueue follow-up work use TrySubmit. Returns
// ErrHostUnavailable after Stop.
func (l *Loop) Submit(task Task) (*Future, error) {
	f := &Future{done: make(chan struct{})}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrHostUnavailable
	}
	l.senders.Add(1)
	l.mu.Unlock()
	defer l.senders.Done()

	// The send happens outside the mutex so a full queue never wedges
	// other submitters, Drain, or Stop.
	select {
	case l.tasks <- submission{task: task, future: f}:
		return f, nil
	case <-l.quit:
		return nil, ErrHostUnavailable
	}
}

// TrySubmit enqueues a task only if a queue slot is free, never blocking.
// This is the only safe way to enqueue from inside a running task.
func (l *Loop) TrySubmit(task Task) (*Future, error) {
	f := &Future{done: make(chan struct{})}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrHostUnavailable
	}
	l.senders.Add(1)
	l.mu.Unlock()
	defer l.senders.Done()

	select {
	case l.tasks <- submission{task: task, future: f}:
		return f, nil
	default:
		return nil, ErrQueueFull
	}
}

// Drain blocks until all queued tasks have finished or the grace period
// elapses. New submissions are still accepted while draining.
func (l *Loop) Drain(grace time.Duration) bool {
	f, err := l.Submit(func(context.Context) (any, error) { return nil, nil })
	if err != nil {
		return true
	}
	_, err = f.Wait(grace)
	return err == nil
}

// Stop closes the submission queue and waits for the consumer goroutine to
// finish the tasks already queued. Submitters blocked on a full queue are
// released with ErrHostUnavailable. Idempotent.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.stopped
		return
	}
	l.closed = true
	l.mu.Unlock()

	// No new senders can register. Release the ones stuck on a full queue,
	// wait for in-flight sends to land, then close so the consumer drains
	// what landed and exits.
	close(l.quit)
	l.senders.Wait()
	close(l.tasks)

	<-l.stopped
	l.cancel()
}
