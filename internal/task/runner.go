// Package task runs detached background work that outlives the request that
// submitted it.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/darkodi/shorts/internal/config"
	"github.com/darkodi/shorts/internal/logger"
)

// ErrClosed is returned by Close when the runner was already closed
var ErrClosed = errors.New("task runner closed")

// Func is a unit of detached work. The context carries the per-task timeout.
type Func func(ctx context.Context) error

// Executor accepts detached work. Submit never blocks; it reports false when
// the task was dropped.
type Executor interface {
	Submit(name string, fn Func) bool
}

type job struct {
	name string
	fn   Func
}

// Stats is a snapshot of runner counters
type Stats struct {
	Submitted uint64
	Completed uint64
	Failed    uint64
	Dropped   uint64
}

// Runner executes submitted tasks on a fixed pool of worker goroutines fed by
// a bounded queue.
type Runner struct {
	queue   chan job
	timeout time.Duration
	log     *logger.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewRunner starts cfg.Workers workers
func NewRunner(cfg *config.TaskConfig, log *logger.Logger) *Runner {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	size := cfg.QueueSize
	if size < 1 {
		size = 1
	}

	r := &Runner{
		queue:   make(chan job, size),
		timeout: cfg.Timeout,
		log:     log.Component("tasks"),
	}

	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.worker()
	}

	r.log.Info("task runner started", "workers", workers, "queue_size", size, "timeout", cfg.Timeout)
	return r
}

// Submit enqueues fn. A full queue or a closed runner drops the task.
func (r *Runner) Submit(name string, fn Func) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.dropped.Add(1)
		r.log.Warn("task dropped, runner closed", "task", name)
		return false
	}

	select {
	case r.queue <- job{name: name, fn: fn}:
		r.submitted.Add(1)
		return true
	default:
		r.dropped.Add(1)
		r.log.Warn("task dropped, queue full", "task", name, "queue_size", cap(r.queue))
		return false
	}
}

// Close stops accepting tasks and waits for queued ones to finish or for ctx
// to expire, whichever comes first.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("task runner drained", "completed", r.completed.Load(), "failed", r.failed.Load(), "dropped", r.dropped.Load())
		return nil
	case <-ctx.Done():
		r.log.Warn("task runner drain interrupted", "pending", len(r.queue))
		return ctx.Err()
	}
}

// Stats returns the current counters
func (r *Runner) Stats() Stats {
	return Stats{
		Submitted: r.submitted.Load(),
		Completed: r.completed.Load(),
		Failed:    r.failed.Load(),
		Dropped:   r.dropped.Load(),
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for j := range r.queue {
		r.run(j)
	}
}

func (r *Runner) run(j job) {
	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	err := safeCall(ctx, j.fn)
	if err != nil {
		r.failed.Add(1)
		r.log.Error("task failed", "task", j.name, "error", err)
		return
	}
	r.completed.Add(1)
}

func safeCall(ctx context.Context, fn Func) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

// Inline runs every task synchronously on the caller's goroutine. Tests use it
// to make detached work observable.
type Inline struct {
	Timeout time.Duration
	Log     *logger.Logger
}

// Submit runs fn before returning
func (in Inline) Submit(name string, fn Func) bool {
	ctx := context.Background()
	if in.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.Timeout)
		defer cancel()
	}
	if err := safeCall(ctx, fn); err != nil && in.Log != nil {
		in.Log.Error("task failed", "task", name, "error", err)
	}
	return true
}
