// Package perkey provides a scheduler that serializes work per key
// while allowing work for different keys to execute concurrently.
//
// Typical use-case: event-sourced entities, where commands for one entity
// key run strictly in order while different entities proceed in parallel.
// With WithIdleTimeout a key's worker is torn down after a quiet period and
// recreated on the next task, so inactive keys cost nothing.
package perkey

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Option configures a Scheduler.
type Option func(*config)

type config struct {
	bufferSize  int
	idleTimeout time.Duration
	onEvict     func(key any)
}

// WithBufferSize sets the task buffer size per worker (default: 64).
func WithBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// WithIdleTimeout evicts a key's worker after it has been idle for d.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.idleTimeout = d
		}
	}
}

// WithOnEvict registers fn to be called with the key of every evicted worker.
// fn runs while the scheduler lock is held and must not call back into the
// scheduler.
func WithOnEvict[K comparable](fn func(key K)) Option {
	return func(c *config) {
		if fn == nil {
			return
		}
		c.onEvict = func(key any) { fn(key.(K)) }
	}
}

// Scheduler runs tasks (functions) such that for any given key K,
// tasks are executed sequentially, in submission order.
// Tasks for *different* keys can proceed in parallel.
type Scheduler[K comparable] struct {
	mu         sync.Mutex
	workers    map[K]*worker
	closed     bool
	wg         sync.WaitGroup // tracks in-flight Do operations
	bufferSize int
	idle       time.Duration
	onEvict    func(key any)
}

type worker struct {
	tasks chan *task
	// pending counts tasks that were handed this worker and have not finished.
	pending atomic.Int64
}

type task struct {
	fn   func() error
	done chan error
}

// New creates a new Scheduler.
func New[K comparable](opts ...Option) *Scheduler[K] {
	cfg := &config{bufferSize: 64}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Scheduler[K]{
		workers:    make(map[K]*worker),
		bufferSize: cfg.bufferSize,
		idle:       cfg.idleTimeout,
		onEvict:    cfg.onEvict,
	}
}

// Do schedules fn to run for the given key.
// It blocks until fn finishes and returns its error.
// All fn calls for the same key are executed sequentially.
func (s *Scheduler[K]) Do(key K, fn func() error) error {
	return s.DoContext(context.Background(), key, fn)
}

// DoContext is like Do but respects context cancellation.
// If the context is cancelled while waiting to enqueue or waiting for
// completion, it returns the context error. Note that if a task is already
// enqueued, it will still execute even if the caller's context is cancelled.
func (s *Scheduler[K]) DoContext(ctx context.Context, key K, fn func() error) error {
	return s.do(ctx, key, fn, true)
}

// DoQueued is like DoContext but ctx only bounds the wait for a queue slot.
// Once fn is queued, DoQueued waits for it to finish and returns its error,
// so the caller always learns the outcome of work that ran.
func (s *Scheduler[K]) DoQueued(ctx context.Context, key K, fn func() error) error {
	return s.do(ctx, key, fn, false)
}

func (s *Scheduler[K]) do(ctx context.Context, key K, fn func() error, abandon bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.wg.Add(1)
	w := s.getOrCreateWorkerLocked(key)
	w.pending.Add(1)
	s.mu.Unlock()

	t := &task{
		fn:   fn,
		done: make(chan error, 1),
	}

	// Enqueue task or respect context cancellation.
	select {
	case w.tasks <- t:
		// Task enqueued successfully.
	case <-ctx.Done():
		w.pending.Add(-1)
		s.wg.Done()
		return ctx.Err()
	}

	if !abandon {
		err := <-t.done
		s.wg.Done()
		return err
	}

	// Wait for completion or context cancellation.
	select {
	case err := <-t.done:
		s.wg.Done()
		return err
	case <-ctx.Done():
		// Task is already in the queue and will execute,
		// but we don't wait for it.
		s.wg.Done()
		return ctx.Err()
	}
}

// Close stops accepting new tasks and shuts down all workers.
// It waits for in-flight Do operations to finish enqueueing before
// closing worker channels. Existing tasks in queues will still be processed.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	// Wait for all in-flight Do operations to finish enqueueing.
	// This prevents sends to closed channels.
	s.wg.Wait()

	// Now safe to close all worker channels.
	s.mu.Lock()
	for _, w := range s.workers {
		close(w.tasks)
	}
	s.workers = nil
	s.mu.Unlock()
}

func (s *Scheduler[K]) getOrCreateWorkerLocked(key K) *worker {
	w, ok := s.workers[key]
	if ok {
		return w
	}

	w = &worker{
		tasks: make(chan *task, s.bufferSize),
	}
	s.workers[key] = w
	go s.runWorker(key, w)

	return w
}

// Len returns the number of live workers.
func (s *Scheduler[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// queued returns the number of tasks waiting in key's queue.
func (s *Scheduler[K]) queued(key K) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[key]; ok {
		return len(w.tasks)
	}
	return 0
}

// runWorker processes tasks sequentially for a single key.
func (s *Scheduler[K]) runWorker(key K, w *worker) {
	if s.idle <= 0 {
		for t := range w.tasks {
			t.done <- t.fn()
			w.pending.Add(-1)
		}
		return
	}

	timer := time.NewTimer(s.idle)
	defer timer.Stop()

	for {
		select {
		case t, ok := <-w.tasks:
			if !ok {
				return
			}
			t.done <- t.fn()
			w.pending.Add(-1)
			timer.Reset(s.idle)
		case <-timer.C:
			if s.evict(key, w) {
				return
			}
			timer.Reset(s.idle)
		}
	}
}

// evict removes w if no task was handed to it in the meantime.
func (s *Scheduler[K]) evict(key K, w *worker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || w.pending.Load() > 0 {
		return false
	}
	if s.workers[key] == w {
		delete(s.workers, key)
	}
	if s.onEvict != nil {
		s.onEvict(key)
	}
	return true
}

// ErrSchedulerClosed is returned when Do is called on a closed scheduler.
var ErrSchedulerClosed = errors.New("perkey: scheduler is closed")
