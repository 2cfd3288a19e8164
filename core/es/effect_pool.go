package es

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolNotStarted     = errors.New("effect pool not started")
	ErrPoolStopped        = errors.New("effect pool stopped")
	ErrPoolAlreadyStarted = errors.New("effect pool already started")
	ErrQueueFull          = errors.New("effect pool queue full")
	ErrNoEffectRunner     = errors.New("no effect runner for state type")
	ErrStopTimeout        = errors.New("timeout waiting for effect workers to stop")
)

// EffectPool is a fixed-size pool of goroutines draining a bounded queue of
// effect envelopes. Envelopes are routed to the runner of their state type.
type EffectPool struct {
	workers   int
	queueSize int
	log       *slog.Logger
	metrics   EffectMetrics

	runnersMu sync.RWMutex
	runners   map[string]EffectRunner

	queue chan EffectEnvelope
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

type effectPoolOpts struct {
	log       *slog.Logger
	metrics   EffectMetrics
	workers   int
	queueSize int
}

// EffectPoolOption configures an EffectPool.
type EffectPoolOption interface {
	applyToEffectPool(*effectPoolOpts)
}

type effectPoolOptionFunc func(*effectPoolOpts)

func (f effectPoolOptionFunc) applyToEffectPool(o *effectPoolOpts) { f(o) }

func WithWorkers(n int) EffectPoolOption {
	return effectPoolOptionFunc(func(o *effectPoolOpts) { o.workers = n })
}

func WithQueueSize(n int) EffectPoolOption {
	return effectPoolOptionFunc(func(o *effectPoolOpts) { o.queueSize = n })
}

func NewEffectPool(runners []EffectRunner, opts ...EffectPoolOption) *EffectPool {
	o := effectPoolOpts{
		log:       slog.Default(),
		metrics:   NopEffectMetrics(),
		workers:   8,
		queueSize: 1024,
	}
	for _, opt := range opts {
		opt.applyToEffectPool(&o)
	}
	if o.workers <= 0 {
		o.workers = 8
	}
	if o.queueSize <= 0 {
		o.queueSize = 1024
	}

	byType := make(map[string]EffectRunner, len(runners))
	for _, r := range runners {
		if r == nil {
			continue
		}
		if _, ok := byType[r.StateType()]; !ok {
			byType[r.StateType()] = r
		}
	}

	return &EffectPool{
		workers:   o.workers,
		queueSize: o.queueSize,
		log:       o.log.With(slog.String("component", "effect_pool")),
		metrics:   o.metrics,
		runners:   byType,
		queue:     make(chan EffectEnvelope, o.queueSize),
	}
}

// Start launches the workers. They exit when ctx is done or the pool is stopped.
func (p *EffectPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started = true
	p.log.Debug("started", slog.Int("workers", p.workers), slog.Int("queue_size", p.queueSize))
	return nil
}

// Submit enqueues env without blocking.
func (p *EffectPool) Submit(env EffectEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.queue <- env:
		p.submitted.Add(1)
		p.metrics.EffectQueueDepth(len(p.queue))
		return nil
	default:
		p.dropped.Add(1)
		p.metrics.EffectDropped(env.StateType)
		return ErrQueueFull
	}
}

// Dispatch submits env and logs instead of returning failures.
func (p *EffectPool) Dispatch(env EffectEnvelope) {
	if err := p.Submit(env); err != nil {
		p.log.Warn("effect dropped", env.logAttrs(), slog.Any("error", err))
	}
}

// Stop closes the queue and waits up to timeout for queued work to finish.
func (p *EffectPool) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	close(p.queue)
	p.stopped = true
	// Submit fails fast from here on
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// EffectPoolStats is a point-in-time view of the pool counters.
type EffectPoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *EffectPool) Stats() EffectPoolStats {
	return EffectPoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.queue),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

func (p *EffectPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-p.queue:
			if !ok {
				return
			}
			if p.run(ctx, env) != EffectSucceeded {
				p.failed.Add(1)
			}
			p.processed.Add(1)
		}
	}
}

// Register adds a runner. The first runner of a state type wins.
func (p *EffectPool) Register(r EffectRunner) bool {
	p.runnersMu.Lock()
	defer p.runnersMu.Unlock()
	if _, ok := p.runners[r.StateType()]; ok {
		return false
	}
	p.runners[r.StateType()] = r
	return true
}

func (p *EffectPool) Runners() []EffectRunner {
	p.runnersMu.RLock()
	defer p.runnersMu.RUnlock()
	out := make([]EffectRunner, 0, len(p.runners))
	for _, r := range p.runners {
		out = append(out, r)
	}
	return out
}

func (p *EffectPool) run(ctx context.Context, env EffectEnvelope) EffectOutcome {
	p.runnersMu.RLock()
	r, ok := p.runners[env.StateType]
	p.runnersMu.RUnlock()
	if !ok {
		p.log.Error("effect failed", env.logAttrs(), slog.Any("error", ErrNoEffectRunner))
		p.metrics.EffectFailed(env.StateType, env.Effect, string(EffectNotFound))
		return EffectNotFound
	}
	return r.Run(ctx, env)
}

var _ EffectDispatcher = (*EffectPool)(nil)
