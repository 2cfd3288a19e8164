package es

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type envOptions struct {
	ctx                 context.Context
	log                 *slog.Logger
	metrics             ESMetrics
	effectMetrics       EffectMetrics
	store               EventStore
	codecs              *Codecs
	dispatcher          EffectDispatcher
	maxEffectIterations int
	snapshotOpts        []SnapshotCacheOption
	poolOpts            []EffectPoolOption
	stopTimeout         time.Duration
}

// EnvOption configures an Env.
type EnvOption interface {
	applyToEnv(*envOptions)
}

type envOptionFunc func(*envOptions)

func (f envOptionFunc) applyToEnv(o *envOptions) { f(o) }

// WithEffectPool configures the local fire-and-forget effect pool.
func WithEffectPool(opts ...EffectPoolOption) EnvOption {
	return envOptionFunc(func(o *envOptions) { o.poolOpts = append(o.poolOpts, opts...) })
}

// WithStopTimeout bounds how long Shutdown waits for queued effects.
func WithStopTimeout(d time.Duration) EnvOption {
	return envOptionFunc(func(o *envOptions) { o.stopTimeout = d })
}

const DefaultMaxEffectIterations = 10

func newEnvOptions(opts ...EnvOption) envOptions {
	options := envOptions{
		ctx:                 context.Background(),
		metrics:             NopESMetrics(),
		effectMetrics:       NopEffectMetrics(),
		maxEffectIterations: DefaultMaxEffectIterations,
		stopTimeout:         10 * time.Second,
	}
	for _, opt := range opts {
		opt.applyToEnv(&options)
	}
	if options.store == nil {
		options.store = NewInMemoryStore()
	}
	if options.codecs == nil {
		options.codecs = DefaultCodecs()
	}
	if options.maxEffectIterations < 0 {
		options.maxEffectIterations = 0
	}
	return options
}

// Env holds the collaborators shared by all entity types of a process: the
// event store, the type registries, the converter and the fire-and-forget
// effect pool.
type Env struct {
	ctx          context.Context
	cancelCtx    context.CancelFunc
	id           string
	done         chan struct{}
	shutdownOnce sync.Once

	log           *slog.Logger
	metrics       ESMetrics
	effectMetrics EffectMetrics

	store     EventStore
	events    *EventRegistry
	states    *SnapshotRegistry
	converter *Converter

	pool                *EffectPool
	dispatcher          EffectDispatcher
	maxEffectIterations int
	snapshotOpts        []SnapshotCacheOption
	stopTimeout         time.Duration

	mu      sync.Mutex
	closers []func()
}

func NewEnv(opts ...EnvOption) (*Env, error) {
	var (
		id      = gonanoid.Must(6)
		options = newEnvOptions(opts...)
	)

	log := options.log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("env", id))

	events := NewEventRegistry()
	e := &Env{
		id:                  id,
		done:                make(chan struct{}),
		log:                 log,
		metrics:             options.metrics,
		effectMetrics:       options.effectMetrics,
		store:               options.store,
		events:              events,
		states:              NewSnapshotRegistry(),
		converter:           NewConverter(events, options.codecs),
		maxEffectIterations: options.maxEffectIterations,
		snapshotOpts:        options.snapshotOpts,
		stopTimeout:         options.stopTimeout,
	}
	e.ctx, e.cancelCtx = context.WithCancel(options.ctx)

	e.pool = NewEffectPool(
		nil,
		append([]EffectPoolOption{WithLog(log), WithEffectMetrics(options.effectMetrics)}, options.poolOpts...)...,
	)
	// workers outlive ctx so queued effects drain on Shutdown
	if err := e.pool.Start(context.WithoutCancel(e.ctx)); err != nil {
		return nil, err
	}
	e.dispatcher = options.dispatcher
	if e.dispatcher == nil {
		e.dispatcher = e.pool
	}

	context.AfterFunc(e.ctx, func() {
		e.log.Info("shutting down")
		if err := e.pool.Stop(e.stopTimeout); err != nil {
			e.log.Warn("effect pool did not stop", slog.Any("error", err))
		}
		e.mu.Lock()
		closers := e.closers
		e.closers = nil
		e.mu.Unlock()
		for _, fn := range closers {
			fn()
		}
		e.log.Info("env shutdown")
		close(e.done)
	})

	return e, nil
}

func (e *Env) ID() string                   { return e.id }
func (e *Env) Store() EventStore            { return e.store }
func (e *Env) Events() *EventRegistry       { return e.events }
func (e *Env) States() *SnapshotRegistry    { return e.states }
func (e *Env) Converter() *Converter        { return e.converter }
func (e *Env) EffectPool() *EffectPool      { return e.pool }
func (e *Env) Dispatcher() EffectDispatcher { return e.dispatcher }

// EffectRunners returns the effect runners of all registered entities, for
// hosting them behind a remote dispatcher.
func (e *Env) EffectRunners() []EffectRunner { return e.pool.Runners() }

func (e *Env) addEffectRunner(r EffectRunner) {
	if !e.pool.Register(r) {
		e.log.Warn("effect runner already registered", slog.String("state_type", r.StateType()))
	}
}

// onShutdown registers fn to run once the effect pool has stopped.
func (e *Env) onShutdown(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closers = append(e.closers, fn)
}

// Shutdown stops the local effect pool, waiting for queued effects, and
// releases the snapshot caches of registered entities.
func (e *Env) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.cancelCtx()
		<-e.done
	})
}
