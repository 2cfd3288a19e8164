package es

import (
	"context"
	"log/slog"

	"github.com/Gibbs-Morris/mississippi-sub002/ports/kv"
)

type (
	valueOption[T any] struct{ v T }

	LogOption            valueOption[*slog.Logger]
	ESMetricsOption      valueOption[ESMetrics]
	EffectMetricsOption  valueOption[EffectMetrics]
	StoreOption          valueOption[EventStore]
	CodecsOption         valueOption[*Codecs]
	ContextOption        valueOption[context.Context]
	DispatcherOption     valueOption[EffectDispatcher]
	MaxIterationsOption  valueOption[int]
	SnapshotStoreOption  valueOption[kv.Store]
	SnapshotCacheOptions valueOption[[]SnapshotCacheOption]
	EnvOpts              valueOption[[]EnvOption]
)

func WithLog(l *slog.Logger) LogOption                      { return LogOption{v: l} }
func WithMetrics(m ESMetrics) ESMetricsOption               { return ESMetricsOption{v: m} }
func WithEffectMetrics(m EffectMetrics) EffectMetricsOption { return EffectMetricsOption{v: m} }
func WithStore(s EventStore) StoreOption                    { return StoreOption{v: s} }
func WithCodecs(c *Codecs) CodecsOption                     { return CodecsOption{v: c} }
func WithCtx(ctx context.Context) ContextOption             { return ContextOption{v: ctx} }
func WithEnvOpts(opts ...EnvOption) EnvOpts                 { return EnvOpts{v: opts} }

// WithEffectDispatcher routes fire-and-forget effects to d instead of the
// environment's local pool.
func WithEffectDispatcher(d EffectDispatcher) DispatcherOption { return DispatcherOption{v: d} }

// WithMaxEffectIterations bounds the synchronous effect chain of one command.
func WithMaxEffectIterations(n int) MaxIterationsOption { return MaxIterationsOption{v: n} }

// WithSnapshots configures the snapshot caches created by the environment.
func WithSnapshots(opts ...SnapshotCacheOption) SnapshotCacheOptions {
	return SnapshotCacheOptions{v: opts}
}

func (o LogOption) applyToEnv(e *envOptions)                          { e.log = o.v }
func (o LogOption) applyToSnapshotCache(c *snapshotCacheOpts)         { c.log = o.v }
func (o LogOption) applyToEffectWorker(w *effectWorkerOpts)           { w.log = o.v }
func (o LogOption) applyToEffectPool(p *effectPoolOpts)               { p.log = o.v }
func (o LogOption) applyToHost(h *hostOpts)                           { h.log = o.v }
func (o ESMetricsOption) applyToEnv(e *envOptions)                    { e.metrics = o.v }
func (o ESMetricsOption) applyToSnapshotCache(c *snapshotCacheOpts)   { c.metrics = o.v }
func (o EffectMetricsOption) applyToEnv(e *envOptions)                { e.effectMetrics = o.v }
func (o EffectMetricsOption) applyToEffectWorker(w *effectWorkerOpts) { w.metrics = o.v }
func (o EffectMetricsOption) applyToEffectPool(p *effectPoolOpts)     { p.metrics = o.v }
func (o StoreOption) applyToEnv(e *envOptions)                        { e.store = o.v }
func (o CodecsOption) applyToEnv(e *envOptions)                       { e.codecs = o.v }
func (o ContextOption) applyToEnv(e *envOptions)                      { e.ctx = o.v }
func (o DispatcherOption) applyToEnv(e *envOptions)                   { e.dispatcher = o.v }
func (o MaxIterationsOption) applyToEnv(e *envOptions)                { e.maxEffectIterations = o.v }
func (o SnapshotStoreOption) applyToEnv(e *envOptions) {
	e.snapshotOpts = append(e.snapshotOpts, WithSnapshotStore(o.v))
}
func (o SnapshotCacheOptions) applyToEnv(e *envOptions) {
	e.snapshotOpts = append(e.snapshotOpts, o.v...)
}
func (o EnvOpts) applyToEnv(e *envOptions) {
	for _, opt := range o.v {
		opt.applyToEnv(e)
	}
}

// WithSnapshotKV persists retained snapshots in s.
func WithSnapshotKV(s kv.Store) SnapshotStoreOption { return SnapshotStoreOption{v: s} }
