package es

import (
	"fmt"
	"log/slog"
	"reflect"
)

// Entity is a registered Definition bound to its collaborators. It is
// immutable and shared by every processor of the entity type.
type Entity[S any] struct {
	stream    string
	stateType string
	initial   func() S

	log     *slog.Logger
	metrics ESMetrics

	cursor    CursorReader
	appender  StreamAppender
	snapshots SnapshotCache[S]
	converter *Converter

	handlers   *RootCommandHandler[S]
	reducer    *RootReducer[S]
	effects    *EffectIndex[S]
	async      map[reflect.Type][]string
	dispatcher EffectDispatcher

	maxEffectIterations int
}

// Register binds def to env: its events and state type are registered, a
// snapshot cache is created and its fire-and-forget effects are handed to the
// environment's effect pool.
func Register[S any](env *Env, def Definition[S]) (*Entity[S], error) {
	if err := def.validate(); err != nil {
		return nil, err
	}

	for _, ev := range def.Events {
		if !env.events.Register(ev.Name, ev.Type) {
			if n, _ := env.events.ResolveName(ev.Type); n != ev.Name {
				env.log.Warn("event registration ignored", slog.String("name", ev.Name), slog.String("type", ev.Type.String()))
			}
		}
	}

	stateType := def.StateType
	if stateType == "" {
		stateType = typeNameFor[S]()
	}
	env.states.Register(stateType, reflect.TypeFor[S]())
	if t, ok := env.states.ResolveType(stateType); !ok || t != reflect.TypeFor[S]() {
		return nil, fmt.Errorf("state type %s is registered for %v", stateType, t)
	}

	initial := def.Initial
	if initial == nil {
		initial = func() (s S) { return }
	}

	async := make(map[reflect.Type][]string)
	for _, f := range def.FireAndForget {
		async[f.EventType] = append(async[f.EventType], f.Effect)
	}

	reducer := NewRootReducer(def.Reducers...)
	e := &Entity[S]{
		stream:              def.Stream,
		stateType:           stateType,
		initial:             initial,
		log:                 env.log.With(slog.String("stream", def.Stream)),
		metrics:             env.metrics,
		cursor:              env.store,
		appender:            env.store,
		converter:           env.converter,
		handlers:            NewRootCommandHandler(def.Handlers...),
		reducer:             reducer,
		effects:             NewEffectIndex(def.Effects...),
		async:               async,
		dispatcher:          env.dispatcher,
		maxEffectIterations: env.maxEffectIterations,
	}
	snapshots := NewRetainedSnapshotCache(
		env.store,
		env.converter,
		reducer,
		initial,
		append([]SnapshotCacheOption{WithLog(env.log), WithMetrics(env.metrics)}, env.snapshotOpts...)...,
	)
	e.snapshots = snapshots
	env.onShutdown(snapshots.Close)

	if len(def.AsyncEffects) > 0 {
		env.addEffectRunner(NewEffectWorker(
			stateType,
			env.converter,
			def.AsyncEffects,
			WithLog(env.log),
			WithEffectMetrics(env.effectMetrics),
		))
	}

	env.log.Debug(
		"registered entity",
		slog.String("stream", def.Stream),
		slog.String("state_type", stateType),
		slog.String("reducer_hash", reducer.Hash()),
		slog.Int("handlers", e.handlers.Len()),
		slog.Int("effects", e.effects.Len()),
	)
	return e, nil
}

func (e *Entity[S]) Stream() string              { return e.stream }
func (e *Entity[S]) StateType() string           { return e.stateType }
func (e *Entity[S]) Reducer() *RootReducer[S]    { return e.reducer }
func (e *Entity[S]) Snapshots() SnapshotCache[S] { return e.snapshots }

// Key returns the entity key of id.
func (e *Entity[S]) Key(id string) EntityKey { return EntityKey{Stream: e.stream, ID: id} }

// SnapshotKey returns the snapshot key of id at p.
func (e *Entity[S]) SnapshotKey(id string, p Position) SnapshotKey {
	return SnapshotKey{
		Stream:      e.stream,
		StateType:   e.stateType,
		EntityID:    id,
		ReducerHash: e.reducer.Hash(),
		Position:    p,
	}
}

// NewProcessor returns a processor for the entity id. Only one processor per
// key should be active at a time.
func (e *Entity[S]) NewProcessor(id string) (*Processor[S], error) {
	key := e.Key(id)
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return &Processor[S]{
		entity: e,
		key:    key,
		log:    e.log.With(key.SlogAttr()),
		pos:    NoPosition,
	}, nil
}
