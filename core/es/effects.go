package es

import (
	"context"
	"fmt"
	"iter"
	"reflect"
)

// EventEffect reacts synchronously to a persisted event and may yield further
// events, which the processor persists and feeds back into the effect chain.
type EventEffect[S any] interface {
	// EventType is the exact event type the effect reacts to. A nil type puts
	// the effect in the fallback list, checked for every event.
	EventType() reflect.Type
	CanHandle(event any) bool
	// Handle lazily yields derived events. A yielded error is reported and
	// does not stop the remaining effects.
	Handle(ctx context.Context, event any, state S) iter.Seq2[any, error]
}

type effectFunc[E any, S any] struct {
	name string
	fn   func(ctx context.Context, event E, state S) iter.Seq2[any, error]
}

func (f effectFunc[E, S]) EventType() reflect.Type { return reflect.TypeFor[E]() }

func (f effectFunc[E, S]) CanHandle(event any) bool {
	_, ok := event.(E)
	return ok
}

func (f effectFunc[E, S]) Handle(ctx context.Context, event any, state S) iter.Seq2[any, error] {
	e, ok := event.(E)
	if !ok {
		return func(func(any, error) bool) {}
	}
	return f.fn(ctx, e, state)
}

func (f effectFunc[E, S]) String() string { return f.name }

// EffectFunc wraps a function reacting to events of exactly type E.
func EffectFunc[E any, S any](name string, fn func(ctx context.Context, event E, state S) iter.Seq2[any, error]) EventEffect[S] {
	return effectFunc[E, S]{name: name, fn: fn}
}

// EffectSlice wraps a function that returns all derived events at once.
func EffectSlice[E any, S any](name string, fn func(ctx context.Context, event E, state S) ([]any, error)) EventEffect[S] {
	return EffectFunc(name, func(ctx context.Context, event E, state S) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			events, err := fn(ctx, event, state)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, ev := range events {
				if !yield(ev, nil) {
					return
				}
			}
		}
	})
}

// EffectError reports a failure of a single effect.
type EffectError struct {
	Effect string
	Event  string
	Err    error
}

func (e *EffectError) Error() string {
	return fmt.Sprintf("effect %s failed on %s: %v", e.Effect, e.Event, e.Err)
}

func (e *EffectError) Unwrap() error { return e.Err }

// EffectIndex routes events to the synchronous effects of one state type.
// It is built once and read-only afterwards.
type EffectIndex[S any] struct {
	byType   map[reflect.Type][]EventEffect[S]
	fallback []EventEffect[S]
	n        int
}

func NewEffectIndex[S any](effects ...EventEffect[S]) *EffectIndex[S] {
	x := &EffectIndex[S]{byType: make(map[reflect.Type][]EventEffect[S])}
	for _, eff := range effects {
		if eff == nil {
			continue
		}
		x.n++
		if t := eff.EventType(); t != nil {
			x.byType[t] = append(x.byType[t], eff)
			continue
		}
		x.fallback = append(x.fallback, eff)
	}
	return x
}

func (x *EffectIndex[S]) Len() int { return x.n }

// Dispatch lazily runs every indexed effect for the exact type of event and
// then every fallback effect, yielding the events they produce. Effect
// failures, panics included, are yielded as *EffectError values.
func (x *EffectIndex[S]) Dispatch(ctx context.Context, event any, state S) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		if event == nil {
			return
		}
		for _, eff := range x.byType[reflect.TypeOf(event)] {
			if !x.run(ctx, eff, event, state, yield) {
				return
			}
		}
		for _, eff := range x.fallback {
			if !x.run(ctx, eff, event, state, yield) {
				return
			}
		}
	}
}

func (x *EffectIndex[S]) run(
	ctx context.Context,
	eff EventEffect[S],
	event any,
	state S,
	yield func(any, error) bool,
) (cont bool) {
	if !eff.CanHandle(event) {
		return true
	}

	fail := func(err error) error {
		return &EffectError{Effect: effectName(eff), Event: reflect.TypeOf(event).String(), Err: err}
	}

	inYield := false
	defer func() {
		if rec := recover(); rec != nil {
			// panics raised by the consumer belong to the consumer
			if inYield || isFatal(rec) {
				panic(rec)
			}
			cont = yield(nil, fail(fmt.Errorf("panic: %v", rec)))
		}
	}()

	for ev, err := range eff.Handle(ctx, event, state) {
		if err != nil {
			err = fail(err)
		}
		inYield = true
		if !yield(ev, err) {
			return false
		}
		inYield = false
	}
	return true
}

func effectName(v any) string {
	switch n := v.(type) {
	case interface{ Name() string }:
		return n.Name()
	case fmt.Stringer:
		return n.String()
	}
	return fmt.Sprintf("%T", v)
}
