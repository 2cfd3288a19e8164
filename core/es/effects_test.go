package es

import (
	"context"
	"errors"
	"iter"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type anyEvent struct{ calls *int }

func (anyEvent) EventType() reflect.Type { return nil }
func (anyEvent) CanHandle(any) bool      { return true }
func (a anyEvent) Handle(context.Context, any, tally) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		*a.calls++
		yield("fallback", nil)
	}
}

func collect(seq iter.Seq2[any, error]) (events []any, errs []error) {
	for ev, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, ev)
	}
	return
}

func TestEffectIndex_Dispatch(t *testing.T) {
	var fallbackCalls int
	x := NewEffectIndex(
		EffectSlice("double", func(_ context.Context, e bumped, _ tally) ([]any, error) {
			return []any{bumped{By: e.By * 2}}, nil
		}),
		EffectSlice("noop", func(context.Context, bumped, tally) ([]any, error) { return nil, nil }),
		anyEvent{calls: &fallbackCalls},
		EffectSlice("other", func(context.Context, shout, tally) ([]any, error) {
			return []any{"unexpected"}, nil
		}),
	)
	require.Equal(t, 4, x.Len())

	events, errs := collect(x.Dispatch(t.Context(), bumped{By: 3}, tally{}))
	require.Empty(t, errs)
	assert.Equal(t, []any{bumped{By: 6}, "fallback"}, events)
	assert.Equal(t, 1, fallbackCalls)
}

func TestEffectIndex_IsLazy(t *testing.T) {
	var produced int
	x := NewEffectIndex(EffectFunc("stream", func(context.Context, bumped, tally) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			for i := 0; ; i++ {
				produced++
				if !yield(i, nil) {
					return
				}
			}
		}
	}))

	seq := x.Dispatch(t.Context(), bumped{}, tally{})
	require.Zero(t, produced)
	for ev := range seq {
		if ev.(int) == 2 {
			break
		}
	}
	assert.Equal(t, 3, produced)
}

func TestEffectIndex_IsolatesFailures(t *testing.T) {
	boom := errors.New("boom")
	x := NewEffectIndex(
		EffectSlice("fails", func(context.Context, bumped, tally) ([]any, error) { return nil, boom }),
		EffectSlice("panics", func(context.Context, bumped, tally) ([]any, error) { panic("bad effect") }),
		EffectSlice("works", func(context.Context, bumped, tally) ([]any, error) { return []any{"ok"}, nil }),
	)

	events, errs := collect(x.Dispatch(t.Context(), bumped{}, tally{}))
	assert.Equal(t, []any{"ok"}, events)
	require.Len(t, errs, 2)
	require.ErrorIs(t, errs[0], boom)

	var ee *EffectError
	require.ErrorAs(t, errs[1], &ee)
	assert.Equal(t, "panics", ee.Effect)
	assert.Contains(t, ee.Error(), "bad effect")
}

func TestEffectIndex_FatalPanicsPropagate(t *testing.T) {
	x := NewEffectIndex(EffectSlice("fatal", func(context.Context, bumped, tally) ([]any, error) { panic(oomPanic{}) }))
	require.Panics(t, func() { collect(x.Dispatch(t.Context(), bumped{}, tally{})) })
}

func TestEffectIndex_ConsumerPanicsAreNotSwallowed(t *testing.T) {
	x := NewEffectIndex(EffectSlice("one", func(context.Context, bumped, tally) ([]any, error) { return []any{1}, nil }))
	require.PanicsWithValue(t, "consumer", func() {
		for range x.Dispatch(t.Context(), bumped{}, tally{}) {
			panic("consumer")
		}
	})
}
