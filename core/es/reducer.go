package es

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Reducer folds one event onto a state.
type Reducer[S any] interface {
	// EventType is the exact event type the reducer applies to. A nil type
	// puts the reducer in the fallback list, which sees every event.
	EventType() reflect.Type
	Reduce(state S, event any) (S, error)
}

// Describer lets a reducer contribute a stable descriptor to the reducer-set
// hash. Bump the descriptor when the reduction logic changes.
type Describer interface {
	Describe() string
}

type reducerFunc[E any, S any] struct {
	fn func(S, E) S
}

func (r reducerFunc[E, S]) EventType() reflect.Type { return reflect.TypeFor[E]() }

func (r reducerFunc[E, S]) Reduce(state S, event any) (S, error) {
	e, ok := event.(E)
	if !ok {
		return state, fmt.Errorf("reducer for %s got %T", reflect.TypeFor[E](), event)
	}
	return r.fn(state, e), nil
}

// ReduceEvent wraps a plain function reducing events of exactly type E.
func ReduceEvent[E any, S any](fn func(state S, event E) S) Reducer[S] {
	return reducerFunc[E, S]{fn: fn}
}

// RootReducer applies every reducer matching an event, in registration order.
type RootReducer[S any] struct {
	byType   map[reflect.Type][]Reducer[S]
	fallback []Reducer[S]
	hash     string
}

func NewRootReducer[S any](reducers ...Reducer[S]) *RootReducer[S] {
	r := &RootReducer[S]{byType: make(map[reflect.Type][]Reducer[S])}
	descriptors := make([]string, 0, len(reducers))
	for _, red := range reducers {
		if red == nil {
			continue
		}
		t := red.EventType()
		if t == nil {
			r.fallback = append(r.fallback, red)
		} else {
			r.byType[t] = append(r.byType[t], red)
		}
		descriptors = append(descriptors, describeReducer(red))
	}
	r.hash = hashDescriptors(reflect.TypeFor[S]().String(), descriptors)
	return r
}

// Reduce folds event onto state. Events without a reducer leave state unchanged.
func (r *RootReducer[S]) Reduce(state S, event any) (S, error) {
	var err error
	if event == nil {
		return state, nil
	}
	for _, red := range r.byType[reflect.TypeOf(event)] {
		if state, err = red.Reduce(state, event); err != nil {
			return state, err
		}
	}
	for _, red := range r.fallback {
		if state, err = red.Reduce(state, event); err != nil {
			return state, err
		}
	}
	return state, nil
}

func (r *RootReducer[S]) ReduceAll(state S, events ...any) (S, error) {
	var err error
	for _, ev := range events {
		if state, err = r.Reduce(state, ev); err != nil {
			return state, err
		}
	}
	return state, nil
}

// Hash identifies the reducer set. Snapshots are keyed by it so that cached
// states are not reused once the reducers change.
func (r *RootReducer[S]) Hash() string { return r.hash }

func describeReducer(r any) string {
	var et string
	if red, ok := r.(interface{ EventType() reflect.Type }); ok && red.EventType() != nil {
		et = red.EventType().String()
	} else {
		et = "*"
	}
	d := fmt.Sprintf("%s=%T", et, r)
	if ds, ok := r.(Describer); ok {
		d += "#" + ds.Describe()
	}
	return d
}

func hashDescriptors(prefix string, descriptors []string) string {
	sorted := append([]string(nil), descriptors...)
	sort.Strings(sorted)
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(prefix))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}
