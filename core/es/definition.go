package es

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// EventRegistration names an event type for the event registry.
type EventRegistration struct {
	Name string
	Type reflect.Type
}

// Event registers T under name, or under its default name.
func Event[T any](name ...string) EventRegistration {
	return EventRegistration{Name: typeNameFor[T](name...), Type: reflect.TypeFor[T]()}
}

// Definition describes one entity type: its stream, its state and the
// handlers, reducers and effects operating on it.
type Definition[S any] struct {
	// Stream is the stream name shared by all entities of this type.
	Stream string
	// StateType names S in the snapshot registry. Defaults to the Go type name.
	StateType string
	// Initial returns the state of an entity with an empty stream.
	Initial func() S

	Events   []EventRegistration
	Handlers []CommandHandler[S]
	Reducers []Reducer[S]

	// Effects run synchronously after each append and may yield more events.
	Effects []EventEffect[S]
	// FireAndForget binds event types to AsyncEffects by name.
	FireAndForget []FireAndForget
	AsyncEffects  []FireAndForgetEffect[S]
}

func (d Definition[S]) validate() error {
	var errs []error
	if d.Stream == "" {
		errs = append(errs, errors.New("stream is required"))
	}
	if strings.ContainsAny(d.Stream, "/ .*>") {
		errs = append(errs, fmt.Errorf("stream %q contains reserved characters", d.Stream))
	}
	if len(d.Handlers) == 0 {
		errs = append(errs, errors.New("at least one command handler is required"))
	}
	for _, f := range d.FireAndForget {
		if f.EventType == nil || f.Effect == "" {
			errs = append(errs, fmt.Errorf("invalid fire-and-forget registration %+v", f))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid definition %s: %w", d.Stream, errors.Join(errs...))
	}
	return nil
}
