package es

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/Gibbs-Morris/mississippi-sub002/core/reflector"
)

// TypeRegistry is a bidirectional mapping between a stable type name and
// its Go type. It is populated at startup and read concurrently afterwards.
// The first registration of a name or a type wins; later duplicates are ignored.
type TypeRegistry struct {
	mu       sync.RWMutex
	types    map[string]reflect.Type
	names    map[reflect.Type]string
	notFound error
}

func newTypeRegistry(notFound error) *TypeRegistry {
	return &TypeRegistry{
		types:    map[string]reflect.Type{},
		names:    map[reflect.Type]string{},
		notFound: notFound,
	}
}

// EventRegistry maps event type names to Go types so we can encode and decode persisted events.
type EventRegistry struct{ *TypeRegistry }

// SnapshotRegistry maps entity state type names to Go types for snapshot naming.
type SnapshotRegistry struct{ *TypeRegistry }

func NewEventRegistry() *EventRegistry { return &EventRegistry{newTypeRegistry(ErrUnknownEventType)} }

func NewSnapshotRegistry() *SnapshotRegistry {
	return &SnapshotRegistry{newTypeRegistry(ErrUnknownStateType)}
}

// Register adds name <-> t. It reports whether the pair was stored; either
// side being registered already means the call is ignored.
func (r *TypeRegistry) Register(name string, t reflect.Type) bool {
	if name == "" || t == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[name]; ok {
		return false
	}
	if _, ok := r.names[t]; ok {
		return false
	}
	r.types[name] = t
	r.names[t] = name
	return true
}

func (r *TypeRegistry) ResolveType(name string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

func (r *TypeRegistry) ResolveName(t reflect.Type) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.names[t]
	return n, ok
}

// NameOf resolves the registered name of v's dynamic type.
func (r *TypeRegistry) NameOf(v any) (string, error) {
	t := reflect.TypeOf(v)
	if n, ok := r.ResolveName(t); ok {
		return n, nil
	}
	return "", fmt.Errorf("%w: %s", r.notFound, t)
}

// New returns a pointer to a fresh zero value of the type registered as name.
func (r *TypeRegistry) New(name string) (any, reflect.Type, error) {
	t, ok := r.ResolveType(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", r.notFound, name)
	}
	return reflect.New(t).Interface(), t, nil
}

func (r *TypeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for n := range r.types {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *TypeRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

type Registrar interface {
	Register(name string, t reflect.Type) bool
}

// RegisterEvent registers T under name, or under its default name when name is omitted.
func RegisterEvent[T any](r Registrar, name ...string) bool {
	return r.Register(typeNameFor[T](name...), reflect.TypeFor[T]())
}

// RegisterState registers the entity state type T for snapshot naming.
func RegisterState[T any](r Registrar, name ...string) bool {
	return r.Register(typeNameFor[T](name...), reflect.TypeFor[T]())
}

// EventTyper lets an event declare its own stable type name.
type EventTyper interface{ EventType() string }

func typeNameFor[T any](name ...string) string {
	if len(name) > 0 && name[0] != "" {
		return name[0]
	}
	var z T
	if et, ok := any(z).(EventTyper); ok {
		return et.EventType()
	}
	return reflector.TypeInfoFor[T]().ShortName
}
