package es

import (
	"fmt"
	"reflect"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// IDGenerator is a function that generates unique IDs for events.
type IDGenerator func() string

// DefaultIDGenerator returns the default ID generator using nanoid.
func DefaultIDGenerator() IDGenerator {
	return func() string { return gonanoid.Must() }
}

// Converter turns domain events into envelopes and back. Type names are
// resolved through the event registry; an event type missing from the
// registry fails the conversion.
type Converter struct {
	registry *EventRegistry
	codecs   *Codecs
	newID    IDGenerator
	now      func() time.Time
}

func NewConverter(registry *EventRegistry, codecs *Codecs) *Converter {
	if codecs == nil {
		codecs = DefaultCodecs()
	}
	return &Converter{
		registry: registry,
		codecs:   codecs,
		newID:    DefaultIDGenerator(),
		now:      time.Now,
	}
}

// WithIDGenerator returns a copy of the converter using gen for envelope IDs.
func (c *Converter) WithIDGenerator(gen IDGenerator) *Converter {
	cc := *c
	cc.newID = gen
	return &cc
}

func (c *Converter) Registry() *EventRegistry { return c.registry }
func (c *Converter) Codecs() *Codecs          { return c.codecs }

// ToEnvelope encodes a single event at the given position.
func (c *Converter) ToEnvelope(key EntityKey, pos Position, event any) (Envelope, error) {
	name, err := c.registry.NameOf(event)
	if err != nil {
		return Envelope{}, err
	}
	codec := c.codecs.Default()
	data, err := codec.Marshal(event)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode event %s: %w", name, err)
	}
	env := Envelope{
		ID:          c.newID(),
		Type:        name,
		Stream:      key.Stream,
		EntityID:    key.ID,
		Position:    pos,
		OccurredAt:  c.now(),
		ContentType: codec.ContentType(),
		Data:        data,
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// ToEnvelopes encodes events with contiguous positions following after.
func (c *Converter) ToEnvelopes(key EntityKey, after Position, events []any) ([]Envelope, error) {
	out := make([]Envelope, 0, len(events))
	for i, ev := range events {
		env, err := c.ToEnvelope(key, after.Add(i+1), ev)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

// FromEnvelope decodes env into a value of exactly the registered type.
func (c *Converter) FromEnvelope(env Envelope) (any, error) {
	ptr, _, err := c.registry.New(env.Type)
	if err != nil {
		return nil, err
	}
	codec, err := c.codecs.For(env.ContentType)
	if err != nil {
		return nil, err
	}
	if len(env.Data) > 0 {
		if err := codec.Unmarshal(env.Data, ptr); err != nil {
			return nil, fmt.Errorf("failed to decode event %s at %s: %w", env.Type, env.Position, err)
		}
	}
	return reflect.ValueOf(ptr).Elem().Interface(), nil
}

// FromEnvelopes decodes envs in order.
func (c *Converter) FromEnvelopes(envs []Envelope) ([]any, error) {
	out := make([]any, 0, len(envs))
	for _, env := range envs {
		ev, err := c.FromEnvelope(env)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
