package es

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// InMemoryStore is a simple, correct (optimistic) store for tests/dev.
type InMemoryStore struct {
	mu      sync.Mutex
	log     *slog.Logger
	streams map[EntityKey][]Envelope
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		log:     slog.Default().With(slog.String("store", "memory")),
		streams: map[EntityKey][]Envelope{},
	}
}

func (s *InMemoryStore) GetLatestPosition(_ context.Context, key EntityKey) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestLocked(key), nil
}

func (s *InMemoryStore) latestLocked(key EntityKey) Position {
	stream := s.streams[key]
	if len(stream) == 0 {
		return NoPosition
	}
	return stream[len(stream)-1].Position
}

func (s *InMemoryStore) Append(
	ctx context.Context,
	key EntityKey,
	records []Envelope,
	expected *Position,
) (Position, error) {
	if len(records) == 0 {
		return NoPosition, ErrStoreNoEvents
	}
	if err := ctx.Err(); err != nil {
		return NoPosition, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.latestLocked(key)
	if expected != nil && *expected != cur {
		return cur, fmt.Errorf("%w: expected position %s, got %s (%s)", ErrConcurrencyConflict, *expected, cur, key)
	}

	stored := make([]Envelope, 0, len(records))
	for i, e := range records {
		if err := e.Validate(); err != nil {
			return cur, err
		}
		if e.Key() != key {
			return cur, fmt.Errorf("record %s belongs to %s, not %s", e.ID, e.Key(), key)
		}
		// positions are assigned by the stream
		e.Position = cur.Add(i + 1)
		stored = append(stored, e)
	}
	s.streams[key] = append(s.streams[key], stored...)

	last := stored[len(stored)-1].Position
	s.log.Debug(
		"append",
		key.SlogAttr(),
		last.SlogAttrWithKey("last_position"),
		slog.Int("num_events", len(stored)),
	)
	return last, nil
}

func (s *InMemoryStore) ReadRange(_ context.Context, key EntityKey, from, to Position) ([]Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if from < 0 {
		from = 0
	}
	out := make([]Envelope, 0)
	for _, e := range s.streams[key] {
		if e.Position < from || e.Position > to {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

var _ EventStore = (*InMemoryStore)(nil)
