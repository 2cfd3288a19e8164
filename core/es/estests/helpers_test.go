package estests

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Gibbs-Morris/mississippi-sub002/core/es"
	"github.com/Gibbs-Morris/mississippi-sub002/core/es/estests/domain"
)

// spyStore counts calls to the in-memory store.
type spyStore struct {
	*es.InMemoryStore
	appends     atomic.Int32
	cursorReads atomic.Int32
}

func newSpyStore() *spyStore { return &spyStore{InMemoryStore: es.NewInMemoryStore()} }

func (s *spyStore) GetLatestPosition(ctx context.Context, key es.EntityKey) (es.Position, error) {
	s.cursorReads.Add(1)
	return s.InMemoryStore.GetLatestPosition(ctx, key)
}

func (s *spyStore) Append(ctx context.Context, key es.EntityKey, records []es.Envelope, expected *es.Position) (es.Position, error) {
	s.appends.Add(1)
	return s.InMemoryStore.Append(ctx, key, records, expected)
}

// interleavingStore runs before ahead of the first append, standing in for a
// writer that lands first while the store places the batch without a
// position check.
type interleavingStore struct {
	*es.InMemoryStore
	once   sync.Once
	before func(ctx context.Context)
}

func (s *interleavingStore) Append(ctx context.Context, key es.EntityKey, records []es.Envelope, _ *es.Position) (es.Position, error) {
	s.once.Do(func() { s.before(ctx) })
	return s.InMemoryStore.Append(ctx, key, records, nil)
}

func counterEntity(t *testing.T, store es.EventStore, opts []es.EnvOption, extend ...func(*es.Definition[domain.Counter])) (*es.TestingEnv, *es.Entity[domain.Counter]) {
	t.Helper()
	te := es.StartTestEnv(t, append([]es.EnvOption{es.WithStore(store)}, opts...)...)
	return te, es.RegisterTest(te, domain.Definition(extend...))
}

func stateAt(t *testing.T, e *es.Entity[domain.Counter], id string, p es.Position) domain.Counter {
	t.Helper()
	s, err := e.Snapshots().GetState(t.Context(), e.SnapshotKey(id, p))
	require.NoError(t, err)
	return s
}

func latest(t *testing.T, store es.CursorReader, key es.EntityKey) es.Position {
	t.Helper()
	p, err := store.GetLatestPosition(t.Context(), key)
	require.NoError(t, err)
	return p
}
