package es

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gibbs-Morris/mississippi-sub002/ports/kv"
)

// countingReader counts ranged reads.
type countingReader struct {
	StreamReader
	reads atomic.Int32
	from  atomic.Int64
}

func (r *countingReader) ReadRange(ctx context.Context, key EntityKey, from, to Position) ([]Envelope, error) {
	r.reads.Add(1)
	r.from.Store(from.Int64())
	return r.StreamReader.ReadRange(ctx, key, from, to)
}

type snapshotFixture struct {
	store   *InMemoryStore
	reader  *countingReader
	kv      *kv.MemStore
	conv    *Converter
	reducer *RootReducer[tally]
	key     EntityKey
}

func newSnapshotFixture(t *testing.T, events int) *snapshotFixture {
	t.Helper()
	f := &snapshotFixture{
		store:   NewInMemoryStore(),
		kv:      kv.NewMemStore(),
		reducer: NewRootReducer(bumpReducer()),
		key:     NewEntityKey("tally", "t-1"),
	}
	f.reader = &countingReader{StreamReader: f.store}
	r := NewEventRegistry()
	RegisterEvent[bumped](r)
	f.conv = NewConverter(r, nil)

	evs := make([]any, events)
	for i := range evs {
		evs[i] = bumped{By: 1}
	}
	envs, err := f.conv.ToEnvelopes(f.key, NoPosition, evs)
	require.NoError(t, err)
	_, err = f.store.Append(t.Context(), f.key, envs, nil)
	require.NoError(t, err)
	return f
}

func (f *snapshotFixture) cache(opts ...SnapshotCacheOption) *RetainedSnapshotCache[tally] {
	return NewRetainedSnapshotCache(f.reader, f.conv, f.reducer, func() tally { return tally{} },
		append([]SnapshotCacheOption{WithSnapshotStore(f.kv), WithRetainEvery(4)}, opts...)...)
}

func (f *snapshotFixture) skey(p Position) SnapshotKey {
	return SnapshotKey{Stream: "tally", StateType: "tally", EntityID: "t-1", ReducerHash: f.reducer.Hash(), Position: p}
}

func TestRetainedSnapshotCache_Replay(t *testing.T) {
	f := newSnapshotFixture(t, 10)
	c := f.cache()

	s, err := c.GetState(t.Context(), f.skey(9))
	require.NoError(t, err)
	assert.Equal(t, 10, s.N)

	// retained positions 3 and 7 were persisted during replay
	for _, p := range []Position{3, 7} {
		_, err := f.kv.Get(t.Context(), f.skey(p).String())
		require.NoError(t, err, "snapshot at %s", p)
	}
	_, err = f.kv.Get(t.Context(), f.skey(9).String())
	require.ErrorIs(t, err, kv.ErrNotFound)

	// hot entry
	reads := f.reader.reads.Load()
	again, err := c.GetState(t.Context(), f.skey(9))
	require.NoError(t, err)
	assert.Equal(t, s, again)
	assert.Equal(t, reads, f.reader.reads.Load())
}

func TestRetainedSnapshotCache_HotCacheDisabled(t *testing.T) {
	f := newSnapshotFixture(t, 6)
	c := f.cache(WithHotCacheSize(0))

	for range 2 {
		s, err := c.GetState(t.Context(), f.skey(5))
		require.NoError(t, err)
		assert.Equal(t, 6, s.N)
	}
	assert.EqualValues(t, 2, f.reader.reads.Load(), "every read replays from the retained base")
	assert.EqualValues(t, 4, f.reader.from.Load())
}

func TestRetainedSnapshotCache_StartsFromRetainedBase(t *testing.T) {
	f := newSnapshotFixture(t, 10)
	_, err := f.cache().GetState(t.Context(), f.skey(9))
	require.NoError(t, err)

	// a fresh cache shares the persisted snapshots only
	c := f.cache()
	s, err := c.GetState(t.Context(), f.skey(8))
	require.NoError(t, err)
	assert.Equal(t, 9, s.N)
	assert.EqualValues(t, 8, f.reader.from.Load(), "replay should start after the snapshot at 7")

	s, err = c.GetState(t.Context(), f.skey(7))
	require.NoError(t, err)
	assert.Equal(t, 8, s.N)
}

func TestRetainedSnapshotCache_ReducerHashIsolatesSnapshots(t *testing.T) {
	f := newSnapshotFixture(t, 8)
	_, err := f.cache().GetState(t.Context(), f.skey(7))
	require.NoError(t, err)

	other := f.skey(7)
	other.ReducerHash = "changed"
	_, err = f.kv.Get(t.Context(), other.String())
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestRetainedSnapshotCache_Errors(t *testing.T) {
	f := newSnapshotFixture(t, 3)
	c := f.cache()

	s, err := c.GetState(t.Context(), f.skey(NoPosition))
	require.NoError(t, err)
	assert.Equal(t, tally{}, s)

	_, err = c.GetState(t.Context(), f.skey(5))
	require.ErrorIs(t, err, ErrSnapshotNotFound)
}

type failingKV struct{ kv.Store }

func (failingKV) Get(context.Context, string) (kv.Entry, error) {
	return kv.Entry{}, errors.New("kv down")
}

func (failingKV) Put(context.Context, string, kv.Entry, kv.PutOptions) error {
	return errors.New("kv down")
}

func TestRetainedSnapshotCache_StorageFailuresFallBackToReplay(t *testing.T) {
	f := newSnapshotFixture(t, 6)
	c := NewRetainedSnapshotCache(f.reader, f.conv, f.reducer, nil, WithSnapshotStore(failingKV{}), WithRetainEvery(2))
	s, err := c.GetState(t.Context(), f.skey(5))
	require.NoError(t, err)
	assert.Equal(t, 6, s.N)
}

func TestRetainedSnapshotCache_Retained(t *testing.T) {
	c := NewRetainedSnapshotCache[tally](nil, NewConverter(NewEventRegistry(), nil), NewRootReducer[tally](), nil, WithRetainEvery(5))
	assert.False(t, c.Retained(NoPosition))
	assert.False(t, c.Retained(0))
	assert.True(t, c.Retained(4))
	assert.True(t, c.Retained(9))
	assert.Equal(t, NoPosition, c.lastRetained(3))
	assert.Equal(t, Position(4), c.lastRetained(8))
	assert.Equal(t, Position(9), c.lastRetained(9))
}

func TestSnapshotKey(t *testing.T) {
	k := SnapshotKey{Stream: "s", StateType: "st", EntityID: "e", ReducerHash: "h", Position: 12}
	assert.Equal(t, "snapshot.s.st.e.h.12", k.String())
	assert.Equal(t, NewEntityKey("s", "e"), k.Entity())
	assert.Equal(t, Position(3), k.At(3).Position)
}

func TestRetainedSnapshotCache_Close(t *testing.T) {
	f := newSnapshotFixture(t, 4)
	c := f.cache()

	want, err := c.GetState(t.Context(), f.skey(3))
	require.NoError(t, err)
	assert.Equal(t, 1, c.hot.Len())

	c.Close()
	assert.Zero(t, c.hot.Len())

	// served from the persisted snapshot at 3
	got, err := c.GetState(t.Context(), f.skey(3))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEnv_ShutdownClosesSnapshotCaches(t *testing.T) {
	env, err := NewEnv()
	require.NoError(t, err)
	e, err := Register(env, Definition[tally]{
		Stream:   "tally",
		Events:   []EventRegistration{Event[bumped]()},
		Reducers: []Reducer[tally]{bumpReducer()},
		Handlers: []CommandHandler[tally]{
			HandleCommand(func(_ context.Context, cmd bumped, _ tally) ([]any, error) { return []any{cmd}, nil }),
		},
	})
	require.NoError(t, err)

	c := e.Snapshots().(*RetainedSnapshotCache[tally])
	c.Prime(t.Context(), SnapshotKey{Stream: "tally", EntityID: "t-1", Position: 0}, tally{N: 1})
	require.Equal(t, 1, c.hot.Len())

	env.Shutdown()
	assert.Zero(t, c.hot.Len())
}
