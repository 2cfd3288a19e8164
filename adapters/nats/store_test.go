package nats

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gibbs-Morris/mississippi-sub002/core/es"
)

func records(key es.EntityKey, n int) []es.Envelope {
	out := make([]es.Envelope, n)
	for i := range out {
		out[i] = es.Envelope{
			ID:          gonanoid.Must(),
			Type:        "test.happened",
			Stream:      key.Stream,
			EntityID:    key.ID,
			Position:    es.Position(i),
			OccurredAt:  time.Now().UTC(),
			ContentType: "application/json",
			Data:        []byte(fmt.Sprintf(`{"n":%d}`, i)),
		}
	}
	return out
}

func positions(envs []es.Envelope) []es.Position {
	out := make([]es.Position, len(envs))
	for i, e := range envs {
		out[i] = e.Position
	}
	return out
}

func TestNats_EventStore(t *testing.T) {
	connectNatsC := ReuseConnection(NewTestContainer(t))
	store, err := NewEventStore(EventStoreConfig{
		Connect: connectNatsC,
		Log:     slog.Default(),
		Storage: jetstream.MemoryStorage,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	t.Run("stream info", func(t *testing.T) {
		si, err := store.stream.Info(t.Context())
		require.NoError(t, err)
		require.Equal(t, defaultStreamName, si.Config.Name)
		require.Equal(t, []string{defaultSubjectPrefix + ".>"}, si.Config.Subjects)
	})

	t.Run("append and read", func(t *testing.T) {
		key := es.NewEntityKey("counter", "c1")

		pos, err := store.GetLatestPosition(t.Context(), key)
		require.NoError(t, err)
		require.Equal(t, es.NoPosition, pos)

		last, err := store.Append(t.Context(), key, records(key, 3), es.NoPosition.Ptr())
		require.NoError(t, err)
		require.Equal(t, es.Position(2), last)

		pos, err = store.GetLatestPosition(t.Context(), key)
		require.NoError(t, err)
		require.Equal(t, es.Position(2), pos)

		_, err = store.Append(t.Context(), key, records(key, 1), es.Position(0).Ptr())
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)

		last, err = store.Append(t.Context(), key, records(key, 2), nil)
		require.NoError(t, err)
		require.Equal(t, es.Position(4), last)

		all, err := store.ReadRange(t.Context(), key, 0, 4)
		require.NoError(t, err)
		require.Equal(t, []es.Position{0, 1, 2, 3, 4}, positions(all))
		require.JSONEq(t, `{"n":1}`, string(all[4].Data), "positions are assigned by the store")

		mid, err := store.ReadRange(t.Context(), key, 1, 3)
		require.NoError(t, err)
		require.Equal(t, []es.Position{1, 2, 3}, positions(mid))

		beyond, err := store.ReadRange(t.Context(), key, 5, 10)
		require.NoError(t, err)
		require.Empty(t, beyond)
	})

	t.Run("ids with subject characters", func(t *testing.T) {
		a := es.NewEntityKey("counter", "a.b")
		b := es.NewEntityKey("counter", "a")

		_, err := store.Append(t.Context(), a, records(a, 2), nil)
		require.NoError(t, err)

		pos, err := store.GetLatestPosition(t.Context(), b)
		require.NoError(t, err)
		require.Equal(t, es.NoPosition, pos)

		envs, err := store.ReadRange(t.Context(), a, 0, 1)
		require.NoError(t, err)
		require.Len(t, envs, 2)
		require.Equal(t, a, envs[0].Key())
	})

	t.Run("rejects foreign records", func(t *testing.T) {
		key := es.NewEntityKey("counter", "c2")
		other := es.NewEntityKey("counter", "c3")
		_, err := store.Append(t.Context(), key, records(other, 1), nil)
		require.Error(t, err)

		_, err = store.Append(t.Context(), key, nil, nil)
		require.ErrorIs(t, err, es.ErrStoreNoEvents)
	})

	t.Run("concurrent expected appends", func(t *testing.T) {
		key := es.NewEntityKey("counter", "race")
		batches := make([][]es.Envelope, 8)
		for i := range batches {
			batches[i] = records(key, 1)
		}

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			ok, fails int
		)
		for _, b := range batches {
			wg.Add(1)
			go func(b []es.Envelope) {
				defer wg.Done()
				_, err := store.Append(t.Context(), key, b, es.NoPosition.Ptr())
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					ok++
				} else if assert.ErrorIs(t, err, es.ErrConcurrencyConflict) {
					fails++
				}
			}(b)
		}
		wg.Wait()

		require.Equal(t, 1, ok)
		require.Equal(t, len(batches)-1, fails)
		pos, err := store.GetLatestPosition(t.Context(), key)
		require.NoError(t, err)
		require.Equal(t, es.Position(0), pos)
	})
}
