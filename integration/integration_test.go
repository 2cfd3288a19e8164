package integration

import (
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gibbs-Morris/mississippi-sub002/adapters/nats"
	"github.com/Gibbs-Morris/mississippi-sub002/core/es"
	"github.com/Gibbs-Morris/mississippi-sub002/core/es/estests/domain"
)

const milestoneEvery = 50

// process is one environment wired to the shared NATS server, the way a
// separate process would be.
type process struct {
	env      *es.TestingEnv
	entity   *es.Entity[domain.Counter]
	store    *nats.EventStore
	recorder *domain.Recorder
}

func startProcess(t *testing.T, connect nats.Connector) *process {
	t.Helper()

	store, err := nats.NewEventStore(nats.EventStoreConfig{
		Connect:    connect,
		StreamName: "IT_EVENTS",
		Storage:    jetstream.MemoryStorage,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	snapshots, err := nats.NewKvStore(nats.KvConfig{
		Connect: connect,
		Bucket:  "it_snapshots",
		Storage: jetstream.MemoryStorage,
	})
	require.NoError(t, err)
	t.Cleanup(snapshots.Close)

	effectCfg := nats.EffectTransportConfig{Connect: connect, SubjectPrefix: "it.effects"}
	publisher, err := nats.NewEffectPublisher(effectCfg)
	require.NoError(t, err)
	t.Cleanup(publisher.Close)

	te := es.StartTestEnv(
		t,
		es.WithStore(store),
		es.WithSnapshotKV(snapshots),
		es.WithSnapshots(es.WithRetainEvery(2)),
		es.WithEffectDispatcher(publisher),
	)

	recorder := domain.NewRecorder("record_milestone", nil)
	entity := es.RegisterTest(te, domain.Definition(func(d *es.Definition[domain.Counter]) {
		d.Effects = append(d.Effects, domain.MilestoneEvery(milestoneEvery))
		d.FireAndForget = append(d.FireAndForget, es.OnEvent[domain.MilestoneReached]("record_milestone"))
		d.AsyncEffects = append(d.AsyncEffects, recorder)
	}))

	sub, err := nats.NewEffectSubscriber(effectCfg, te.EffectPool())
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	return &process{env: te, entity: entity, store: store, recorder: recorder}
}

func (p *process) state(t *testing.T, id string) (domain.Counter, es.Position) {
	t.Helper()
	pos, err := p.store.GetLatestPosition(t.Context(), p.entity.Key(id))
	require.NoError(t, err)
	s, err := p.entity.Snapshots().GetState(t.Context(), p.entity.SnapshotKey(id, pos))
	require.NoError(t, err)
	return s, pos
}

func TestIntegration(t *testing.T) {
	connect := nats.ReuseConnection(nats.NewTestContainer(t))

	a := startProcess(t, connect)
	b := startProcess(t, connect)

	t.Run("counter scenario", func(t *testing.T) {
		p, err := a.entity.NewProcessor("scenario")
		require.NoError(t, err)

		es.RequireOk(t, p.Execute(t.Context(), domain.Initialize{Value: 10}))
		for i := 0; i < 5; i++ {
			es.RequireOk(t, p.Execute(t.Context(), domain.Increment{}))
		}
		pos, ok := p.Position()
		require.True(t, ok)
		require.Equal(t, es.Position(5), pos)

		es.RequireFailure(t, p.Execute(t.Context(), domain.Increment{}, es.ExpectPosition(3)), es.ErrorCodeConcurrencyConflict)

		// the other process rebuilds the same state from the stream
		s, pos := b.state(t, "scenario")
		assert.Equal(t, es.Position(5), pos)
		assert.Equal(t, 15, s.Count)
		assert.Equal(t, 5, s.Increments)
	})

	t.Run("rejections persist nothing", func(t *testing.T) {
		p, err := a.entity.NewProcessor("rejected")
		require.NoError(t, err)

		es.RequireFailure(t, p.Execute(t.Context(), domain.Increment{}), domain.ErrCodeNotInitialized)
		pos, err := a.store.GetLatestPosition(t.Context(), p.Key())
		require.NoError(t, err)
		assert.Equal(t, es.NoPosition, pos)
	})

	t.Run("effects persist and notify", func(t *testing.T) {
		p, err := a.entity.NewProcessor("milestones")
		require.NoError(t, err)

		es.RequireOk(t, p.Execute(t.Context(), domain.Initialize{Value: milestoneEvery - 5}))
		for i := 0; i < 5; i++ {
			es.RequireOk(t, p.Execute(t.Context(), domain.Increment{}))
		}

		// the milestone is persisted right after the fifth increment
		pos, _ := p.Position()
		require.Equal(t, es.Position(6), pos)

		s, _ := b.state(t, "milestones")
		assert.Equal(t, 1, s.Milestones)
		assert.Equal(t, milestoneEvery, s.Count)

		// exactly one of the queue subscribers runs the effect
		var seen domain.Seen
		select {
		case seen = <-a.recorder.Done():
		case seen = <-b.recorder.Done():
		case <-time.After(10 * time.Second):
			t.Fatal("milestone effect did not run")
		}
		assert.Equal(t, es.Position(6), seen.Position)
		assert.Equal(t, domain.MilestoneReached{At: milestoneEvery}, seen.Event)
		assert.Equal(t, 1, seen.State.Milestones)
	})

	t.Run("two processes on one entity", func(t *testing.T) {
		const perProcess = 20

		hostA := es.NewHost(a.entity)
		hostB := es.NewHost(b.entity)
		t.Cleanup(hostA.Close)
		t.Cleanup(hostB.Close)

		es.RequireOk(t, hostA.Execute(t.Context(), "shared", domain.Initialize{Value: 0}))

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for _, h := range []*es.Host[domain.Counter]{hostA, hostB} {
			wg.Add(1)
			go func(h *es.Host[domain.Counter]) {
				defer wg.Done()
				for i := 0; i < perProcess; i++ {
					res := h.Execute(t.Context(), "shared", domain.Increment{})
					if res.Success {
						mu.Lock()
						succeeded++
						mu.Unlock()
						continue
					}
					assert.Equal(t, es.ErrorCodeConcurrencyConflict, res.ErrorCode, res.ErrorMessage)
				}
			}(h)
		}
		wg.Wait()

		require.Positive(t, succeeded)
		s, _ := a.state(t, "shared")
		assert.Equal(t, succeeded, s.Count, "every accepted command is counted exactly once")
		assert.Equal(t, succeeded, s.Increments)
	})
}
