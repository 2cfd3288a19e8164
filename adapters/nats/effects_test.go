package nats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Gibbs-Morris/mississippi-sub002/core/es"
)

type chanDispatcher chan es.EffectEnvelope

func (c chanDispatcher) Dispatch(env es.EffectEnvelope) { c <- env }

func TestNats_EffectTransport(t *testing.T) {
	connect := ReuseConnection(NewTestContainer(t))
	cfg := EffectTransportConfig{Connect: connect, SubjectPrefix: "test.effects"}

	received := make(chanDispatcher, 4)
	sub, err := NewEffectSubscriber(cfg, received)
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	pub, err := NewEffectPublisher(cfg)
	require.NoError(t, err)
	t.Cleanup(pub.Close)

	env := es.EffectEnvelope{
		Effect:           "notify",
		Key:              es.NewEntityKey("counter", "c1"),
		Position:         3,
		StateType:        "counter_state",
		StateContentType: "application/json",
		State:            []byte(`{"count":3}`),
		CreatedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}
	pub.Dispatch(env)

	select {
	case got := <-received:
		require.Equal(t, env.Effect, got.Effect)
		require.Equal(t, env.Key, got.Key)
		require.Equal(t, env.Position, got.Position)
		require.Equal(t, env.State, got.State)
		require.True(t, env.CreatedAt.Equal(got.CreatedAt))
	case <-time.After(5 * time.Second):
		t.Fatal("effect envelope not delivered")
	}

	_, err = NewEffectSubscriber(cfg, nil)
	require.Error(t, err)
}
