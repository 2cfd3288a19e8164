package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewESMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewESMetrics(reg)
	require.NotNil(t, m)

	timer := m.CommandDuration("counter")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.CommandExecuted("counter", "")
	m.CommandExecuted("counter", "")
	m.CommandExecuted("counter", "CONCURRENCY_CONFLICT")

	m.StoreAppendDuration("counter").ObserveDuration()
	m.EventsAppended("counter", 5)
	m.ConcurrencyConflict("counter")

	m.CursorCacheHit("counter")
	m.CursorCacheMiss("counter")

	m.SnapshotLoadDuration("counter_state").ObserveDuration()
	m.SnapshotCacheHit("counter_state")
	m.SnapshotCacheMiss("counter_state")
	m.SnapshotSaved("counter_state")

	m.EffectIterations("counter", 2)
	m.EffectIterationLimit("counter")
	m.EffectYieldsDropped("counter", 3)

	impl := m.(*esMetrics)
	assert.Equal(t, 2.0, testutil.ToFloat64(impl.commands.WithLabelValues("counter", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(impl.commands.WithLabelValues("counter", "CONCURRENCY_CONFLICT")))
	assert.Equal(t, 5.0, testutil.ToFloat64(impl.eventsAppended.WithLabelValues("counter")))
	assert.Equal(t, 3.0, testutil.ToFloat64(impl.effectYieldsDropped.WithLabelValues("counter")))

	mfs, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["mississippi_es_command_duration_seconds"])
	assert.True(t, names["mississippi_es_cursor_cache_hits_total"])
	assert.True(t, names["mississippi_es_snapshot_load_duration_seconds"])
	assert.True(t, names["mississippi_es_effect_iteration_limit_total"])
}

func TestNewEffectMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEffectMetrics(reg)
	require.NotNil(t, m)

	m.EffectDuration("counter_state", "notify").ObserveDuration()
	m.EffectSucceeded("counter_state", "notify")
	m.EffectFailed("counter_state", "notify", "timeout")
	m.EffectFailed("counter_state", "notify", "timeout")
	m.EffectDropped("counter_state")
	m.EffectQueueDepth(7)

	impl := m.(*effectMetrics)
	assert.Equal(t, 1.0, testutil.ToFloat64(impl.succeeded.WithLabelValues("counter_state", "notify")))
	assert.Equal(t, 2.0, testutil.ToFloat64(impl.failed.WithLabelValues("counter_state", "notify", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(impl.dropped.WithLabelValues("counter_state")))
	assert.Equal(t, 7.0, testutil.ToFloat64(impl.queueDepth))

	count, err := testutil.GatherAndCount(reg, "mississippi_effect_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	all := NewAllMetrics(reg)
	require.NotNil(t, all.ES)
	require.NotNil(t, all.Effects)

	// registering twice on one registry panics
	assert.Panics(t, func() { NewAllMetrics(reg) })
}
