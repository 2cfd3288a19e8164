package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Gibbs-Morris/mississippi-sub002/core/es"
	"github.com/Gibbs-Morris/mississippi-sub002/core/metrics"
)

// esMetrics implements es.ESMetrics using Prometheus.
type esMetrics struct {
	// Command metrics
	commandDuration *prometheus.HistogramVec
	commands        *prometheus.CounterVec

	// Store metrics
	storeAppendDuration  *prometheus.HistogramVec
	eventsAppended       *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec

	// Cursor cache metrics
	cursorHits   *prometheus.CounterVec
	cursorMisses *prometheus.CounterVec

	// Snapshot metrics
	snapshotLoadDuration *prometheus.HistogramVec
	snapshotHits         *prometheus.CounterVec
	snapshotMisses       *prometheus.CounterVec
	snapshotsSaved       *prometheus.CounterVec

	// Synchronous effect metrics
	effectRounds        *prometheus.HistogramVec
	effectLimitReached  *prometheus.CounterVec
	effectYieldsDropped *prometheus.CounterVec
}

// NewESMetrics creates a new Prometheus implementation of ESMetrics.
func NewESMetrics(reg prometheus.Registerer) es.ESMetrics {
	m := &esMetrics{
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_command_duration_seconds",
			Help:      "Command execution latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"stream"}),

		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_commands_total",
			Help:      "Total number of executed commands by result code",
		}, []string{"stream", "code"}),

		storeAppendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_store_append_duration_seconds",
			Help:      "Event store append latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"stream"}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_events_appended_total",
			Help:      "Total number of events appended",
		}, []string{"stream"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_concurrency_conflicts_total",
			Help:      "Total number of optimistic concurrency failures",
		}, []string{"stream"}),

		cursorHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_cursor_cache_hits_total",
			Help:      "Commands served from the cached stream position",
		}, []string{"stream"}),

		cursorMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_cursor_cache_misses_total",
			Help:      "Commands that read the stream position from the cursor",
		}, []string{"stream"}),

		snapshotLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_snapshot_load_duration_seconds",
			Help:      "State load latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"state_type"}),

		snapshotHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_snapshot_cache_hits_total",
			Help:      "States served from the hot cache",
		}, []string{"state_type"}),

		snapshotMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_snapshot_cache_misses_total",
			Help:      "States loaded from storage or rebuilt",
		}, []string{"state_type"}),

		snapshotsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_snapshots_saved_total",
			Help:      "Retained snapshots written to storage",
		}, []string{"state_type"}),

		effectRounds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_effect_rounds",
			Help:      "Persisted synchronous effect rounds per command",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10, 20},
		}, []string{"stream"}),

		effectLimitReached: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_effect_iteration_limit_total",
			Help:      "Commands whose effect chain hit the iteration bound",
		}, []string{"stream"}),

		effectYieldsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_effect_yields_dropped_total",
			Help:      "Events yielded by effects beyond the iteration bound",
		}, []string{"stream"}),
	}

	reg.MustRegister(
		m.commandDuration,
		m.commands,
		m.storeAppendDuration,
		m.eventsAppended,
		m.concurrencyConflicts,
		m.cursorHits,
		m.cursorMisses,
		m.snapshotLoadDuration,
		m.snapshotHits,
		m.snapshotMisses,
		m.snapshotsSaved,
		m.effectRounds,
		m.effectLimitReached,
		m.effectYieldsDropped,
	)

	return m
}

func (m *esMetrics) CommandDuration(stream string) metrics.Timer {
	return newTimer(m.commandDuration.WithLabelValues(stream))
}

func (m *esMetrics) CommandExecuted(stream string, code string) {
	if code == "" {
		code = "ok"
	}
	m.commands.WithLabelValues(stream, code).Inc()
}

func (m *esMetrics) StoreAppendDuration(stream string) metrics.Timer {
	return newTimer(m.storeAppendDuration.WithLabelValues(stream))
}

func (m *esMetrics) EventsAppended(stream string, count int) {
	m.eventsAppended.WithLabelValues(stream).Add(float64(count))
}

func (m *esMetrics) ConcurrencyConflict(stream string) {
	m.concurrencyConflicts.WithLabelValues(stream).Inc()
}

func (m *esMetrics) CursorCacheHit(stream string)  { m.cursorHits.WithLabelValues(stream).Inc() }
func (m *esMetrics) CursorCacheMiss(stream string) { m.cursorMisses.WithLabelValues(stream).Inc() }

func (m *esMetrics) SnapshotLoadDuration(stateType string) metrics.Timer {
	return newTimer(m.snapshotLoadDuration.WithLabelValues(stateType))
}

func (m *esMetrics) SnapshotCacheHit(stateType string) {
	m.snapshotHits.WithLabelValues(stateType).Inc()
}
func (m *esMetrics) SnapshotCacheMiss(stateType string) {
	m.snapshotMisses.WithLabelValues(stateType).Inc()
}
func (m *esMetrics) SnapshotSaved(stateType string) {
	m.snapshotsSaved.WithLabelValues(stateType).Inc()
}

func (m *esMetrics) EffectIterations(stream string, rounds int) {
	m.effectRounds.WithLabelValues(stream).Observe(float64(rounds))
}

func (m *esMetrics) EffectIterationLimit(stream string) {
	m.effectLimitReached.WithLabelValues(stream).Inc()
}

func (m *esMetrics) EffectYieldsDropped(stream string, count int) {
	m.effectYieldsDropped.WithLabelValues(stream).Add(float64(count))
}

var _ es.ESMetrics = (*esMetrics)(nil)
