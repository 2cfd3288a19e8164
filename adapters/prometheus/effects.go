package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Gibbs-Morris/mississippi-sub002/core/es"
	"github.com/Gibbs-Morris/mississippi-sub002/core/metrics"
)

// effectMetrics implements es.EffectMetrics using Prometheus.
type effectMetrics struct {
	duration   *prometheus.HistogramVec
	succeeded  *prometheus.CounterVec
	failed     *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	queueDepth prometheus.Gauge
}

// NewEffectMetrics creates a new Prometheus implementation of EffectMetrics.
func NewEffectMetrics(reg prometheus.Registerer) es.EffectMetrics {
	m := &effectMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "effect_duration_seconds",
			Help:      "Fire-and-forget effect latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"state_type", "effect"}),

		succeeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "effect_succeeded_total",
			Help:      "Total number of successful effect runs",
		}, []string{"state_type", "effect"}),

		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "effect_failed_total",
			Help:      "Total number of failed effect runs by category",
		}, []string{"state_type", "effect", "category"}),

		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "effect_dropped_total",
			Help:      "Envelopes dropped because the worker queue was full",
		}, []string{"state_type"}),

		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "effect_queue_depth",
			Help:      "Envelopes waiting in the worker queue",
		}),
	}

	reg.MustRegister(
		m.duration,
		m.succeeded,
		m.failed,
		m.dropped,
		m.queueDepth,
	)

	return m
}

func (m *effectMetrics) EffectDuration(stateType, effect string) metrics.Timer {
	return newTimer(m.duration.WithLabelValues(stateType, effect))
}

func (m *effectMetrics) EffectSucceeded(stateType, effect string) {
	m.succeeded.WithLabelValues(stateType, effect).Inc()
}

func (m *effectMetrics) EffectFailed(stateType, effect, category string) {
	m.failed.WithLabelValues(stateType, effect, category).Inc()
}

func (m *effectMetrics) EffectDropped(stateType string) {
	m.dropped.WithLabelValues(stateType).Inc()
}

func (m *effectMetrics) EffectQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

var _ es.EffectMetrics = (*effectMetrics)(nil)
