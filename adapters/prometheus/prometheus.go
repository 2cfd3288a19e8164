// Package prometheus provides Prometheus implementations of the write-side
// metrics interfaces (es.ESMetrics and es.EffectMetrics).
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Gibbs-Morris/mississippi-sub002/core/metrics"
)

const namespace = "mississippi"

// newTimer observes the elapsed time in seconds on h.
func newTimer(h prometheus.Observer) metrics.Timer {
	return metrics.NewTimer(func(d time.Duration) { h.Observe(d.Seconds()) })
}

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// AllMetrics holds both metric sets. Use this to wire an Env in one go.
type AllMetrics struct {
	ES      *esMetrics
	Effects *effectMetrics
}

func NewAllMetrics(reg prometheus.Registerer) *AllMetrics {
	return &AllMetrics{
		ES:      NewESMetrics(reg).(*esMetrics),
		Effects: NewEffectMetrics(reg).(*effectMetrics),
	}
}
