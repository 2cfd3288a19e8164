// Package metrics provides the backend-neutral timer used by the write path
// metrics interfaces, so core packages do not depend on Prometheus.
package metrics

import "time"

// Timer measures the duration of an operation. Call ObserveDuration when
// the operation completes to record the elapsed time.
//
//	defer m.CommandDuration("counter").ObserveDuration()
type Timer interface {
	ObserveDuration()
}

type funcTimer struct {
	start   time.Time
	observe func(time.Duration)
}

func (t *funcTimer) ObserveDuration() { t.observe(time.Since(t.start)) }

// NewTimer starts a timer that reports the elapsed time to observe.
func NewTimer(observe func(time.Duration)) Timer {
	return &funcTimer{start: time.Now(), observe: observe}
}
