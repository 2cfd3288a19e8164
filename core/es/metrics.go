package es

import "github.com/Gibbs-Morris/mississippi-sub002/core/metrics"

// ESMetrics defines the metrics interface for the write path.
// Implementations must be safe for concurrent use.
type ESMetrics interface {
	// Commands
	CommandDuration(stream string) metrics.Timer
	CommandExecuted(stream string, code string)

	// Store operations
	StoreAppendDuration(stream string) metrics.Timer
	EventsAppended(stream string, count int)
	ConcurrencyConflict(stream string)

	// Position cache
	CursorCacheHit(stream string)
	CursorCacheMiss(stream string)

	// Snapshots
	SnapshotLoadDuration(stateType string) metrics.Timer
	SnapshotCacheHit(stateType string)
	SnapshotCacheMiss(stateType string)
	SnapshotSaved(stateType string)

	// Synchronous effects
	EffectIterations(stream string, rounds int)
	EffectIterationLimit(stream string)
	EffectYieldsDropped(stream string, count int)
}

// EffectMetrics instruments fire-and-forget effect execution.
type EffectMetrics interface {
	EffectDuration(stateType, effect string) metrics.Timer
	EffectSucceeded(stateType, effect string)
	EffectFailed(stateType, effect, category string)
	EffectDropped(stateType string)
	EffectQueueDepth(depth int)
}

type nopESMetrics struct{}

func (nopESMetrics) CommandDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) CommandExecuted(string, string)       {}

func (nopESMetrics) StoreAppendDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) EventsAppended(string, int)               {}
func (nopESMetrics) ConcurrencyConflict(string)               {}

func (nopESMetrics) CursorCacheHit(string)  {}
func (nopESMetrics) CursorCacheMiss(string) {}

func (nopESMetrics) SnapshotLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) SnapshotCacheHit(string)                   {}
func (nopESMetrics) SnapshotCacheMiss(string)                  {}
func (nopESMetrics) SnapshotSaved(string)                      {}

func (nopESMetrics) EffectIterations(string, int)    {}
func (nopESMetrics) EffectIterationLimit(string)     {}
func (nopESMetrics) EffectYieldsDropped(string, int) {}

// NopESMetrics returns a no-op ESMetrics implementation.
func NopESMetrics() ESMetrics { return nopESMetrics{} }

type nopEffectMetrics struct{}

func (nopEffectMetrics) EffectDuration(string, string) metrics.Timer { return metrics.NopTimer() }
func (nopEffectMetrics) EffectSucceeded(string, string)              {}
func (nopEffectMetrics) EffectFailed(string, string, string)         {}
func (nopEffectMetrics) EffectDropped(string)                        {}
func (nopEffectMetrics) EffectQueueDepth(int)                        {}

// NopEffectMetrics returns a no-op EffectMetrics implementation.
func NopEffectMetrics() EffectMetrics { return nopEffectMetrics{} }
