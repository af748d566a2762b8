// Package obs collects lightweight counters and latency stats for the
// execution core. Everything is atomic; nothing blocks the hot path.
package obs

import (
	"sync/atomic"
	"time"
)

// Metrics aggregates bus, run and ledger activity.
type Metrics struct {
	publishes    uint64
	deliveries   uint64
	retries      uint64
	deadLetters  uint64
	queueDrops   uint64
	queueBlocked uint64

	runsStarted  uint64
	runsStopped  uint64
	runsAborted  uint64
	runsDegraded uint64

	publishLatency  LatencyStats
	dispatchLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Publishes    uint64
	Deliveries   uint64
	Retries      uint64
	DeadLetters  uint64
	QueueDrops   uint64
	QueueBlocked uint64

	RunsStarted  uint64
	RunsStopped  uint64
	RunsAborted  uint64
	RunsDegraded uint64

	PublishLatency  LatencySnapshot
	DispatchLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) inc(field *uint64) {
	if m == nil {
		return
	}
	atomic.AddUint64(field, 1)
}

func (m *Metrics) IncPublish()      { m.inc(&m.publishes) }
func (m *Metrics) IncDelivery()     { m.inc(&m.deliveries) }
func (m *Metrics) IncRetry()        { m.inc(&m.retries) }
func (m *Metrics) IncDeadLetter()   { m.inc(&m.deadLetters) }
func (m *Metrics) IncQueueDrop()    { m.inc(&m.queueDrops) }
func (m *Metrics) IncQueueBlocked() { m.inc(&m.queueBlocked) }
func (m *Metrics) IncRunStarted()   { m.inc(&m.runsStarted) }
func (m *Metrics) IncRunStopped()   { m.inc(&m.runsStopped) }
func (m *Metrics) IncRunAborted()   { m.inc(&m.runsAborted) }
func (m *Metrics) IncRunDegraded()  { m.inc(&m.runsDegraded) }

// ObservePublish measures the durable-record-plus-fanout path of one publish.
func (m *Metrics) ObservePublish(d time.Duration) {
	if m == nil {
		return
	}
	m.publishLatency.Observe(d)
}

// ObserveDispatch measures one worker handler invocation.
func (m *Metrics) ObserveDispatch(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Publishes:    atomic.LoadUint64(&m.publishes),
		Deliveries:   atomic.LoadUint64(&m.deliveries),
		Retries:      atomic.LoadUint64(&m.retries),
		DeadLetters:  atomic.LoadUint64(&m.deadLetters),
		QueueDrops:   atomic.LoadUint64(&m.queueDrops),
		QueueBlocked: atomic.LoadUint64(&m.queueBlocked),

		RunsStarted:  atomic.LoadUint64(&m.runsStarted),
		RunsStopped:  atomic.LoadUint64(&m.runsStopped),
		RunsAborted:  atomic.LoadUint64(&m.runsAborted),
		RunsDegraded: atomic.LoadUint64(&m.runsDegraded),

		PublishLatency:  m.publishLatency.Snapshot(),
		DispatchLatency: m.dispatchLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
