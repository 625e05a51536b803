package metrics

import (
	"sync/atomic"
	"time"
)

// CallMetrics counts guarded calls made against a single dependency.
// A nil *CallMetrics is valid and records nothing.
type CallMetrics struct {
	calls        atomic.Uint64
	attempts     atomic.Uint64
	retries      atomic.Uint64
	successes    atomic.Uint64
	failures     atomic.Uint64
	rejections   atomic.Uint64
	trips        atomic.Uint64
	totalBackoff atomic.Int64
}

// NewCallMetrics creates a new CallMetrics instance
func NewCallMetrics() *CallMetrics {
	return &CallMetrics{}
}

// CallStarted increments the calls counter
func (m *CallMetrics) CallStarted() {
	if m == nil {
		return
	}
	m.calls.Add(1)
}

// AttemptMade increments the attempts counter
func (m *CallMetrics) AttemptMade() {
	if m == nil {
		return
	}
	m.attempts.Add(1)
}

// RetryScheduled records a retry and the backoff delay that precedes it
func (m *CallMetrics) RetryScheduled(delay time.Duration) {
	if m == nil {
		return
	}
	m.retries.Add(1)
	m.totalBackoff.Add(int64(delay))
}

// CallSucceeded updates metrics when a call returns without error
func (m *CallMetrics) CallSucceeded() {
	if m == nil {
		return
	}
	m.successes.Add(1)
}

// CallFailed updates metrics when a call returns an error
func (m *CallMetrics) CallFailed() {
	if m == nil {
		return
	}
	m.failures.Add(1)
}

// CallRejected updates metrics when an open breaker refuses a call
func (m *CallMetrics) CallRejected() {
	if m == nil {
		return
	}
	m.rejections.Add(1)
}

// BreakerTripped updates metrics when a breaker moves to the open state
func (m *CallMetrics) BreakerTripped() {
	if m == nil {
		return
	}
	m.trips.Add(1)
}

// Snapshot is a point-in-time copy of CallMetrics
type Snapshot struct {
	Calls        uint64
	Attempts     uint64
	Retries      uint64
	Successes    uint64
	Failures     uint64
	Rejections   uint64
	Trips        uint64
	TotalBackoff time.Duration
	AverageDelay time.Duration
}

// Snapshot returns the current state of metrics
func (m *CallMetrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	retries := m.retries.Load()
	var avgDelay time.Duration
	if retries > 0 {
		avgDelay = time.Duration(m.totalBackoff.Load() / int64(retries))
	}

	return Snapshot{
		Calls:        m.calls.Load(),
		Attempts:     m.attempts.Load(),
		Retries:      retries,
		Successes:    m.successes.Load(),
		Failures:     m.failures.Load(),
		Rejections:   m.rejections.Load(),
		Trips:        m.trips.Load(),
		TotalBackoff: time.Duration(m.totalBackoff.Load()),
		AverageDelay: avgDelay,
	}
}
