package circuitbreaker

import (
	"sync/atomic"
	"time"
)

// Metrics accumulates call outcomes for one circuit breaker. Every counter
// is an independent atomic; writers never share a lock, so concurrent
// recording contends on nothing wider than a single field.
type Metrics struct {
	totalCalls           atomic.Uint64
	successes            atomic.Uint64
	failures             atomic.Uint64
	timeouts             atomic.Uint64
	rejected             atomic.Uint64
	consecutiveSuccesses atomic.Uint32
	consecutiveFailures  atomic.Uint32
	totalCallTime        atomic.Int64 // nanoseconds across completed calls
}

// NewMetrics creates an empty Metrics recorder.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordSuccess records one successful call and its duration.
func (m *Metrics) RecordSuccess(d time.Duration) {
	m.totalCalls.Add(1)
	m.successes.Add(1)
	m.totalCallTime.Add(int64(d))
	m.consecutiveSuccesses.Add(1)
	m.consecutiveFailures.Store(0)
}

// RecordFailure records one failed call and its duration.
func (m *Metrics) RecordFailure(d time.Duration) {
	m.totalCalls.Add(1)
	m.failures.Add(1)
	m.totalCallTime.Add(int64(d))
	m.consecutiveFailures.Add(1)
	m.consecutiveSuccesses.Store(0)
}

// RecordTimeout records one timed-out call. A timeout counts toward the
// failure rate and resets the success streak exactly like a failure.
func (m *Metrics) RecordTimeout(d time.Duration) {
	m.totalCalls.Add(1)
	m.timeouts.Add(1)
	m.totalCallTime.Add(int64(d))
	m.consecutiveFailures.Add(1)
	m.consecutiveSuccesses.Store(0)
}

// RecordRejected records a call the breaker refused to forward. Rejections
// are tracked separately and never enter the failure-rate denominator.
func (m *Metrics) RecordRejected() {
	m.rejected.Add(1)
}

// TotalCalls returns the number of completed calls (successes, failures
// and timeouts; rejections excluded).
func (m *Metrics) TotalCalls() uint64 {
	return m.totalCalls.Load()
}

// ConsecutiveSuccesses returns the current success streak.
func (m *Metrics) ConsecutiveSuccesses() uint32 {
	return m.consecutiveSuccesses.Load()
}

// ConsecutiveFailures returns the current failure streak.
func (m *Metrics) ConsecutiveFailures() uint32 {
	return m.consecutiveFailures.Load()
}

// FailureRate returns (failures+timeouts)/total, or 0.0 before any call
// has completed.
func (m *Metrics) FailureRate() float64 {
	total := m.totalCalls.Load()
	if total == 0 {
		return 0.0
	}
	return float64(m.failures.Load()+m.timeouts.Load()) / float64(total)
}

// Snapshot returns a point-in-time copy of all counters. Fields are read
// individually, so a snapshot taken during concurrent recording can be a
// call or two apart between fields; no single field is ever torn.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		TotalCalls:           m.totalCalls.Load(),
		Successes:            m.successes.Load(),
		Failures:             m.failures.Load(),
		Timeouts:             m.timeouts.Load(),
		Rejected:             m.rejected.Load(),
		ConsecutiveSuccesses: m.consecutiveSuccesses.Load(),
		ConsecutiveFailures:  m.consecutiveFailures.Load(),
		TotalCallTime:        time.Duration(m.totalCallTime.Load()),
	}
	if s.TotalCalls > 0 {
		s.FailureRate = float64(s.Failures+s.Timeouts) / float64(s.TotalCalls)
		s.AverageCallTime = s.TotalCallTime / time.Duration(s.TotalCalls)
	}
	return s
}

// Reset zeroes every counter. Fields reset individually; a concurrent
// reader may observe a partially reset recorder.
func (m *Metrics) Reset() {
	m.totalCalls.Store(0)
	m.successes.Store(0)
	m.failures.Store(0)
	m.timeouts.Store(0)
	m.rejected.Store(0)
	m.consecutiveSuccesses.Store(0)
	m.consecutiveFailures.Store(0)
	m.totalCallTime.Store(0)
}

// ResetConsecutive zeroes only the streak counters, preserving totals.
// Used on entry to half-open so probe counting starts from zero.
func (m *Metrics) ResetConsecutive() {
	m.consecutiveSuccesses.Store(0)
	m.consecutiveFailures.Store(0)
}

// Snapshot is an immutable view of a Metrics recorder, safe to expose to
// monitoring endpoints.
type Snapshot struct {
	TotalCalls           uint64        `json:"total_calls"`
	Successes            uint64        `json:"successes"`
	Failures             uint64        `json:"failures"`
	Timeouts             uint64        `json:"timeouts"`
	Rejected             uint64        `json:"rejected"`
	ConsecutiveSuccesses uint32        `json:"consecutive_successes"`
	ConsecutiveFailures  uint32        `json:"consecutive_failures"`
	FailureRate          float64       `json:"failure_rate"`
	TotalCallTime        time.Duration `json:"total_call_time_ns"`
	AverageCallTime      time.Duration `json:"average_call_time_ns"`
}
