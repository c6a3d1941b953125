package circuitbreaker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker is in the open
	// state and the open timeout has not elapsed.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyCalls is returned when the half-open probe budget is
	// exhausted.
	ErrTooManyCalls = errors.New("too many calls in half-open state")

	// ErrCallTimeout is the cause recorded when an operation exceeds the
	// configured call timeout.
	ErrCallTimeout = errors.New("call timed out")

	// ErrOperationPanicked is the cause recorded when an operation
	// panics; the recovered value is included in the message.
	ErrOperationPanicked = errors.New("operation panicked")
)

// BreakerError wraps every error leaving a breaker with the breaker's
// name and the state the call was admitted or rejected in. The underlying
// cause stays reachable through errors.Is and errors.As.
type BreakerError struct {
	Breaker string
	State   State
	Err     error
}

// Error implements error.
func (e *BreakerError) Error() string {
	return fmt.Sprintf("circuit breaker %s (%s): %v", e.Breaker, e.State, e.Err)
}

// Unwrap returns the underlying cause.
func (e *BreakerError) Unwrap() error {
	return e.Err
}

// CircuitBreaker guards calls to a single named dependency. All mutable
// fields are individual atomics and state transitions are single
// compare-and-swap operations, so concurrent callers never serialize on
// a lock.
type CircuitBreaker struct {
	name   string
	config Config

	state          atomic.Int32
	stateChangedAt atomic.Int64 // unix nanoseconds of the last transition
	halfOpenCalls  atomic.Uint32

	metrics *Metrics
}

// New creates a CircuitBreaker with the given configuration. Zero-value
// config fields take defaults; a nonsensical configuration is rejected
// here, before the breaker is usable.
func New(name string, config Config) (*CircuitBreaker, error) {
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("circuit breaker %s: invalid config: %w", name, err)
	}

	cb := &CircuitBreaker{
		name:    name,
		config:  config,
		metrics: NewMetrics(),
	}
	cb.stateChangedAt.Store(time.Now().UnixNano())

	return cb, nil
}

// MustNew is New panicking on invalid configuration, for wiring code
// where the configuration is static.
func MustNew(name string, config Config) *CircuitBreaker {
	cb, err := New(name, config)
	if err != nil {
		panic(err)
	}
	return cb
}

// State returns the current state of the circuit breaker. The open to
// half-open transition is lazy, so an idle breaker reports open until a
// call actually arrives after the open timeout.
func (cb *CircuitBreaker) State() State {
	return State(cb.state.Load())
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Metrics returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Metrics() Snapshot {
	return cb.metrics.Snapshot()
}

// Config returns the merged configuration the breaker runs with.
func (cb *CircuitBreaker) Config() Config {
	return cb.config
}

// Status is an immutable view of one breaker, safe to expose to a
// monitoring endpoint without touching internal state.
type Status struct {
	Name            string    `json:"name"`
	State           State     `json:"state"`
	Metrics         Snapshot  `json:"metrics"`
	Config          Config    `json:"config"`
	LastStateChange time.Time `json:"last_state_change"`
}

// Status returns the breaker's current status.
func (cb *CircuitBreaker) Status() Status {
	return Status{
		Name:            cb.name,
		State:           cb.State(),
		Metrics:         cb.metrics.Snapshot(),
		Config:          cb.config,
		LastStateChange: time.Unix(0, cb.stateChangedAt.Load()),
	}
}

// ForceState sets the state unconditionally, bypassing the normal
// triggers, and performs the same per-state cleanup as a regular
// transition. Forcing the current state is a no-op.
func (cb *CircuitBreaker) ForceState(target State) {
	if State(cb.state.Load()) == target {
		return
	}
	cb.stateChangedAt.Store(time.Now().UnixNano())
	from := State(cb.state.Swap(int32(target)))
	if from == target {
		return
	}
	cb.cleanupFor(target)
	cb.notifyStateChange(from, target)
}

// Reset forces the breaker back to closed and zeroes all metrics, even
// when it is already closed.
func (cb *CircuitBreaker) Reset() {
	cb.stateChangedAt.Store(time.Now().UnixNano())
	from := State(cb.state.Swap(int32(StateClosed)))
	cb.metrics.Reset()
	cb.halfOpenCalls.Store(0)
	if from != StateClosed {
		cb.notifyStateChange(from, StateClosed)
	}
}

// allow decides whether a call may proceed and returns the state it was
// admitted under. Rejections are recorded and notified here; the
// operation is never invoked on a rejected path.
func (cb *CircuitBreaker) allow() (State, error) {
	for {
		switch state := cb.State(); state {
		case StateClosed:
			return StateClosed, nil

		case StateOpen:
			if !cb.openExpired(time.Now()) {
				return StateOpen, cb.reject(StateOpen, ErrCircuitOpen)
			}
			// Dwell time is over; whoever wins the transition re-enters
			// the loop and competes for the first probe slot.
			cb.transition(StateOpen, StateHalfOpen)

		case StateHalfOpen:
			if !cb.admitProbe() {
				return StateHalfOpen, cb.reject(StateHalfOpen, ErrTooManyCalls)
			}
			return StateHalfOpen, nil
		}
	}
}

// admitProbe grabs one probe slot. The increment-and-compare is a single
// CAS step that fails outright at the ceiling, so concurrent arrivals can
// never admit more than HalfOpenMaxCalls probes per episode.
func (cb *CircuitBreaker) admitProbe() bool {
	for {
		admitted := cb.halfOpenCalls.Load()
		if admitted >= cb.config.HalfOpenMaxCalls {
			return false
		}
		if cb.halfOpenCalls.CompareAndSwap(admitted, admitted+1) {
			return true
		}
	}
}

// openExpired reports whether the open-state dwell time has elapsed.
func (cb *CircuitBreaker) openExpired(now time.Time) bool {
	return now.UnixNano()-cb.stateChangedAt.Load() >= int64(cb.config.OpenTimeout)
}

// reject records a refused call and returns the wrapped rejection error.
func (cb *CircuitBreaker) reject(state State, cause error) error {
	cb.metrics.RecordRejected()
	cb.notifyRejected()
	return &BreakerError{Breaker: cb.name, State: state, Err: cause}
}

// settleSuccess records a successful call under the state it was
// admitted in.
func (cb *CircuitBreaker) settleSuccess(admitted State, d time.Duration) {
	cb.metrics.RecordSuccess(d)
	cb.notifySuccess(d)

	if admitted == StateHalfOpen &&
		cb.metrics.ConsecutiveSuccesses() >= cb.config.HalfOpenSuccessThreshold {
		cb.transition(StateHalfOpen, StateClosed)
	}
}

// settleFailure records a failed call and applies any transition the
// failure triggers.
func (cb *CircuitBreaker) settleFailure(admitted State, d time.Duration, cause error) {
	cb.metrics.RecordFailure(d)
	cb.notifyFailure(d, cause)
	cb.evaluateAfterFailure(admitted)
}

// settleTimeout records a timed-out call; timeouts trigger the same
// transitions as failures.
func (cb *CircuitBreaker) settleTimeout(admitted State, d time.Duration, cause error) {
	cb.metrics.RecordTimeout(d)
	cb.notifyFailure(d, cause)
	cb.evaluateAfterFailure(admitted)
}

// evaluateAfterFailure applies the forward transition a failure can
// trigger from the state the call was admitted in.
func (cb *CircuitBreaker) evaluateAfterFailure(admitted State) {
	switch admitted {
	case StateClosed:
		snap := cb.metrics.Snapshot()
		if snap.TotalCalls >= uint64(cb.config.MinimumCalls) &&
			snap.FailureRate >= cb.config.FailureRateThreshold {
			cb.transition(StateClosed, StateOpen)
		}

	case StateHalfOpen:
		// One failed probe reopens immediately; the transition discards
		// any remaining probe budget.
		cb.transition(StateHalfOpen, StateOpen)
	}
}

// transition attempts the from-to state change with a single CAS; only
// the winning goroutine performs cleanup and notifies the listener. The
// timestamp is stamped before the swap so a reader that already observes
// the new state can never pair it with the previous transition's
// timestamp; a losing stamp refreshes the current state's dwell clock by
// at most one in-flight call.
func (cb *CircuitBreaker) transition(from, to State) bool {
	cb.stateChangedAt.Store(time.Now().UnixNano())
	if !cb.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	cb.cleanupFor(to)
	cb.notifyStateChange(from, to)
	return true
}

// cleanupFor applies the per-state reset rules: entering closed starts a
// fresh evaluation window, entering half-open keeps totals but restarts
// streaks and the probe budget, entering open keeps totals for
// post-mortem reads.
func (cb *CircuitBreaker) cleanupFor(to State) {
	switch to {
	case StateClosed:
		cb.metrics.Reset()
		cb.halfOpenCalls.Store(0)
	case StateHalfOpen:
		cb.metrics.ResetConsecutive()
		cb.halfOpenCalls.Store(0)
	case StateOpen:
		cb.halfOpenCalls.Store(0)
	}
}

func (cb *CircuitBreaker) notifyStateChange(from, to State) {
	cb.notify(func(l EventListener) { l.OnStateChange(cb.name, from, to) })
}

func (cb *CircuitBreaker) notifySuccess(d time.Duration) {
	cb.notify(func(l EventListener) { l.OnCallSuccess(cb.name, d) })
}

func (cb *CircuitBreaker) notifyFailure(d time.Duration, cause error) {
	cb.notify(func(l EventListener) { l.OnCallFailure(cb.name, d, cause) })
}

func (cb *CircuitBreaker) notifyRejected() {
	cb.notify(func(l EventListener) { l.OnCallRejected(cb.name) })
}

// notify dispatches one event to the configured listener, recovering any
// panic so observers can never affect the call result.
func (cb *CircuitBreaker) notify(fire func(EventListener)) {
	listener := cb.config.Listener
	if listener == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			cb.config.Logger.Error("circuit breaker listener panicked",
				slog.String("breaker", cb.name),
				slog.Any("panic", r),
			)
		}
	}()
	fire(listener)
}
