package circuitbreaker

import (
	"log/slog"
	"time"
)

// EventListener receives notifications about breaker activity. Listeners
// run synchronously on the caller's execution path and must be fast; a
// panicking listener is recovered and logged, never propagated into the
// call result.
type EventListener interface {
	// OnStateChange fires once per transition, from the goroutine that
	// won the state change.
	OnStateChange(name string, from, to State)

	// OnCallSuccess fires after a call completes successfully.
	OnCallSuccess(name string, duration time.Duration)

	// OnCallFailure fires after a call fails or times out; for timeouts
	// the cause unwraps to ErrCallTimeout.
	OnCallFailure(name string, duration time.Duration, cause error)

	// OnCallRejected fires when the breaker refuses a call without
	// invoking the operation.
	OnCallRejected(name string)
}

// ListenerFuncs adapts plain functions to the EventListener interface.
// Nil fields are simply skipped.
type ListenerFuncs struct {
	StateChange  func(name string, from, to State)
	CallSuccess  func(name string, duration time.Duration)
	CallFailure  func(name string, duration time.Duration, cause error)
	CallRejected func(name string)
}

// OnStateChange implements EventListener.
func (l ListenerFuncs) OnStateChange(name string, from, to State) {
	if l.StateChange != nil {
		l.StateChange(name, from, to)
	}
}

// OnCallSuccess implements EventListener.
func (l ListenerFuncs) OnCallSuccess(name string, duration time.Duration) {
	if l.CallSuccess != nil {
		l.CallSuccess(name, duration)
	}
}

// OnCallFailure implements EventListener.
func (l ListenerFuncs) OnCallFailure(name string, duration time.Duration, cause error) {
	if l.CallFailure != nil {
		l.CallFailure(name, duration, cause)
	}
}

// OnCallRejected implements EventListener.
func (l ListenerFuncs) OnCallRejected(name string) {
	if l.CallRejected != nil {
		l.CallRejected(name)
	}
}

// MultiListener fans every notification out to each listener in order.
func MultiListener(listeners ...EventListener) EventListener {
	return multiListener(listeners)
}

type multiListener []EventListener

func (m multiListener) OnStateChange(name string, from, to State) {
	for _, l := range m {
		l.OnStateChange(name, from, to)
	}
}

func (m multiListener) OnCallSuccess(name string, duration time.Duration) {
	for _, l := range m {
		l.OnCallSuccess(name, duration)
	}
}

func (m multiListener) OnCallFailure(name string, duration time.Duration, cause error) {
	for _, l := range m {
		l.OnCallFailure(name, duration, cause)
	}
}

func (m multiListener) OnCallRejected(name string) {
	for _, l := range m {
		l.OnCallRejected(name)
	}
}

// LogListener writes breaker events to a slog.Logger: state changes at
// Info, call outcomes and rejections at Debug.
type LogListener struct {
	logger *slog.Logger
}

// NewLogListener creates a LogListener. A nil logger falls back to
// slog.Default().
func NewLogListener(logger *slog.Logger) *LogListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogListener{logger: logger}
}

// OnStateChange implements EventListener.
func (l *LogListener) OnStateChange(name string, from, to State) {
	l.logger.Info("circuit breaker state changed",
		slog.String("breaker", name),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
}

// OnCallSuccess implements EventListener.
func (l *LogListener) OnCallSuccess(name string, duration time.Duration) {
	l.logger.Debug("call succeeded",
		slog.String("breaker", name),
		slog.Duration("duration", duration),
	)
}

// OnCallFailure implements EventListener.
func (l *LogListener) OnCallFailure(name string, duration time.Duration, cause error) {
	l.logger.Debug("call failed",
		slog.String("breaker", name),
		slog.Duration("duration", duration),
		slog.Any("error", cause),
	)
}

// OnCallRejected implements EventListener.
func (l *LogListener) OnCallRejected(name string) {
	l.logger.Debug("call rejected",
		slog.String("breaker", name),
	)
}
