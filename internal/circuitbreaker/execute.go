package circuitbreaker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Execute runs the operation through the circuit breaker and returns its
// error, wrapped in a *BreakerError carrying the breaker's name and the
// state the call was admitted in.
//
// The operation runs on its own goroutine with a context that carries the
// caller's values but not its cancellation, and that is cancelled when
// CallTimeout elapses. Cancelling ctx makes Execute return ctx.Err()
// immediately while the operation keeps running until it settles; its
// real outcome is still recorded. On timeout the breaker records a
// timeout and cancels the operation context best-effort; an operation
// that ignores the cancellation keeps running in the background.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	admitted, err := cb.allow()
	if err != nil {
		return err
	}

	result := cb.launch(ctx, admitted, op)

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExecuteAsync runs the operation through the circuit breaker without
// waiting for it. The returned channel delivers exactly one value when
// the call settles; metrics and transitions are applied at settle time,
// not when ExecuteAsync returns. Rejections are delivered on the channel
// as well.
func (cb *CircuitBreaker) ExecuteAsync(ctx context.Context, op func(ctx context.Context) error) <-chan error {
	admitted, err := cb.allow()
	if err != nil {
		result := make(chan error, 1)
		result <- err
		return result
	}

	return cb.launch(ctx, admitted, op)
}

// launch starts the admitted operation racing the call-timeout timer.
// Whichever side flips the settled flag first records the outcome; the
// loser's result is discarded. The returned channel is buffered so the
// settling side never blocks on a caller that stopped waiting.
func (cb *CircuitBreaker) launch(ctx context.Context, admitted State, op func(ctx context.Context) error) <-chan error {
	result := make(chan error, 1)
	opCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	var settled atomic.Bool
	start := time.Now()

	timer := time.AfterFunc(cb.config.CallTimeout, func() {
		if !settled.CompareAndSwap(false, true) {
			return
		}
		cancel()
		cb.settleTimeout(admitted, time.Since(start), ErrCallTimeout)
		result <- &BreakerError{Breaker: cb.name, State: admitted, Err: ErrCallTimeout}
	})

	go func() {
		defer cancel()

		err := invoke(opCtx, op)

		if !settled.CompareAndSwap(false, true) {
			// Lost to the timeout; the call is already recorded.
			return
		}
		timer.Stop()

		elapsed := time.Since(start)
		if err == nil || cb.config.IsSuccessful(err) {
			cb.settleSuccess(admitted, elapsed)
			result <- err
			return
		}
		cb.settleFailure(admitted, elapsed, err)
		result <- &BreakerError{Breaker: cb.name, State: admitted, Err: err}
	}()

	return result
}

// invoke runs the operation, converting a panic into an error. The
// operation runs on a breaker-owned goroutine, so re-panicking could
// never reach the caller that has to learn about it.
func invoke(ctx context.Context, op func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrOperationPanicked, r)
		}
	}()

	return op(ctx)
}
