package circuitbreaker

import "context"

// Result carries the settled outcome of a generic asynchronous call.
type Result[T any] struct {
	Value T
	Err   error
}

// Call runs a value-returning operation through the circuit breaker.
// On any error the zero value is returned; Value must not be read when
// Err is non-nil, since a caller-cancelled operation may still be
// producing it in the background.
func Call[T any](ctx context.Context, cb *CircuitBreaker, op func(ctx context.Context) (T, error)) (T, error) {
	var value T

	err := cb.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	return value, nil
}

// CallAsync runs a value-returning operation through the circuit breaker
// without waiting for it. The returned channel delivers exactly one
// Result when the call settles.
func CallAsync[T any](ctx context.Context, cb *CircuitBreaker, op func(ctx context.Context) (T, error)) <-chan Result[T] {
	out := make(chan Result[T], 1)
	var value T

	errs := cb.ExecuteAsync(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		value = v
		return nil
	})

	go func() {
		if err := <-errs; err != nil {
			out <- Result[T]{Err: err}
			return
		}
		out <- Result[T]{Value: value}
	}()

	return out
}

// FallbackFunc produces a substitute outcome from the error that made
// the primary call fail.
type FallbackFunc func(err error) error

// ExecuteWithFallback runs the operation through the circuit breaker and
// hands any error, rejections included, to the fallback.
func (cb *CircuitBreaker) ExecuteWithFallback(ctx context.Context, op func(ctx context.Context) error, fallback FallbackFunc) error {
	if err := cb.Execute(ctx, op); err != nil {
		return fallback(err)
	}
	return nil
}

// CallWithFallback is the value-returning version of ExecuteWithFallback.
func CallWithFallback[T any](ctx context.Context, cb *CircuitBreaker, op func(ctx context.Context) (T, error), fallback func(error) (T, error)) (T, error) {
	value, err := Call(ctx, cb, op)
	if err != nil {
		return fallback(err)
	}
	return value, nil
}

// DefaultValue returns a fallback that substitutes a fixed value.
func DefaultValue[T any](value T) func(error) (T, error) {
	return func(error) (T, error) {
		return value, nil
	}
}

// Cached returns a fallback that serves a cached value when one is
// available and otherwise reports the original error.
func Cached[T any](lookup func() (T, bool)) func(error) (T, error) {
	return func(err error) (T, error) {
		if value, ok := lookup(); ok {
			return value, nil
		}
		var zero T
		return zero, err
	}
}
