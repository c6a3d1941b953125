package circuitbreaker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/reservify/fuse/internal/circuitbreaker"
)

func TestExecuteWithFallback_NotCalledOnSuccess(t *testing.T) {
	cb, _ := circuitbreaker.New("payments", circuitbreaker.Config{})
	fallbackCalled := false

	err := cb.ExecuteWithFallback(context.Background(),
		func(context.Context) error { return nil },
		func(err error) error {
			fallbackCalled = true
			return nil
		},
	)
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if fallbackCalled {
		t.Error("Fallback should not be called on success")
	}
}

func TestExecuteWithFallback_ReceivesWrappedError(t *testing.T) {
	cb, _ := circuitbreaker.New("payments", circuitbreaker.Config{})

	var seen error
	err := cb.ExecuteWithFallback(context.Background(),
		func(context.Context) error { return errDownstream },
		func(err error) error {
			seen = err
			return nil
		},
	)
	if err != nil {
		t.Errorf("Expected nil from a succeeding fallback, got %v", err)
	}
	if !errors.Is(seen, errDownstream) {
		t.Errorf("Expected fallback to receive the original cause, got %v", seen)
	}
}

func TestExecuteWithFallback_CoversRejections(t *testing.T) {
	cb, _ := circuitbreaker.New("payments", circuitbreaker.Config{})
	cb.ForceState(circuitbreaker.StateOpen)

	var seen error
	invoked := false
	err := cb.ExecuteWithFallback(context.Background(),
		func(context.Context) error {
			invoked = true
			return nil
		},
		func(err error) error {
			seen = err
			return nil
		},
	)
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if invoked {
		t.Error("Operation should not run while open")
	}
	if !errors.Is(seen, circuitbreaker.ErrCircuitOpen) {
		t.Errorf("Expected fallback to see ErrCircuitOpen, got %v", seen)
	}
}

func TestCall_ReturnsValue(t *testing.T) {
	cb, _ := circuitbreaker.New("payments", circuitbreaker.Config{})

	got, err := circuitbreaker.Call(context.Background(), cb,
		func(context.Context) (string, error) { return "receipt-42", nil })
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != "receipt-42" {
		t.Errorf("Expected receipt-42, got %q", got)
	}
}

func TestCall_ZeroValueOnError(t *testing.T) {
	cb, _ := circuitbreaker.New("payments", circuitbreaker.Config{})

	got, err := circuitbreaker.Call(context.Background(), cb,
		func(context.Context) (int, error) { return 99, errDownstream })
	if !errors.Is(err, errDownstream) {
		t.Fatalf("Expected errDownstream, got %v", err)
	}
	if got != 0 {
		t.Errorf("Expected zero value on error, got %d", got)
	}
}

func TestCallAsync_DeliversResult(t *testing.T) {
	cb, _ := circuitbreaker.New("payments", circuitbreaker.Config{})

	results := circuitbreaker.CallAsync(context.Background(), cb,
		func(context.Context) (int, error) { return 7, nil })

	r := <-results
	if r.Err != nil {
		t.Fatalf("Unexpected error: %v", r.Err)
	}
	if r.Value != 7 {
		t.Errorf("Expected 7, got %d", r.Value)
	}

	results = circuitbreaker.CallAsync(context.Background(), cb,
		func(context.Context) (int, error) { return 0, errDownstream })

	if r := <-results; !errors.Is(r.Err, errDownstream) {
		t.Errorf("Expected errDownstream, got %v", r.Err)
	}
}

func TestCallWithFallback_UsesFallbackValue(t *testing.T) {
	cb, _ := circuitbreaker.New("payments", circuitbreaker.Config{})
	cb.ForceState(circuitbreaker.StateOpen)

	got, err := circuitbreaker.CallWithFallback(context.Background(), cb,
		func(context.Context) (string, error) { return "live", nil },
		circuitbreaker.DefaultValue("cached"),
	)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != "cached" {
		t.Errorf("Expected fallback value, got %q", got)
	}
}

func TestCached_FallbackServesWhenAvailable(t *testing.T) {
	cb, _ := circuitbreaker.New("payments", circuitbreaker.Config{})
	cb.ForceState(circuitbreaker.StateOpen)
	ctx := context.Background()
	op := func(context.Context) (string, error) { return "live", nil }

	got, err := circuitbreaker.CallWithFallback(ctx, cb, op,
		circuitbreaker.Cached(func() (string, bool) { return "stale", true }))
	if err != nil || got != "stale" {
		t.Errorf("Expected stale value, got %q, %v", got, err)
	}

	// No cached value: the original rejection surfaces
	_, err = circuitbreaker.CallWithFallback(ctx, cb, op,
		circuitbreaker.Cached(func() (string, bool) { return "", false }))
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen without a cached value, got %v", err)
	}
}
