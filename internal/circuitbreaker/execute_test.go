package circuitbreaker_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/reservify/fuse/internal/circuitbreaker"
)

func TestExecute_TimeoutRecordsAndCancelsOperation(t *testing.T) {
	cb, _ := circuitbreaker.New("payments", circuitbreaker.Config{
		CallTimeout: 50 * time.Millisecond,
	})

	opDone := make(chan error, 1)
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			opDone <- ctx.Err()
			return ctx.Err()
		case <-time.After(2 * time.Second):
			opDone <- nil
			return nil
		}
	})

	if !errors.Is(err, circuitbreaker.ErrCallTimeout) {
		t.Fatalf("Expected ErrCallTimeout, got %v", err)
	}
	var berr *circuitbreaker.BreakerError
	if !errors.As(err, &berr) || berr.State != circuitbreaker.StateClosed {
		t.Errorf("Expected BreakerError admitted in closed, got %v", err)
	}

	select {
	case opErr := <-opDone:
		if opErr == nil {
			t.Error("Expected the operation context to be cancelled on timeout")
		}
	case <-time.After(time.Second):
		t.Fatal("Operation never observed the timeout cancellation")
	}

	m := cb.Metrics()
	if m.Timeouts != 1 || m.TotalCalls != 1 {
		t.Errorf("Expected 1 timeout of 1 call, got %+v", m)
	}
}

func TestExecute_CallerCancelDetachesOperation(t *testing.T) {
	cb, _ := circuitbreaker.New("payments", circuitbreaker.Config{
		CallTimeout: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	opFinished := make(chan struct{})
	err := cb.Execute(ctx, func(context.Context) error {
		defer close(opFinished)
		// Outlives the caller's cancellation on purpose
		time.Sleep(80 * time.Millisecond)
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	var berr *circuitbreaker.BreakerError
	if errors.As(err, &berr) {
		t.Errorf("Expected the caller's own ctx error unwrapped, got %v", err)
	}

	select {
	case <-opFinished:
	case <-time.After(time.Second):
		t.Fatal("Operation should have kept running after the caller gave up")
	}

	// The abandoned call still settles and records its real outcome
	time.Sleep(50 * time.Millisecond)
	m := cb.Metrics()
	if m.Successes != 1 || m.TotalCalls != 1 {
		t.Errorf("Expected the abandoned call recorded as success, got %+v", m)
	}
}

func TestExecute_PanicBecomesError(t *testing.T) {
	cb, _ := circuitbreaker.New("payments", circuitbreaker.Config{})

	err := cb.Execute(context.Background(), func(context.Context) error {
		panic("boom")
	})

	if !errors.Is(err, circuitbreaker.ErrOperationPanicked) {
		t.Fatalf("Expected ErrOperationPanicked, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("Expected recovered value in message, got %q", err.Error())
	}

	m := cb.Metrics()
	if m.Failures != 1 {
		t.Errorf("Expected panic recorded as failure, got %+v", m)
	}
}

func TestExecute_IsSuccessfulClassification(t *testing.T) {
	errNotFound := errors.New("not found")
	cb, _ := circuitbreaker.New("payments", circuitbreaker.Config{
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errNotFound)
		},
	})
	ctx := context.Background()

	// A classified-success error is returned to the caller untouched
	err := cb.Execute(ctx, func(context.Context) error { return errNotFound })
	if !errors.Is(err, errNotFound) {
		t.Fatalf("Expected errNotFound, got %v", err)
	}
	var berr *circuitbreaker.BreakerError
	if errors.As(err, &berr) {
		t.Errorf("Expected classified-success error unwrapped, got %v", err)
	}

	if m := cb.Metrics(); m.Successes != 1 || m.Failures != 0 {
		t.Errorf("Expected not-found counted as success, got %+v", m)
	}

	// Anything else still counts as failure
	err = cb.Execute(ctx, func(context.Context) error { return errDownstream })
	if !errors.As(err, &berr) {
		t.Fatalf("Expected *BreakerError, got %v", err)
	}
	if m := cb.Metrics(); m.Failures != 1 {
		t.Errorf("Expected 1 failure, got %+v", m)
	}
}

func TestExecute_WrapsOperationErrors(t *testing.T) {
	cb, _ := circuitbreaker.New("payments", circuitbreaker.Config{})

	err := cb.Execute(context.Background(), func(context.Context) error {
		return errDownstream
	})

	var berr *circuitbreaker.BreakerError
	if !errors.As(err, &berr) {
		t.Fatalf("Expected *BreakerError, got %T", err)
	}
	if berr.Breaker != "payments" || berr.State != circuitbreaker.StateClosed {
		t.Errorf("Unexpected error context: breaker=%s state=%v", berr.Breaker, berr.State)
	}
	if !errors.Is(err, errDownstream) {
		t.Errorf("Expected original cause reachable, got %v", err)
	}
	if !strings.Contains(err.Error(), "circuit breaker payments (closed)") {
		t.Errorf("Unexpected error message: %q", err.Error())
	}
}

type tenantKey struct{}

func TestExecute_ContextValuesFlowThrough(t *testing.T) {
	cb, _ := circuitbreaker.New("payments", circuitbreaker.Config{})
	ctx := context.WithValue(context.Background(), tenantKey{}, "tenant-7")

	var got string
	err := cb.Execute(ctx, func(ctx context.Context) error {
		got, _ = ctx.Value(tenantKey{}).(string)
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != "tenant-7" {
		t.Errorf("Expected caller values visible to the operation, got %q", got)
	}
}

func TestExecute_TimeoutInHalfOpenReopens(t *testing.T) {
	cb, _ := circuitbreaker.New("payments", circuitbreaker.Config{
		CallTimeout: 30 * time.Millisecond,
	})
	cb.ForceState(circuitbreaker.StateHalfOpen)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if !errors.Is(err, circuitbreaker.ErrCallTimeout) {
		t.Fatalf("Expected ErrCallTimeout, got %v", err)
	}
	if state := cb.State(); state != circuitbreaker.StateOpen {
		t.Errorf("Expected a timed-out probe to reopen the circuit, got %v", state)
	}
}

func TestExecuteAsync_DeliversSettledOutcome(t *testing.T) {
	cb, _ := circuitbreaker.New("payments", circuitbreaker.Config{})
	ctx := context.Background()

	errs := cb.ExecuteAsync(ctx, func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})
	if err := <-errs; err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	// Settlement happens before delivery
	if m := cb.Metrics(); m.Successes != 1 {
		t.Errorf("Expected success recorded before delivery, got %+v", m)
	}

	errs = cb.ExecuteAsync(ctx, func(context.Context) error { return errDownstream })
	if err := <-errs; !errors.Is(err, errDownstream) {
		t.Errorf("Expected errDownstream, got %v", err)
	}
}

func TestExecuteAsync_RejectionDelivered(t *testing.T) {
	cb, _ := circuitbreaker.New("payments", circuitbreaker.Config{})
	cb.ForceState(circuitbreaker.StateOpen)

	errs := cb.ExecuteAsync(context.Background(), func(context.Context) error { return nil })
	if err := <-errs; !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}
