package circuitbreaker_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reservify/fuse/internal/circuitbreaker"
)

// countingListener tallies every notification it receives.
type countingListener struct {
	stateChanges atomic.Int32
	successes    atomic.Int32
	failures     atomic.Int32
	rejections   atomic.Int32
	lastCause    atomic.Value
}

func (c *countingListener) OnStateChange(name string, from, to circuitbreaker.State) {
	c.stateChanges.Add(1)
}

func (c *countingListener) OnCallSuccess(name string, d time.Duration) {
	c.successes.Add(1)
}

func (c *countingListener) OnCallFailure(name string, d time.Duration, cause error) {
	c.failures.Add(1)
	c.lastCause.Store(cause)
}

func (c *countingListener) OnCallRejected(name string) {
	c.rejections.Add(1)
}

func TestListener_ReceivesAllOutcomes(t *testing.T) {
	listener := &countingListener{}
	cb, _ := circuitbreaker.New("payments", circuitbreaker.Config{
		Listener: listener,
	})
	ctx := context.Background()

	cb.Execute(ctx, func(context.Context) error { return nil })
	cb.Execute(ctx, func(context.Context) error { return errDownstream })

	cb.ForceState(circuitbreaker.StateOpen)
	cb.Execute(ctx, func(context.Context) error { return nil })

	if n := listener.successes.Load(); n != 1 {
		t.Errorf("Expected 1 success notification, got %d", n)
	}
	if n := listener.failures.Load(); n != 1 {
		t.Errorf("Expected 1 failure notification, got %d", n)
	}
	if n := listener.rejections.Load(); n != 1 {
		t.Errorf("Expected 1 rejection notification, got %d", n)
	}
	if n := listener.stateChanges.Load(); n != 1 {
		t.Errorf("Expected 1 state change notification, got %d", n)
	}
	if cause, _ := listener.lastCause.Load().(error); cause != errDownstream {
		t.Errorf("Expected the failure cause passed through, got %v", cause)
	}
}

func TestListener_NilIsNoOp(t *testing.T) {
	cb, _ := circuitbreaker.New("payments", circuitbreaker.Config{})
	ctx := context.Background()

	// Nothing to assert beyond "does not panic"
	cb.Execute(ctx, func(context.Context) error { return nil })
	cb.Execute(ctx, func(context.Context) error { return errDownstream })
	cb.ForceState(circuitbreaker.StateOpen)
	cb.Execute(ctx, func(context.Context) error { return nil })
}

func TestListener_PanicIsSwallowedAndLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	cb, _ := circuitbreaker.New("payments", circuitbreaker.Config{
		Listener: circuitbreaker.ListenerFuncs{
			CallSuccess: func(string, time.Duration) { panic("observer bug") },
		},
		Logger: logger,
	})

	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Listener panic must not affect the call result, got %v", err)
	}

	if m := cb.Metrics(); m.Successes != 1 {
		t.Errorf("Expected the call recorded despite the listener panic, got %+v", m)
	}
	if out := buf.String(); !strings.Contains(out, "listener panicked") || !strings.Contains(out, "observer bug") {
		t.Errorf("Expected the panic logged, got %q", out)
	}
}

func TestListenerFuncs_NilFieldsSkipped(t *testing.T) {
	var rejections int
	l := circuitbreaker.ListenerFuncs{
		CallRejected: func(string) { rejections++ },
	}

	// Unset callbacks are no-ops
	l.OnStateChange("payments", circuitbreaker.StateClosed, circuitbreaker.StateOpen)
	l.OnCallSuccess("payments", time.Millisecond)
	l.OnCallFailure("payments", time.Millisecond, errDownstream)
	l.OnCallRejected("payments")

	if rejections != 1 {
		t.Errorf("Expected 1 rejection callback, got %d", rejections)
	}
}

func TestMultiListener_FansOutInOrder(t *testing.T) {
	var order []string
	first := circuitbreaker.ListenerFuncs{
		CallSuccess: func(string, time.Duration) { order = append(order, "first") },
	}
	second := circuitbreaker.ListenerFuncs{
		CallSuccess: func(string, time.Duration) { order = append(order, "second") },
	}

	multi := circuitbreaker.MultiListener(first, second)
	multi.OnCallSuccess("payments", time.Millisecond)

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("Expected in-order fan-out, got %v", order)
	}
}

func TestLogListener_WritesStateChanges(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := circuitbreaker.NewLogListener(logger)

	l.OnStateChange("payments", circuitbreaker.StateClosed, circuitbreaker.StateOpen)
	l.OnCallFailure("payments", 5*time.Millisecond, errDownstream)
	l.OnCallRejected("payments")

	out := buf.String()
	for _, want := range []string{"state changed", "from=closed", "to=open", "call failed", "call rejected"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log output to contain %q, got %q", want, out)
		}
	}
}
