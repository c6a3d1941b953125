package client_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reservify/fuse/internal/circuitbreaker"
	"github.com/reservify/fuse/pkg/client"
)

func TestHTTPClient_GetAndPost(t *testing.T) {
	var gotContentType atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			gotContentType.Store(r.Header.Get("Content-Type"))
		}
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	c, err := client.NewHTTPClient("payments", circuitbreaker.Config{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	ctx := context.Background()

	resp, err := c.Get(ctx, srv.URL)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	resp, err = c.Post(ctx, srv.URL, "application/json", strings.NewReader(`{"amount":100}`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	resp.Body.Close()
	if ct, _ := gotContentType.Load().(string); ct != "application/json" {
		t.Errorf("Expected content type set, got %q", ct)
	}

	if m := c.Status().Metrics; m.Successes != 2 {
		t.Errorf("Expected 2 successes recorded, got %+v", m)
	}
}

func TestHTTPClient_TripsOnRepeatedServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := client.NewHTTPClient("payments", circuitbreaker.Config{
		MinimumCalls: 4,
		OpenTimeout:  time.Minute,
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		resp, err := c.Get(ctx, srv.URL)
		if err != nil {
			t.Fatalf("Unexpected error on call %d: %v", i, err)
		}
		resp.Body.Close()
	}

	if state := c.State(); state != circuitbreaker.StateOpen {
		t.Fatalf("Expected StateOpen after repeated 500s, got %v", state)
	}

	_, err = c.Get(ctx, srv.URL)
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestNewHTTPClientFor_SharesRegistryBreaker(t *testing.T) {
	registry := circuitbreaker.NewRegistry()
	cb, err := registry.GetOrCreate("payment", circuitbreaker.Config{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	c := client.NewHTTPClientFor(cb)
	if c.Breaker() != cb {
		t.Error("Expected the client to use the shared breaker instance")
	}

	cb.ForceState(circuitbreaker.StateOpen)
	if c.State() != circuitbreaker.StateOpen {
		t.Error("Expected the client to observe the shared breaker's state")
	}
}

func TestNewHTTPClient_InvalidConfig(t *testing.T) {
	c, err := client.NewHTTPClient("payments", circuitbreaker.Config{
		FailureRateThreshold: 3,
	})
	if err == nil {
		t.Fatal("Expected an error for an invalid config")
	}
	if c != nil {
		t.Errorf("Expected nil client, got %v", c)
	}
}
