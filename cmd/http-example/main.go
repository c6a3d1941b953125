package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reservify/fuse/internal/circuitbreaker"
	"github.com/reservify/fuse/internal/middleware"
	"github.com/reservify/fuse/internal/profile"
	"github.com/reservify/fuse/pkg/client"
)

// services are the simulated downstream dependencies, each guarded by its
// own breaker shared between the API route and the demo traffic driver.
var services = []string{"payment", "inventory", "notification"}

func main() {
	var (
		listen  = flag.String("listen", ":8080", "address to serve on")
		cfgPath = flag.String("config", "", "profile file (YAML), optional")
		drive   = flag.Bool("drive", true, "generate demo traffic against the API routes")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	store, err := profile.Load(*cfgPath)
	if err != nil {
		logger.Error("failed to load profiles", "error", err)
		os.Exit(1)
	}

	registry := circuitbreaker.NewRegistry()
	events := circuitbreaker.MultiListener(
		circuitbreaker.NewLogListener(logger),
		circuitbreaker.NewPrometheusListener("demo", nil),
	)

	breakerFor := func(name string) (*circuitbreaker.CircuitBreaker, error) {
		cfg := store.For(name)
		cfg.Listener = events
		cfg.Logger = logger
		return registry.GetOrCreate(name, cfg)
	}

	clients := make(map[string]*client.HTTPClient, len(services))
	for _, name := range services {
		cb, err := breakerFor(name)
		if err != nil {
			logger.Error("failed to create breaker", "service", name, "error", err)
			os.Exit(1)
		}
		clients[name] = client.NewHTTPClientFor(cb)
	}

	if *cfgPath != "" {
		watcher := profile.NewWatcher(*cfgPath, store, logger)
		watcher.OnReload(func(s *profile.Store) {
			logger.Info("profiles updated, breakers created from now on use them", "services", s.Names())
		})
		watcher.Start()
		defer watcher.Stop()
	}

	upstream := &flakyUpstream{start: time.Now()}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /upstream/{service}", upstream.handle)

	// Outbound protection: each API route calls its upstream through a
	// breaker-guarded HTTP client.
	mux.HandleFunc("GET /api/{service}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("service")
		c, ok := clients[name]
		if !ok {
			http.NotFound(w, r)
			return
		}

		url := fmt.Sprintf("http://%s/upstream/%s", selfAddr(*listen), name)
		resp, err := c.Get(r.Context(), url)
		switch {
		case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyCalls):
			w.Header().Set("Retry-After", "5")
			http.Error(w, "service temporarily unavailable", http.StatusServiceUnavailable)
		case errors.Is(err, circuitbreaker.ErrCallTimeout):
			http.Error(w, "upstream timed out", http.StatusGatewayTimeout)
		case err != nil:
			http.Error(w, "upstream unreachable", http.StatusBadGateway)
		default:
			defer resp.Body.Close()
			w.WriteHeader(resp.StatusCode)
			io.Copy(w, resp.Body)
		}
	})

	// Inbound protection: a locally computed route wrapped in the HTTP
	// middleware, so its own failures trip the breaker.
	computeCB, err := breakerFor("compute")
	if err != nil {
		logger.Error("failed to create breaker", "service", "compute", "error", err)
		os.Exit(1)
	}
	computeMW := middleware.NewHTTPMiddleware(middleware.HTTPMiddlewareConfig{Breaker: computeCB})
	mux.Handle("GET /compute", computeMW.WrapFunc(func(w http.ResponseWriter, r *http.Request) {
		// Steady 20% failure rate, enough to flap under sustained load.
		if rand.Float64() < 0.2 {
			http.Error(w, "flaky dependency", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(registry.AllStatus()); err != nil {
			logger.Error("failed to encode status", "error", err)
		}
	})

	mux.HandleFunc("POST /admin/breakers/{name}/reset", func(w http.ResponseWriter, r *http.Request) {
		cb, ok := registry.Get(r.PathValue("name"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		cb.Reset()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /admin/breakers/{name}/force", func(w http.ResponseWriter, r *http.Request) {
		cb, ok := registry.Get(r.PathValue("name"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		var target circuitbreaker.State
		switch r.URL.Query().Get("state") {
		case "closed":
			target = circuitbreaker.StateClosed
		case "open":
			target = circuitbreaker.StateOpen
		case "half-open":
			target = circuitbreaker.StateHalfOpen
		default:
			http.Error(w, "state must be closed, open or half-open", http.StatusBadRequest)
			return
		}
		cb.ForceState(target)
		w.WriteHeader(http.StatusNoContent)
	})

	server := &http.Server{Addr: *listen, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening",
			"addr", *listen,
			"routes", "/api/{service} /compute /upstream/{service} /status /metrics",
			"admin", "POST /admin/breakers/{name}/reset, POST /admin/breakers/{name}/force?state=open")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	if *drive {
		go driveTraffic(ctx, logger, registry, *listen)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// flakyUpstream simulates downstream services whose health changes over
// the life of the process, so the breakers visibly trip and recover.
type flakyUpstream struct {
	start time.Time
}

func (u *flakyUpstream) handle(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("service")
	if rand.Float64() < u.failureRate(name, time.Since(u.start)) {
		http.Error(w, "simulated failure", http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, `{"service":%q,"ok":true}`, name)
}

func (u *flakyUpstream) failureRate(name string, elapsed time.Duration) float64 {
	switch name {
	case "payment":
		// Fails hard at first, then recovers.
		switch {
		case elapsed < 20*time.Second:
			return 0.7
		case elapsed < 40*time.Second:
			return 0.3
		default:
			return 0
		}
	case "inventory":
		return 0.05
	case "notification":
		// Healthy at first, melts down between 30s and 60s.
		if elapsed > 30*time.Second && elapsed < 60*time.Second {
			return 0.9
		}
		return 0
	}
	return 0
}

// driveTraffic generates a steady request stream against the demo routes
// and logs each breaker's view of the world as it goes.
func driveTraffic(ctx context.Context, logger *slog.Logger, registry *circuitbreaker.Registry, listen string) {
	base := "http://" + selfAddr(listen)
	httpc := &http.Client{Timeout: 10 * time.Second}

	logger.Info("starting demo traffic",
		"scenario", "payment fails then recovers, notification degrades after 30s, compute flaps")

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	targets := make(map[string]string, len(services)+1)
	for _, name := range services {
		targets[name] = base + "/api/" + name
	}
	targets["compute"] = base + "/compute"

	for i := 1; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for name, url := range targets {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				continue
			}
			resp, err := httpc.Do(req)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("request error", "service", name, "error", err)
				continue
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if cb, ok := registry.Get(name); ok {
				m := cb.Metrics()
				logger.Debug("call finished",
					"n", i,
					"service", name,
					"status", resp.StatusCode,
					"state", cb.State(),
					"total", m.TotalCalls,
					"failure_rate", fmt.Sprintf("%.2f", m.FailureRate),
				)
			}
		}
	}
}

// selfAddr turns a listen address into one the demo can dial itself on.
func selfAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
