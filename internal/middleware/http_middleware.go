package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/reservify/fuse/internal/circuitbreaker"
)

// HTTPMiddlewareConfig configures the HTTP middleware
type HTTPMiddlewareConfig struct {
	// Breaker guards the wrapped handler
	Breaker *circuitbreaker.CircuitBreaker

	// OnCircuitOpen is called when a request is rejected, allowing custom
	// responses. Defaults to a JSON 503 with a Retry-After header derived
	// from the breaker's remaining open time.
	OnCircuitOpen func(w http.ResponseWriter, r *http.Request)

	// IsSuccessful determines if a response status is considered successful
	// Defaults to: 2xx and 3xx status codes
	IsSuccessful func(status int) bool
}

// HTTPMiddleware wraps HTTP handlers with circuit breaker protection
type HTTPMiddleware struct {
	config HTTPMiddlewareConfig
}

// NewHTTPMiddleware creates a new HTTP middleware
func NewHTTPMiddleware(config HTTPMiddlewareConfig) *HTTPMiddleware {
	if config.OnCircuitOpen == nil {
		config.OnCircuitOpen = circuitOpenHandler(config.Breaker)
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = defaultIsSuccessful
	}

	return &HTTPMiddleware{config: config}
}

// Wrap wraps an http.Handler with circuit breaker protection.
//
// The inner handler writes to a buffered ResponseWriter that is flushed to
// the client only after the call settles. When the call times out, the
// handler keeps running against the buffer on its own goroutine and the
// buffer is discarded, so the real ResponseWriter is never written
// concurrently. Responses whose status is classified as a failure are still
// delivered; the breaker merely counts them.
func (m *HTTPMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bw := newBufferedWriter()

		err := m.config.Breaker.Execute(r.Context(), func(ctx context.Context) error {
			next.ServeHTTP(bw, r.WithContext(ctx))

			if status := bw.status; !m.config.IsSuccessful(status) {
				return &statusError{code: status}
			}
			return nil
		})

		var serr *statusError
		switch {
		case err == nil:
			bw.flush(w)
		case errors.As(err, &serr):
			bw.flush(w)
		case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyCalls):
			m.config.OnCircuitOpen(w, r)
		case errors.Is(err, circuitbreaker.ErrCallTimeout):
			writeJSONError(w, http.StatusGatewayTimeout, "upstream call timed out")
		case r.Context().Err() != nil:
			// Client went away; nothing left to write.
		default:
			writeJSONError(w, http.StatusInternalServerError, "internal server error")
		}
	})
}

// WrapFunc wraps an http.HandlerFunc with circuit breaker protection
func (m *HTTPMiddleware) WrapFunc(next http.HandlerFunc) http.Handler {
	return m.Wrap(next)
}

// Handler returns a middleware handler for use with chi, gorilla/mux, etc.
func (m *HTTPMiddleware) Handler(next http.Handler) http.Handler {
	return m.Wrap(next)
}

// bufferedWriter accumulates a handler's response so it can be replayed to
// the client after the call settles, or dropped when it does not.
type bufferedWriter struct {
	header      http.Header
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header), status: http.StatusOK}
}

func (bw *bufferedWriter) Header() http.Header { return bw.header }

func (bw *bufferedWriter) WriteHeader(code int) {
	if !bw.wroteHeader {
		bw.status = code
		bw.wroteHeader = true
	}
}

func (bw *bufferedWriter) Write(b []byte) (int, error) {
	if !bw.wroteHeader {
		bw.WriteHeader(http.StatusOK)
	}
	return bw.body.Write(b)
}

func (bw *bufferedWriter) flush(w http.ResponseWriter) {
	dst := w.Header()
	for k, vv := range bw.header {
		dst[k] = vv
	}
	w.WriteHeader(bw.status)
	if bw.body.Len() > 0 {
		w.Write(bw.body.Bytes())
	}
}

// statusError marks a delivered HTTP response whose status the breaker
// counted as a failure
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream returned %d %s", e.code, http.StatusText(e.code))
}

// circuitOpenHandler returns the default rejection handler: a 503 with a
// Retry-After hint based on how much of the open timeout remains
func circuitOpenHandler(cb *circuitbreaker.CircuitBreaker) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		retry := retryAfterSeconds(cb)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"error":"service temporarily unavailable","retry_after":%d}`, retry)
	}
}

func retryAfterSeconds(cb *circuitbreaker.CircuitBreaker) int {
	if cb == nil {
		return 1
	}
	st := cb.Status()
	if st.State != circuitbreaker.StateOpen {
		// Half-open rejections clear as soon as a probe settles.
		return 1
	}
	remaining := cb.Config().OpenTimeout - time.Since(st.LastStateChange)
	secs := int(remaining / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, msg)
}

// defaultIsSuccessful considers 2xx and 3xx status codes as successful
func defaultIsSuccessful(status int) bool {
	return status >= 200 && status < 400
}

// RoundTripper wraps http.RoundTripper with circuit breaker for outgoing requests
type RoundTripper struct {
	base    http.RoundTripper
	breaker *circuitbreaker.CircuitBreaker
}

// NewRoundTripper creates a new circuit-protected RoundTripper
func NewRoundTripper(base http.RoundTripper, breaker *circuitbreaker.CircuitBreaker) *RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RoundTripper{
		base:    base,
		breaker: breaker,
	}
}

// RoundTrip implements http.RoundTripper. Transport errors and responses
// with a 5xx status count against the breaker; a 5xx response is still
// returned to the caller with a nil error, as the transport contract
// requires.
func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response

	err := rt.breaker.Execute(req.Context(), func(ctx context.Context) error {
		r, rerr := rt.base.RoundTrip(req.WithContext(ctx))
		if rerr != nil {
			return rerr
		}
		if ctx.Err() != nil {
			// The call timed out while the response was in flight; the
			// result will never be delivered, so release the connection.
			r.Body.Close()
			return ctx.Err()
		}
		resp = r

		if r.StatusCode >= 500 {
			return &statusError{code: r.StatusCode}
		}
		return nil
	})

	var serr *statusError
	switch {
	case err == nil:
		return resp, nil
	case errors.As(err, &serr):
		return resp, nil
	}
	return nil, err
}
