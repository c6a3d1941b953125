package middleware

import (
	"context"
	"errors"

	"github.com/reservify/fuse/internal/circuitbreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCInterceptorConfig configures the gRPC interceptors
type GRPCInterceptorConfig struct {
	// Breaker guards the intercepted calls
	Breaker *circuitbreaker.CircuitBreaker

	// IsSuccessful determines whether an RPC error counts against the
	// breaker. Errors classified as successful are still returned to the
	// application. Defaults to treating client-side codes (InvalidArgument,
	// NotFound, ...) as successes.
	IsSuccessful func(err error) bool
}

// UnaryClientInterceptor returns a gRPC client interceptor that wraps calls
// with circuit breaker protection
func UnaryClientInterceptor(config GRPCInterceptorConfig) grpc.UnaryClientInterceptor {
	if config.IsSuccessful == nil {
		config.IsSuccessful = defaultGRPCIsSuccessful
	}

	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		var opErr error
		err := config.Breaker.Execute(ctx, func(ctx context.Context) error {
			opErr = invoker(ctx, method, req, reply, cc, opts...)
			if config.IsSuccessful(opErr) {
				return nil
			}
			return opErr
		})
		return grpcResult(ctx, err, opErr)
	}
}

// StreamClientInterceptor returns a gRPC stream client interceptor. The
// breaker guards stream establishment; errors on an established stream are
// not counted.
func StreamClientInterceptor(config GRPCInterceptorConfig) grpc.StreamClientInterceptor {
	if config.IsSuccessful == nil {
		config.IsSuccessful = defaultGRPCIsSuccessful
	}

	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		var stream grpc.ClientStream
		var opErr error
		err := config.Breaker.Execute(ctx, func(ctx context.Context) error {
			var serr error
			stream, serr = streamer(ctx, desc, cc, method, opts...)
			opErr = serr
			if config.IsSuccessful(serr) {
				return nil
			}
			return serr
		})
		if err == nil && opErr == nil {
			return stream, nil
		}
		return nil, grpcResult(ctx, err, opErr)
	}
}

// UnaryServerInterceptor returns a gRPC server interceptor that sheds load
// while the breaker is open and counts handler outcomes against it
func UnaryServerInterceptor(config GRPCInterceptorConfig) grpc.UnaryServerInterceptor {
	if config.IsSuccessful == nil {
		config.IsSuccessful = defaultGRPCIsSuccessful
	}

	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		var resp interface{}
		var opErr error
		err := config.Breaker.Execute(ctx, func(ctx context.Context) error {
			resp, opErr = handler(ctx, req)
			if config.IsSuccessful(opErr) {
				return nil
			}
			return opErr
		})
		if err == nil {
			return resp, opErr
		}
		return nil, grpcResult(ctx, err, opErr)
	}
}

// grpcResult translates a breaker outcome into the error the application
// should see. Rejections and timeouts surface as gRPC status errors; a
// settled call's own error is returned untouched.
//
// opErr is only read on paths where the call settled, which is what makes
// the captured-variable pattern in the interceptors safe.
func grpcResult(ctx context.Context, err, opErr error) error {
	switch {
	case err == nil:
		return opErr
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return status.Error(codes.Unavailable, "circuit breaker is open")
	case errors.Is(err, circuitbreaker.ErrTooManyCalls):
		return status.Error(codes.ResourceExhausted, "circuit breaker probe budget exhausted")
	case errors.Is(err, circuitbreaker.ErrCallTimeout):
		return status.Error(codes.DeadlineExceeded, "circuit breaker call timeout")
	}

	var berr *circuitbreaker.BreakerError
	if errors.As(err, &berr) {
		return berr.Err
	}
	// The caller's context was cancelled while the call was in flight.
	return status.FromContextError(ctx.Err()).Err()
}

// defaultGRPCIsSuccessful considers nil errors and certain codes as successful
func defaultGRPCIsSuccessful(err error) bool {
	if err == nil {
		return true
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	// These codes indicate client errors, not service failures
	switch st.Code() {
	case codes.OK:
		return true
	case codes.Canceled:
		return true
	case codes.InvalidArgument:
		return true
	case codes.NotFound:
		return true
	case codes.AlreadyExists:
		return true
	case codes.PermissionDenied:
		return true
	case codes.Unauthenticated:
		return true
	default:
		return false
	}
}
