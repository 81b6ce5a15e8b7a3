package nbi

import (
	"context"
	"net/http"

	"github.com/signalsfoundry/sewerflow-simulator/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	requestIDMetadataKey = "x-request-id"
	requestIDHeader      = "X-Request-ID"
)

// RequestIDUnaryServerInterceptor ensures a request_id is present on the
// context, sourcing it from inbound metadata if provided, and attaches a
// per-request logger annotated with request_id and method. runID, when set,
// is carried on the context so every log line names the run being served.
func RequestIDUnaryServerInterceptor(base logging.Logger, runID string) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if incoming := firstHeader(md, requestIDMetadataKey); incoming != "" {
				ctx = logging.ContextWithRequestID(ctx, incoming)
			}
		}
		if runID != "" {
			ctx = logging.ContextWithRunID(ctx, runID)
		}

		ctx, reqLog := logging.WithRequestLogger(ctx, base.With(logging.String("method", info.FullMethod)))
		ctx = logging.ContextWithLogger(ctx, reqLog)

		resp, err := handler(ctx, req)
		if err != nil {
			reqLog.Warn(ctx, "rpc failed", logging.Err(err))
		}
		return resp, err
	}
}

// RequestIDMiddleware is the HTTP counterpart of
// RequestIDUnaryServerInterceptor. The request ID is echoed back in the
// X-Request-ID response header.
func RequestIDMiddleware(base logging.Logger, runID string) func(http.Handler) http.Handler {
	if base == nil {
		base = logging.Noop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if incoming := r.Header.Get(requestIDHeader); incoming != "" {
				ctx = logging.ContextWithRequestID(ctx, incoming)
			}
			if runID != "" {
				ctx = logging.ContextWithRunID(ctx, runID)
			}
			ctx, reqLog := logging.WithRequestLogger(ctx, base.With(
				logging.String("http_method", r.Method),
				logging.String("path", r.URL.Path),
			))
			ctx = logging.ContextWithLogger(ctx, reqLog)
			w.Header().Set(requestIDHeader, logging.RequestIDFromContext(ctx))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func firstHeader(md metadata.MD, key string) string {
	if md == nil {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
