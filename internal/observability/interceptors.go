package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"meeting-insight-service/internal/observability/metrics"
)

// UnaryServerInterceptor counts and logs unary calls. Successful calls log at
// debug level.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		finishCall(info.FullMethod, "unary", start, err)
		return resp, err
	}
}

// StreamServerInterceptor counts and logs streams such as health Watch.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		finishCall(info.FullMethod, "stream", start, err)
		return err
	}
}

func finishCall(method, kind string, start time.Time, err error) {
	code := status.Code(err).String()
	metrics.DefaultMetrics.RecordGRPC(method, code)

	ev := log.Debug()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("method", method).
		Str("kind", kind).
		Str("code", code).
		Dur("duration", time.Since(start)).
		Msg("gRPC call finished")
}
