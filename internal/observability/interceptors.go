// Package observability provides gRPC interceptors and the metrics HTTP server.
package observability

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ai-speech-stream-service/internal/observability/logging"
	"ai-speech-stream-service/internal/observability/metrics"
)

const (
	callUnary  = "unary"
	callStream = "stream"
)

// UnaryServerInterceptor records every unary call (health checks included)
// under the grpc metrics and logs it.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	log := logging.WithComponent("grpc")
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observeCall(m, log, callUnary, info.FullMethod, start, err)
		return resp, err
	}
}

// StreamServerInterceptor is the streaming counterpart, used by health Watch
// and reflection.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	log := logging.WithComponent("grpc")
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		err := handler(srv, ss)
		observeCall(m, log, callStream, info.FullMethod, start, err)
		return err
	}
}

func observeCall(m *metrics.Metrics, log zerolog.Logger, kind, fullMethod string, start time.Time, err error) {
	duration := time.Since(start)
	service, method := splitMethod(fullMethod)
	code := status.Code(err)
	m.RecordGRPCCall(service, method, kind, code.String(), duration.Seconds())

	ev := log.Debug()
	if code != codes.OK && code != codes.Canceled {
		ev = log.Warn().Err(err)
	}
	ev.Str("service", service).
		Str("method", method).
		Str("kind", kind).
		Str("code", code.String()).
		Dur("duration", duration).
		Msg("gRPC call")
}

// splitMethod turns "/pkg.Service/Method" into its service and method parts.
func splitMethod(fullMethod string) (string, string) {
	name := strings.TrimPrefix(fullMethod, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "unknown", name
}
