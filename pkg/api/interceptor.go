package api

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/cuemby/sweep/pkg/metrics"
)

// ReadOnlyInterceptor creates a gRPC unary interceptor that only allows read-only operations.
// This is used for the Unix socket listener so local tooling can inspect
// an experiment but never seed it or take tasks.
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !isReadOnlyMethod(info.FullMethod) {
			return nil, grpcstatus.Errorf(
				codes.PermissionDenied,
				"%s is not allowed on the local socket - use the TCP API address",
				methodName(info.FullMethod),
			)
		}
		return handler(ctx, req)
	}
}

// MetricsInterceptor counts and times every unary call
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		timer := metrics.NewTimer()
		resp, err := handler(ctx, req)

		method := methodName(info.FullMethod)
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)
		metrics.APIRequestsTotal.WithLabelValues(method, grpcstatus.Code(err).String()).Inc()
		return resp, err
	}
}

// isReadOnlyMethod checks if a gRPC method is read-only
func isReadOnlyMethod(method string) bool {
	name := methodName(method)
	for _, prefix := range []string{"Get", "List", "Watch"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// methodName extracts the method from a full path
// (e.g., "/sweep.SweepAPI/GetStatus" -> "GetStatus")
func methodName(fullMethod string) string {
	parts := strings.Split(fullMethod, "/")
	return parts[len(parts)-1]
}
