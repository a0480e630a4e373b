package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/TunoMedia/TunoMedia/internal/ratelimit"
)

// RateLimitUnary rejects unary calls from peers over their request budget.
func RateLimitUnary(limiter *ratelimit.PeerLimiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if limiter != nil && !limiter.Allow(peerHost(ctx)) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

// RateLimitStream is RateLimitUnary for streaming calls.
func RateLimitStream(limiter *ratelimit.PeerLimiter) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if limiter != nil && !limiter.Allow(peerHost(ss.Context())) {
			return status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(srv, ss)
	}
}

// peerHost keys limits by host so reconnecting from a new port does not reset them.
func peerHost(ctx context.Context) string {
	return hostOf(peerAddr(ctx))
}
