package middleware

import (
	"context"

	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pico-rpc/packet"
)

// RateLimit rejects inbound packets beyond r packets/second with a burst
// allowance, using a token bucket. Rejected packets are dropped with
// ResourceExhausted; the endpoint keeps running.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, pkt *packet.Packet) error {
			if !limiter.Allow() {
				return status.Error(codes.ResourceExhausted, "rate limit exceeded")
			}
			return next(ctx, pkt)
		}
	}
}
