package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pico-rpc/packet"
)

// Logging logs every inbound packet with its envelope fields and dispatch
// duration. Errors from deeper in the chain are logged, not swallowed.
func Logging(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, pkt *packet.Packet) error {
			start := time.Now()
			err := next(ctx, pkt)
			fields := []zap.Field{
				zap.Stringer("type", pkt.Type),
				zap.Uint32("channel", pkt.ChannelID),
				zap.Uint32("service", pkt.ServiceID),
				zap.Uint32("method", pkt.MethodID),
				zap.Uint32("call", pkt.CallID),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				log.Warn("packet dispatch failed", append(fields, zap.Error(err))...)
			} else {
				log.Debug("packet dispatched", fields...)
			}
			return err
		}
	}
}
