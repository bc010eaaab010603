// Package middleware implements the server's inbound packet interception
// chain.
//
// Middlewares wrap the server's dispatch handler in an onion model:
//
//	Chain(A, B, C)(dispatch) → A(B(C(dispatch)))
//	Execution order: A.before → B.before → C.before → dispatch → C.after → B.after → A.after
//
// A middleware that returns an error short-circuits the chain; the server
// drops the packet and stays running (packet-level rejection is never fatal
// to the endpoint).
package middleware

import (
	"context"

	"pico-rpc/packet"
)

// HandlerFunc processes one decoded inbound packet.
type HandlerFunc func(ctx context.Context, pkt *packet.Packet) error

// Middleware wraps a HandlerFunc with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines multiple middlewares into one, applied in the order given.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
