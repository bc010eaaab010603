// Package server implements the server endpoint: a fixed channel table, an
// intrusive list of registered services, and the packet-dispatch path that
// turns inbound REQUEST packets into method invocations.
//
// Dispatch pipeline:
//
//	ProcessPacket(bytes, output)
//	  → packet.Decode → middleware chain
//	    → find/assign channel → find service → find method
//	      → REQUEST:       new server call + invoke handler
//	      → continuation:  route through the call registry
//	  → CleanUpCalls (reclaim slots for calls that went terminal)
//
// Handlers run synchronously on the ProcessPacket goroutine with the
// registry lock released, so a handler may write, finish, or start nothing
// at all and keep the returned handle for later — the engine imposes no
// scheduling model.
package server

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pico-rpc/channel"
	"pico-rpc/endpoint"
	"pico-rpc/middleware"
	"pico-rpc/packet"
)

// Server owns the server side of every call. The channel table is
// caller-provided fixed storage: slots with id 0 are free and get assigned
// to the channel id of the first inbound packet that arrives for them.
type Server struct {
	ep  *endpoint.Endpoint
	log *zap.Logger

	mu       sync.Mutex // Guards channels and services
	channels []channel.Channel
	services *Service

	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc
	handlerOnce sync.Once
}

type Option func(*Server)

// WithLogger replaces the default no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

func NewServer(channels []channel.Channel, opts ...Option) *Server {
	s := &Server{
		ep:       endpoint.New(),
		log:      zap.NewNop(),
		channels: channels,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterService inserts a service into the lookup list. Order is not
// significant; lookup is by service id.
func (s *Server) RegisterService(svc *Service) {
	s.mu.Lock()
	svc.next = s.services
	s.services = svc
	s.mu.Unlock()
}

// Use registers a middleware. Middlewares apply in registration order and
// must all be registered before the first ProcessPacket.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// ActiveCalls reports the number of in-flight server calls.
func (s *Server) ActiveCalls() int { return s.ep.ActiveCalls() }

type outputKey struct{}

// ProcessPacket decodes and dispatches one inbound packet. output identifies
// the transport the packet arrived on; if the packet's channel id is not yet
// bound, a free channel slot is assigned to it. Errors are per-packet and
// never fatal to the server.
func (s *Server) ProcessPacket(data []byte, output channel.ChannelOutput) error {
	s.handlerOnce.Do(func() {
		s.handler = middleware.Chain(s.middlewares...)(s.dispatch)
	})

	pkt, err := packet.Decode(data)
	if err != nil {
		s.log.Warn("dropping malformed packet", zap.Error(err))
		return err
	}

	ctx := context.WithValue(context.Background(), outputKey{}, output)
	err = s.handler(ctx, &pkt)

	s.ep.CleanUpCalls()
	return err
}

// dispatch is the innermost handler of the middleware chain.
func (s *Server) dispatch(ctx context.Context, pkt *packet.Packet) error {
	output, _ := ctx.Value(outputKey{}).(channel.ChannelOutput)

	ch := s.findOrAssignChannel(pkt.ChannelID, output)
	if ch == nil {
		s.log.Warn("dropping packet: no channel available",
			zap.Uint32("channel", pkt.ChannelID))
		return status.Error(codes.ResourceExhausted, "no free channel slot")
	}

	key := endpoint.CallKey{
		ChannelID: pkt.ChannelID,
		ServiceID: pkt.ServiceID,
		MethodID:  pkt.MethodID,
		CallID:    pkt.CallID,
	}

	switch pkt.Type {
	case packet.TypeRequest:
		return s.invokeMethod(ctx, pkt, ch, key)

	case packet.TypeClientStream:
		if !s.ep.DeliverData(key, pkt.Payload) {
			s.sendServerError(ch, pkt, codes.FailedPrecondition)
		}

	case packet.TypeClientRequestCompletion:
		if !s.ep.HalfClose(key) {
			s.sendServerError(ch, pkt, codes.FailedPrecondition)
		}

	case packet.TypeCancel:
		// Terminal notification; nothing to reply if the call is gone.
		if !s.ep.FailCall(key, codes.Canceled) {
			s.log.Debug("cancel for unknown call", zap.Uint32("call", pkt.CallID))
		}

	case packet.TypeClientError:
		st := codes.Unknown
		if pkt.HasStatus {
			st = pkt.Status
		}
		if !s.ep.FailCall(key, st) {
			s.log.Debug("client error for unknown call",
				zap.Uint32("call", pkt.CallID), zap.Uint32("status", uint32(st)))
		}

	default:
		s.log.Warn("dropping packet not addressed to a server",
			zap.Stringer("type", pkt.Type))
		return status.Error(codes.InvalidArgument, "packet not addressed to a server")
	}
	return nil
}

// invokeMethod handles a REQUEST packet: it locates the service and method,
// registers the server side of the call, and invokes the user handler with
// the registry lock released.
func (s *Server) invokeMethod(ctx context.Context, pkt *packet.Packet, ch *channel.Channel, key endpoint.CallKey) error {
	method := s.findMethod(pkt.ServiceID, pkt.MethodID)
	if method == nil {
		s.log.Info("request for unknown service or method",
			zap.Uint32("service", pkt.ServiceID), zap.Uint32("method", pkt.MethodID))
		s.sendServerError(ch, pkt, codes.NotFound)
		return status.Error(codes.NotFound, "unknown service or method")
	}

	call, err := s.ep.NewServerCall(ch, key, method.methodType)
	if err != nil {
		// A call with this identity is still active; the previous call is
		// cleaned up implicitly only once it goes terminal.
		s.sendServerError(ch, pkt, codes.FailedPrecondition)
		return err
	}

	base := newCall(call, method.codec)
	switch method.methodType {
	case endpoint.Unary:
		method.unary(ctx, pkt.Payload, &Responder{base})
	case endpoint.ServerStreaming:
		method.serverStreaming(ctx, pkt.Payload, &Writer{base})
	case endpoint.ClientStreaming:
		method.clientStreaming(ctx, &Reader{base})
	case endpoint.BidirectionalStreaming:
		method.bidirectional(ctx, &ReaderWriter{base})
	}
	return nil
}

// findOrAssignChannel returns the channel for id, binding a free slot to
// (id, output) if the id is new. Returns nil when id is invalid or the
// table is exhausted (the packet is dropped; no channel is bound).
func (s *Server) findOrAssignChannel(id uint32, output channel.ChannelOutput) *channel.Channel {
	if id == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.channels {
		if s.channels[i].ID() == id {
			return &s.channels[i]
		}
	}
	for i := range s.channels {
		if !s.channels[i].Assigned() {
			s.channels[i].Assign(id, output)
			s.log.Info("assigned channel", zap.Uint32("channel", id),
				zap.String("output", output.Name()))
			return &s.channels[i]
		}
	}
	return nil
}

func (s *Server) findMethod(serviceID, methodID uint32) *Method {
	s.mu.Lock()
	defer s.mu.Unlock()
	for svc := s.services; svc != nil; svc = svc.next {
		if svc.id == serviceID {
			return svc.findMethod(methodID)
		}
	}
	return nil
}

// sendServerError reports a dispatch failure back on the same channel
// rather than dropping silently, so misconfigured clients are observable.
func (s *Server) sendServerError(ch *channel.Channel, pkt *packet.Packet, st codes.Code) {
	reply := packet.New(packet.TypeServerError,
		pkt.ChannelID, pkt.ServiceID, pkt.MethodID, pkt.CallID).WithStatus(st)

	ob := ch.AcquireBuffer()
	if ob.Empty() {
		s.log.Warn("no buffer to send server error", zap.Uint32("channel", pkt.ChannelID))
		return
	}
	if err := ch.Send(&ob, reply); err != nil {
		s.log.Warn("failed to send server error", zap.Error(err))
	}
}
