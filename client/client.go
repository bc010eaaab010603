// Package client implements the client endpoint: it starts calls, routes
// inbound packets to their call's callbacks, and hands the caller move-aware
// handles for each RPC shape.
//
// Inbound flow:
//
//	bytes → packet.Decode → registry lookup by (channel, service, method, call id)
//	  → RESPONSE            stream data (streaming) or completion (unary response)
//	  → SERVER_STREAM_END   completion with status
//	  → SERVER_ERROR        on_error with status
//
// A RESPONSE or SERVER_STREAM_END that matches no active call is answered
// with a CLIENT_ERROR carrying FAILED_PRECONDITION, so a peer still
// streaming at an abandoned call learns to stop.
package client

import (
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pico-rpc/channel"
	"pico-rpc/codec"
	"pico-rpc/endpoint"
	"pico-rpc/packet"
)

// Client is the client-side endpoint. The channel table is caller-provided
// fixed storage; the client never grows it.
type Client struct {
	channels []channel.Channel
	ep       *endpoint.Endpoint
	callID   atomic.Uint32
	log      *zap.Logger
}

type Option func(*Client)

// WithLogger replaces the default no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

func NewClient(channels []channel.Channel, opts ...Option) *Client {
	c := &Client{
		channels: channels,
		ep:       endpoint.New(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProcessPacket decodes one inbound packet and dispatches it to the
// matching call. Call callbacks run on this goroutine with the registry
// lock released, so they may start follow-up calls freely.
func (c *Client) ProcessPacket(data []byte) error {
	pkt, err := packet.Decode(data)
	if err != nil {
		c.log.Warn("dropping malformed packet", zap.Error(err))
		return err
	}

	key := endpoint.CallKey{
		ChannelID: pkt.ChannelID,
		ServiceID: pkt.ServiceID,
		MethodID:  pkt.MethodID,
		CallID:    pkt.CallID,
	}

	switch pkt.Type {
	case packet.TypeResponse:
		if !c.ep.DeliverResponse(key, pkt.Payload, pkt.Status, pkt.HasStatus) {
			c.replyNotActive(pkt)
		}
	case packet.TypeServerStreamEnd:
		st := codes.OK
		if pkt.HasStatus {
			st = pkt.Status
		}
		if !c.ep.CompleteCall(key, nil, st) {
			c.replyNotActive(pkt)
		}
	case packet.TypeServerError:
		st := codes.Unknown
		if pkt.HasStatus {
			st = pkt.Status
		}
		if !c.ep.FailCall(key, st) {
			// Terminal notification for a call we no longer track; there is
			// nothing to do and no point replying.
			c.log.Debug("server error for unknown call",
				zap.Uint32("channel", pkt.ChannelID), zap.Uint32("call", pkt.CallID))
		}
	default:
		c.log.Warn("dropping packet not addressed to a client",
			zap.Stringer("type", pkt.Type), zap.Uint32("channel", pkt.ChannelID))
		return status.Error(codes.InvalidArgument, "packet not addressed to a client")
	}
	return nil
}

// CleanUpCalls fires deferred on_error callbacks for calls that failed
// while the registry lock was held. Start functions run it automatically.
func (c *Client) CleanUpCalls() { c.ep.CleanUpCalls() }

// ActiveCalls reports the number of in-flight calls. Diagnostics and tests.
func (c *Client) ActiveCalls() int { return c.ep.ActiveCalls() }

// replyNotActive tells the peer its packet matched no active call.
func (c *Client) replyNotActive(pkt packet.Packet) {
	ch := c.findChannel(pkt.ChannelID)
	if ch == nil {
		c.log.Debug("packet for unknown call on unknown channel",
			zap.Uint32("channel", pkt.ChannelID))
		return
	}
	reply := packet.New(packet.TypeClientError,
		pkt.ChannelID, pkt.ServiceID, pkt.MethodID, pkt.CallID).
		WithStatus(codes.FailedPrecondition)
	if err := sendOnChannel(ch, reply); err != nil {
		c.log.Warn("failed to send client error", zap.Error(err))
	}
}

func (c *Client) findChannel(id uint32) *channel.Channel {
	if id == 0 {
		return nil
	}
	for i := range c.channels {
		if c.channels[i].ID() == id {
			return &c.channels[i]
		}
	}
	return nil
}

// nextCallID assigns a fresh call id. Monotonic, so an abandoned identity
// is not reused while the peer may still reference it.
func (c *Client) nextCallID() uint32 {
	return c.callID.Add(1)
}

// sendOnChannel ships a payload-less control packet on ch.
func sendOnChannel(ch *channel.Channel, pkt packet.Packet) error {
	ob := ch.AcquireBuffer()
	if ob.Empty() {
		return status.Error(codes.Unavailable, "no transport buffer available")
	}
	return ch.Send(&ob, pkt)
}

// encodePayload runs v through the method codec. A nil codec means raw
// pass-through.
func encodePayload(cdc codec.Codec, v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if cdc == nil {
		cdc = &codec.RawCodec{}
	}
	return cdc.Encode(v)
}
