// Package channel brokers outgoing packets between the call engine and a
// byte transport.
//
// A Channel is one logical transport endpoint, identified by a numeric id
// (0 is reserved and means "unassigned"). It owns nothing but a reference to
// a ChannelOutput, the capability that hands out transmit buffers and ships
// framed packets. Channels live by value in fixed-size tables owned by the
// client or server; a channel's output may be rebound at runtime but the
// slot itself is never destroyed.
//
// The send sequence is strict: acquire → fill payload → Send. Send always
// consumes the OutputBuffer, on failure as well as success, so transports
// with a single preallocated buffer never leak it.
package channel

import (
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pico-rpc/packet"
)

// ChannelOutput is the transport capability a Channel writes through.
//
// AcquireBuffer returns a raw buffer reserved for one outgoing packet, or an
// empty buffer if the transport is out of capacity — callers must treat
// empty as "try again later", never as success.
//
// Send transmits buffer (already framed by the channel) and releases it back
// to the transport. Sending a zero-length buffer transmits nothing and only
// releases the buffer; the channel uses this to discard a buffer it could
// not fill.
type ChannelOutput interface {
	AcquireBuffer() []byte
	Send(buffer []byte) error
	Name() string // Diagnostics only; may be empty
}

// Channel binds a channel id to a ChannelOutput.
type Channel struct {
	mu     sync.Mutex // Guards id and output; sends snapshot the binding
	id     uint32
	output ChannelOutput
}

// New creates a channel. Id 0 leaves the slot unassigned (the server claims
// such slots for inbound packets on unknown channel ids).
func New(id uint32, output ChannelOutput) Channel {
	return Channel{id: id, output: output}
}

// ID returns the channel id. 0 means the slot is unassigned.
func (c *Channel) ID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Assigned reports whether the slot carries a real channel id.
func (c *Channel) Assigned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id != 0
}

// Assign claims an unassigned slot for the given id and output.
func (c *Channel) Assign(id uint32, output ChannelOutput) {
	c.mu.Lock()
	c.id = id
	c.output = output
	c.mu.Unlock()
}

// BindOutput rebinds the channel to a new transport output. Safe while
// sends are in flight: a send already past acquisition finishes on the
// output it acquired from, later sends use the new one. In-flight calls
// continue on the new output; channel identity, not transport identity, is
// the routing key.
func (c *Channel) BindOutput(output ChannelOutput) {
	c.mu.Lock()
	c.output = output
	c.mu.Unlock()
}

// AcquireBuffer requests a transmit buffer from the bound output. The result
// is empty if the channel is unbound or the transport has no capacity.
func (c *Channel) AcquireBuffer() OutputBuffer {
	c.mu.Lock()
	output := c.output
	c.mu.Unlock()
	if output == nil {
		return OutputBuffer{}
	}
	return OutputBuffer{buf: output.AcquireBuffer(), output: output}
}

// Send serializes p's envelope into the acquired buffer and forwards the
// framed packet to the output. The OutputBuffer is consumed regardless of
// the outcome.
//
// Returns FailedPrecondition if p.Payload is not the span handed out by
// OutputBuffer.Payload, Internal if the encoded packet does not fit the
// buffer, Unavailable if the buffer was never acquired from an output, or
// the transport's own error from Send.
func (c *Channel) Send(b *OutputBuffer, p packet.Packet) error {
	buf, payload, output := b.buf, b.payload, b.output
	*b = OutputBuffer{}

	if output == nil {
		return status.Error(codes.Unavailable, "channel has no output")
	}
	if len(p.Payload) > 0 && payload != nil && !spanWithin(p.Payload, payload) {
		output.Send(buf[:0])
		return status.Error(codes.FailedPrecondition, "payload is not the acquired buffer span")
	}

	n, err := p.Encode(buf)
	if err != nil {
		output.Send(buf[:0])
		return status.Error(codes.Internal, "packet does not fit in transport buffer")
	}
	return output.Send(buf[:n])
}

// OutputBuffer is a scoped wrapper around one raw transport buffer reserved
// for a single outgoing packet. It remembers the output it was acquired
// from, so the buffer is always released to its owner even if the channel
// is rebound while the send is in flight.
type OutputBuffer struct {
	buf     []byte
	payload []byte // Span handed out by Payload; nil until requested
	output  ChannelOutput
}

// Empty reports whether no buffer was acquired. An empty OutputBuffer means
// the transport had no capacity; retry later.
func (b *OutputBuffer) Empty() bool { return len(b.buf) == 0 }

// Payload returns the sub-span of the buffer available for payload bytes
// once room for p's envelope is reserved. The reservation accounts for the
// payload length prefix growing with the payload, so a fully written span
// is always sendable. The result is empty when the buffer cannot hold the
// envelope at all.
func (b *OutputBuffer) Payload(p packet.Packet) []byte {
	max := p.MaxPayloadSizeBytes(len(b.buf))
	if max < 0 {
		b.payload = nil
		return nil
	}
	b.payload = b.buf[len(b.buf)-max:]
	return b.payload
}

// spanWithin reports whether sub is a prefix-aligned slice of span.
func spanWithin(sub, span []byte) bool {
	if len(span) == 0 || len(sub) > len(span) {
		return false
	}
	return &sub[0] == &span[0]
}
