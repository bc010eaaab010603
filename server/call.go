package server

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pico-rpc/codec"
	"pico-rpc/endpoint"
)

// call is the shared core of every server handle. Like the client handles,
// it points into the endpoint's registry slot; inbound continuation packets
// route through the registry, so the handler may move the handle anywhere
// (including keeping it past the handler's return for a long-lived stream).
type call struct {
	inner *endpoint.Call
	codec codec.Codec
}

func newCall(inner *endpoint.Call, cdc codec.Codec) call {
	return call{inner: inner, codec: cdc}
}

// Active reports whether the call may still send.
func (c *call) Active() bool {
	return c.inner != nil && c.inner.Active()
}

// ChannelID returns the channel the request arrived on.
func (c *call) ChannelID() uint32 {
	if c.inner == nil {
		return 0
	}
	return c.inner.Key().ChannelID
}

// ID returns the call id component of the identity tuple.
func (c *call) ID() uint32 {
	if c.inner == nil {
		return 0
	}
	return c.inner.Key().CallID
}

// Abandon drops the server side of the call without notifying the client.
func (c *call) Abandon() {
	if c.inner != nil {
		c.inner.Abandon()
	}
}

// SetOnError replaces the error callback, fired when the client cancels or
// reports an error, or when a write fails on the transport.
func (c *call) SetOnError(f func(st codes.Code)) {
	if c.inner != nil {
		c.inner.SetOnError(f)
	}
}

func (c *call) write(v any) error {
	if c.inner == nil {
		return status.Error(codes.FailedPrecondition, "call is not active")
	}
	payload, err := c.encode(v)
	if err != nil {
		return status.Error(codes.Internal, "failed to encode stream payload")
	}
	return c.inner.WriteStream(payload)
}

func (c *call) closeWithResponse(response any, st codes.Code) error {
	if c.inner == nil {
		return status.Error(codes.FailedPrecondition, "call is not active")
	}
	payload, err := c.encode(response)
	if err != nil {
		return status.Error(codes.Internal, "failed to encode response")
	}
	return c.inner.CloseWithResponse(payload, st)
}

func (c *call) closeStream(st codes.Code) error {
	if c.inner == nil {
		return status.Error(codes.FailedPrecondition, "call is not active")
	}
	return c.inner.CloseStream(st)
}

func (c *call) encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	cdc := c.codec
	if cdc == nil {
		cdc = &codec.RawCodec{}
	}
	return cdc.Encode(v)
}

func (c *call) move() call {
	moved := *c
	c.inner = nil
	return moved
}

// Responder finishes a unary call.
type Responder struct {
	call
}

// Move relocates the handle; the receiver becomes inactive.
func (r *Responder) Move() Responder { return Responder{r.move()} }

// Finish sends the response payload and terminal status in one RESPONSE
// packet and closes the call.
func (r *Responder) Finish(response any, st codes.Code) error {
	return r.closeWithResponse(response, st)
}

// Writer streams responses for a server-streaming call.
type Writer struct {
	call
}

func (w *Writer) Move() Writer { return Writer{w.move()} }

// Write sends one response chunk.
func (w *Writer) Write(v any) error { return w.write(v) }

// Finish ends the stream with a SERVER_STREAM_END carrying st.
func (w *Writer) Finish(st codes.Code) error { return w.closeStream(st) }

// Reader receives the request stream of a client-streaming call and sends
// the single response.
type Reader struct {
	call
}

func (r *Reader) Move() Reader { return Reader{r.move()} }

// SetOnNext replaces the request-chunk callback.
func (r *Reader) SetOnNext(f func(payload []byte)) {
	if r.inner != nil {
		r.inner.SetOnNext(f)
	}
}

// SetOnCompletionRequested replaces the half-close callback, fired when the
// client signals it will send no more chunks.
func (r *Reader) SetOnCompletionRequested(f func()) {
	if r.inner != nil {
		r.inner.SetOnCompletionRequested(f)
	}
}

// Finish sends the response and terminal status and closes the call.
func (r *Reader) Finish(response any, st codes.Code) error {
	return r.closeWithResponse(response, st)
}

// ReaderWriter serves a bidirectional-streaming call.
type ReaderWriter struct {
	call
}

func (rw *ReaderWriter) Move() ReaderWriter { return ReaderWriter{rw.move()} }

func (rw *ReaderWriter) SetOnNext(f func(payload []byte)) {
	if rw.inner != nil {
		rw.inner.SetOnNext(f)
	}
}

func (rw *ReaderWriter) SetOnCompletionRequested(f func()) {
	if rw.inner != nil {
		rw.inner.SetOnCompletionRequested(f)
	}
}

func (rw *ReaderWriter) Write(v any) error { return rw.write(v) }

func (rw *ReaderWriter) Finish(st codes.Code) error { return rw.closeStream(st) }
