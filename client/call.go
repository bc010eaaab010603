package client

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pico-rpc/codec"
	"pico-rpc/endpoint"
)

// call is the shared core of every client handle. The handle owns a pointer
// into the endpoint's registry slot, never the call state itself: inbound
// dispatch routes through the registry, so a handle can be relocated (moved)
// without breaking in-flight callbacks.
type call struct {
	inner *endpoint.Call
	codec codec.Codec
}

// Active reports whether the underlying call may still send or receive.
// A moved-from or abandoned handle is inactive.
func (c *call) Active() bool {
	return c.inner != nil && c.inner.Active()
}

// ChannelID returns the channel the call was started on, or 0 for a
// moved-from handle.
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

// Cancel closes the call locally and sends a CANCEL packet to the server.
func (c *call) Cancel() error {
	if c.inner == nil {
		return status.Error(codes.FailedPrecondition, "call is not active")
	}
	return c.inner.Cancel()
}

// Abandon closes the call locally without notifying the server. Future
// packets for this call are answered with FAILED_PRECONDITION.
func (c *call) Abandon() {
	if c.inner != nil {
		c.inner.Abandon()
	}
}

// SetOnError replaces the error callback.
func (c *call) SetOnError(f func(st codes.Code)) {
	if c.inner != nil {
		c.inner.SetOnError(f)
	}
}

// write serializes v through the method codec and sends one CLIENT_STREAM
// packet.
func (c *call) write(v any) error {
	if c.inner == nil {
		return status.Error(codes.FailedPrecondition, "call is not active")
	}
	payload, err := encodePayload(c.codec, v)
	if err != nil {
		return status.Error(codes.Internal, "failed to encode stream payload")
	}
	return c.inner.WriteStream(payload)
}

// requestCompletion sends CLIENT_REQUEST_COMPLETION: no more stream writes
// will follow, but the server may still respond.
func (c *call) requestCompletion() error {
	if c.inner == nil {
		return status.Error(codes.FailedPrecondition, "call is not active")
	}
	return c.inner.RequestCompletion()
}

// move transfers the registry reference to a new handle and deactivates the
// source. Dispatch is unaffected: it never follows handle addresses.
func (c *call) move() call {
	moved := *c
	c.inner = nil
	return moved
}

// UnaryReceiver is the client handle for a unary RPC: one request out, one
// response in through on_completed.
type UnaryReceiver struct {
	call
}

// Move relocates the handle; the receiver becomes inactive.
func (r *UnaryReceiver) Move() UnaryReceiver { return UnaryReceiver{r.move()} }

// SetOnCompleted replaces the completion callback.
func (r *UnaryReceiver) SetOnCompleted(f func(response []byte, st codes.Code)) {
	if r.inner != nil {
		r.inner.SetOnCompleted(f)
	}
}

// Writer is the client handle for a client-streaming RPC: many requests
// out, one response in.
type Writer struct {
	call
}

func (w *Writer) Move() Writer { return Writer{w.move()} }

// Write sends one request chunk. Returns FailedPrecondition if the call is
// closed, Internal if the codec fails, or the channel's send status.
func (w *Writer) Write(v any) error { return w.write(v) }

// RequestCompletion half-closes the request stream.
func (w *Writer) RequestCompletion() error { return w.requestCompletion() }

func (w *Writer) SetOnCompleted(f func(response []byte, st codes.Code)) {
	if w.inner != nil {
		w.inner.SetOnCompleted(f)
	}
}

// Reader is the client handle for a server-streaming RPC: one request out,
// many responses in through on_next.
type Reader struct {
	call
}

func (r *Reader) Move() Reader { return Reader{r.move()} }

// RequestCompletion signals the server that no further requests follow.
func (r *Reader) RequestCompletion() error { return r.requestCompletion() }

func (r *Reader) SetOnNext(f func(payload []byte)) {
	if r.inner != nil {
		r.inner.SetOnNext(f)
	}
}

func (r *Reader) SetOnCompleted(f func(st codes.Code)) {
	if r.inner != nil {
		r.inner.SetOnCompleted(adaptStreamCompleted(f))
	}
}

// ReaderWriter is the client handle for a bidirectional-streaming RPC.
type ReaderWriter struct {
	call
}

func (rw *ReaderWriter) Move() ReaderWriter { return ReaderWriter{rw.move()} }

func (rw *ReaderWriter) Write(v any) error { return rw.write(v) }

func (rw *ReaderWriter) RequestCompletion() error { return rw.requestCompletion() }

func (rw *ReaderWriter) SetOnNext(f func(payload []byte)) {
	if rw.inner != nil {
		rw.inner.SetOnNext(f)
	}
}

func (rw *ReaderWriter) SetOnCompleted(f func(st codes.Code)) {
	if rw.inner != nil {
		rw.inner.SetOnCompleted(adaptStreamCompleted(f))
	}
}

// StartUnary begins a unary call. The request is serialized through cdc,
// registered, and sent under the registry lock; onCompleted or onError
// fires exactly once. An initial-send failure is delivered through onError
// before StartUnary returns.
func (c *Client) StartUnary(channelID, serviceID, methodID uint32, cdc codec.Codec, request any,
	onCompleted func(response []byte, st codes.Code), onError func(st codes.Code)) (UnaryReceiver, error) {

	call, err := c.start(channelID, serviceID, methodID, endpoint.Unary, cdc, request,
		endpoint.Callbacks{OnCompleted: onCompleted, OnError: onError})
	if err != nil {
		return UnaryReceiver{}, err
	}
	return UnaryReceiver{newCall(call, cdc)}, nil
}

// StartClientStreaming begins a client-streaming call with an empty initial
// request; chunks follow through Writer.Write.
func (c *Client) StartClientStreaming(channelID, serviceID, methodID uint32, cdc codec.Codec,
	onCompleted func(response []byte, st codes.Code), onError func(st codes.Code)) (Writer, error) {

	call, err := c.start(channelID, serviceID, methodID, endpoint.ClientStreaming, cdc, nil,
		endpoint.Callbacks{OnCompleted: onCompleted, OnError: onError})
	if err != nil {
		return Writer{}, err
	}
	return Writer{newCall(call, cdc)}, nil
}

// StartServerStreaming begins a server-streaming call. onNext fires once
// per response chunk, in arrival order, followed by exactly one onCompleted
// or onError.
func (c *Client) StartServerStreaming(channelID, serviceID, methodID uint32, cdc codec.Codec, request any,
	onNext func(payload []byte), onCompleted func(st codes.Code), onError func(st codes.Code)) (Reader, error) {

	call, err := c.start(channelID, serviceID, methodID, endpoint.ServerStreaming, cdc, request,
		endpoint.Callbacks{OnNext: onNext, OnCompleted: adaptStreamCompleted(onCompleted), OnError: onError})
	if err != nil {
		return Reader{}, err
	}
	return Reader{newCall(call, cdc)}, nil
}

// StartBidirectional begins a bidirectional-streaming call with an empty
// initial request.
func (c *Client) StartBidirectional(channelID, serviceID, methodID uint32, cdc codec.Codec,
	onNext func(payload []byte), onCompleted func(st codes.Code), onError func(st codes.Code)) (ReaderWriter, error) {

	call, err := c.start(channelID, serviceID, methodID, endpoint.BidirectionalStreaming, cdc, nil,
		endpoint.Callbacks{OnNext: onNext, OnCompleted: adaptStreamCompleted(onCompleted), OnError: onError})
	if err != nil {
		return ReaderWriter{}, err
	}
	return ReaderWriter{newCall(call, cdc)}, nil
}

func (c *Client) start(channelID, serviceID, methodID uint32, mt endpoint.MethodType,
	cdc codec.Codec, request any, cbs endpoint.Callbacks) (*endpoint.Call, error) {

	ch := c.findChannel(channelID)
	if ch == nil {
		return nil, status.Error(codes.Unavailable, "unknown channel")
	}
	payload, err := encodePayload(cdc, request)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode request")
	}

	key := endpoint.CallKey{
		ChannelID: channelID,
		ServiceID: serviceID,
		MethodID:  methodID,
		CallID:    c.nextCallID(),
	}
	return c.ep.StartClientCall(ch, key, mt, cbs, payload)
}

func newCall(inner *endpoint.Call, cdc codec.Codec) call {
	return call{inner: inner, codec: cdc}
}

// adaptStreamCompleted narrows the completion callback for streaming calls,
// whose terminal packet carries no payload.
func adaptStreamCompleted(f func(st codes.Code)) func([]byte, codes.Code) {
	if f == nil {
		return nil
	}
	return func(_ []byte, st codes.Code) { f(st) }
}
