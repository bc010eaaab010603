package endpoint

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pico-rpc/channel"
	"pico-rpc/packet"
)

// MethodType distinguishes the four RPC shapes. It decides which callback
// slots are legal on a call and how its packets are framed.
type MethodType int

const (
	Unary MethodType = iota
	ClientStreaming
	ServerStreaming
	BidirectionalStreaming
)

// HasClientStream reports whether the client sends a stream of requests.
func (t MethodType) HasClientStream() bool {
	return t == ClientStreaming || t == BidirectionalStreaming
}

// HasServerStream reports whether the server sends a stream of responses.
func (t MethodType) HasServerStream() bool {
	return t == ServerStreaming || t == BidirectionalStreaming
}

func (t MethodType) String() string {
	switch t {
	case Unary:
		return "unary"
	case ClientStreaming:
		return "client streaming"
	case ServerStreaming:
		return "server streaming"
	case BidirectionalStreaming:
		return "bidirectional streaming"
	}
	return "unknown"
}

// Call is one in-flight RPC invocation on one side of the exchange. The two
// sides of an invocation are separate Call objects, one per endpoint,
// correlated by the CallKey.
//
// A Call lives in its endpoint's registry for as long as it is active.
// Caller-visible handles hold a pointer to the Call; inbound dispatch always
// routes through the registry, never through a handle, so handles can be
// relocated freely while packets are in flight.
//
// All exported methods take the endpoint lock. Fields are guarded by it.
type Call struct {
	endpoint *Endpoint
	channel  *channel.Channel
	key      CallKey
	method   MethodType
	client   bool // true on the client side of the invocation

	active           bool
	clientStreamDone bool       // half-close seen/sent
	errStatus        codes.Code // set when queued for cleanup

	onNext                func(payload []byte)
	onCompleted           func(payload []byte, st codes.Code)
	onError               func(st codes.Code)
	onCompletionRequested func()
}

// Key returns the call's identity tuple.
func (c *Call) Key() CallKey { return c.key }

// Method returns the call's RPC shape.
func (c *Call) Method() MethodType { return c.method }

// Active reports whether the call is registered and may send or receive.
func (c *Call) Active() bool {
	c.endpoint.mu.Lock()
	defer c.endpoint.mu.Unlock()
	return c.active
}

// SetOnNext replaces the stream-data callback. Callbacks may be set or
// replaced at any time while the call is active.
func (c *Call) SetOnNext(f func(payload []byte)) {
	c.endpoint.mu.Lock()
	c.onNext = f
	c.endpoint.mu.Unlock()
}

// SetOnCompleted replaces the terminal-completion callback.
func (c *Call) SetOnCompleted(f func(payload []byte, st codes.Code)) {
	c.endpoint.mu.Lock()
	c.onCompleted = f
	c.endpoint.mu.Unlock()
}

// SetOnError replaces the error callback.
func (c *Call) SetOnError(f func(st codes.Code)) {
	c.endpoint.mu.Lock()
	c.onError = f
	c.endpoint.mu.Unlock()
}

// SetOnCompletionRequested replaces the half-close callback (server side of
// client-streaming and bidirectional calls).
func (c *Call) SetOnCompletionRequested(f func()) {
	c.endpoint.mu.Lock()
	c.onCompletionRequested = f
	c.endpoint.mu.Unlock()
}

// WriteStream sends one stream-data packet carrying payload: CLIENT_STREAM
// from the client, RESPONSE from the server.
//
// Returns FailedPrecondition if the call is not active or the client has
// already half-closed its stream, Unavailable if the transport momentarily
// has no buffer (the call stays active; retry later), or the channel's send
// status. Any other failure transitions the call to Errored, fires
// on_error, and deregisters it.
func (c *Call) WriteStream(payload []byte) error {
	c.endpoint.mu.Lock()
	if !c.active {
		c.endpoint.mu.Unlock()
		return status.Error(codes.FailedPrecondition, "call is not active")
	}
	if c.client && c.clientStreamDone {
		c.endpoint.mu.Unlock()
		return status.Error(codes.FailedPrecondition, "request stream already completed")
	}

	t := packet.TypeClientStream
	if !c.client {
		t = packet.TypeResponse
	}
	err := c.sendPacketLocked(c.newPacketLocked(t).WithPayload(payload))
	if err == nil || status.Code(err) == codes.Unavailable {
		c.endpoint.mu.Unlock()
		return err
	}

	cb := c.onError
	c.terminateLocked()
	c.endpoint.mu.Unlock()
	if cb != nil {
		cb(status.Code(err))
	}
	return err
}

// Cancel aborts the call: a CANCEL packet notifies the peer (best effort)
// and the call is deregistered. No local callback fires — the caller already
// knows. Returns FailedPrecondition if the call is already terminal.
func (c *Call) Cancel() error {
	c.endpoint.mu.Lock()
	if !c.active {
		c.endpoint.mu.Unlock()
		return status.Error(codes.FailedPrecondition, "call is not active")
	}
	err := c.sendPacketLocked(c.newPacketLocked(packet.TypeCancel))
	c.terminateLocked()
	c.endpoint.mu.Unlock()
	return err
}

// Abandon deregisters the call without notifying the peer. No packet is
// sent and no callback fires; later peer packets for this identity are
// answered with FAILED_PRECONDITION by the dispatcher. Idempotent.
func (c *Call) Abandon() {
	c.endpoint.mu.Lock()
	if c.active {
		c.terminateLocked()
	}
	c.endpoint.mu.Unlock()
}

// RequestCompletion half-closes the client side: no more stream writes will
// follow, but the server may still respond. The call stays active and
// registered.
func (c *Call) RequestCompletion() error {
	c.endpoint.mu.Lock()
	defer c.endpoint.mu.Unlock()
	if !c.active {
		return status.Error(codes.FailedPrecondition, "call is not active")
	}
	c.clientStreamDone = true
	return c.sendPacketLocked(c.newPacketLocked(packet.TypeClientRequestCompletion))
}

// CloseWithResponse finishes a server-side unary or client-streaming call:
// one RESPONSE packet carrying the response payload and the terminal status.
// The call is deregistered whether or not the send succeeds.
func (c *Call) CloseWithResponse(payload []byte, st codes.Code) error {
	c.endpoint.mu.Lock()
	defer c.endpoint.mu.Unlock()
	if !c.active {
		return status.Error(codes.FailedPrecondition, "call is not active")
	}
	p := c.newPacketLocked(packet.TypeResponse).WithPayload(payload).WithStatus(st)
	err := c.sendPacketLocked(p)
	c.terminateLocked()
	return err
}

// CloseStream finishes a server-side streaming call with a
// SERVER_STREAM_END packet carrying the terminal status. The call is
// deregistered whether or not the send succeeds.
func (c *Call) CloseStream(st codes.Code) error {
	c.endpoint.mu.Lock()
	defer c.endpoint.mu.Unlock()
	if !c.active {
		return status.Error(codes.FailedPrecondition, "call is not active")
	}
	err := c.sendPacketLocked(c.newPacketLocked(packet.TypeServerStreamEnd).WithStatus(st))
	c.terminateLocked()
	return err
}

func (c *Call) newPacketLocked(t packet.Type) packet.Packet {
	return packet.New(t, c.key.ChannelID, c.key.ServiceID, c.key.MethodID, c.key.CallID)
}

// sendPacketLocked acquires a buffer from the call's channel, stages the
// payload past the reserved header region, and sends. The endpoint lock is
// held; the channel performs no I/O waits, so the critical section stays
// short.
func (c *Call) sendPacketLocked(p packet.Packet) error {
	ob := c.channel.AcquireBuffer()
	if ob.Empty() {
		return status.Error(codes.Unavailable, "no transport buffer available")
	}

	span := ob.Payload(p)
	if len(p.Payload) > len(span) {
		// Consume the buffer; Send reports the sizing failure.
		return c.channel.Send(&ob, p)
	}
	n := copy(span, p.Payload)
	return c.channel.Send(&ob, p.WithPayload(span[:n]))
}

// terminateLocked removes the call from the registry and clears its
// callback slots, making later operations precondition failures and later
// matching packets unroutable.
func (c *Call) terminateLocked() {
	c.endpoint.removeLocked(c)
	c.active = false
	c.onNext = nil
	c.onCompleted = nil
	c.onError = nil
	c.onCompletionRequested = nil
}

// markErroredLocked deregisters the call and queues its on_error for the
// next CleanUpCalls pass. Used when the failure is detected while the lock
// is held and the callback cannot run yet.
func (c *Call) markErroredLocked(st codes.Code) {
	c.endpoint.removeLocked(c)
	c.active = false
	c.errStatus = st
	c.endpoint.cleanup = append(c.endpoint.cleanup, c)
}
