// Package endpoint owns the active-call registry shared by the client and
// server sides of pico-rpc.
//
// One Endpoint guards everything a packet dispatcher or a caller thread may
// touch concurrently — registry membership, each call's identity and
// activity, and its callback slots — behind a single mutex. The locking
// contract, inherited from the wire protocol's reference implementation:
//
//   - every registry-visible mutation happens with the endpoint lock held;
//   - user callbacks always run with the lock released, so a callback is
//     free to call back into the endpoint (start a follow-up call, write,
//     cancel) without deadlocking;
//   - after a callback returns, the engine re-validates call state before
//     touching it again, because the call may have been cancelled while the
//     callback ran.
//
// Terminal callbacks are captured and cleared under the lock before being
// invoked, which makes them fire at most once no matter how many packets
// arrive after the terminal one.
package endpoint

import (
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pico-rpc/channel"
	"pico-rpc/packet"
)

// CallKey is the identity tuple that correlates the two sides of an RPC
// invocation. At most one Active call per key exists on an endpoint.
type CallKey struct {
	ChannelID uint32
	ServiceID uint32
	MethodID  uint32
	CallID    uint32
}

// Callbacks bundles the user callback slots bound to a call at start time.
// Any slot may be nil; all of them run with the endpoint lock released.
type Callbacks struct {
	OnNext      func(payload []byte)
	OnCompleted func(payload []byte, st codes.Code)
	OnError     func(st codes.Code)
}

// Endpoint is the client- or server-side owner of the active-call registry.
// Client and server endpoints use independent locks.
type Endpoint struct {
	mu      sync.Mutex
	calls   []*Call // Active calls; at most one per CallKey
	cleanup []*Call // Terminal calls whose on_error has not fired yet
}

func New() *Endpoint {
	return &Endpoint{}
}

// ActiveCalls returns the number of registered calls. Intended for tests and
// diagnostics; the result is stale the moment the lock is released.
func (e *Endpoint) ActiveCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// StartClientCall registers a new client call and sends its initial REQUEST
// packet while the registry lock is held, so the call is discoverable before
// any response can race in. If the initial send fails the call is marked
// errored and its on_error fires from the cleanup pass before this function
// returns. A key collision with an Active call fails without registering.
func (e *Endpoint) StartClientCall(ch *channel.Channel, key CallKey, mt MethodType, cbs Callbacks, request []byte) (*Call, error) {
	e.mu.Lock()
	if e.findLocked(key) != nil {
		e.mu.Unlock()
		return nil, status.Error(codes.FailedPrecondition, "call id already active")
	}

	c := &Call{
		endpoint:    e,
		channel:     ch,
		key:         key,
		method:      mt,
		client:      true,
		active:      true,
		onNext:      cbs.OnNext,
		onCompleted: cbs.OnCompleted,
		onError:     cbs.OnError,
	}
	e.calls = append(e.calls, c)

	p := packet.New(packet.TypeRequest, key.ChannelID, key.ServiceID, key.MethodID, key.CallID)
	if err := c.sendPacketLocked(p.WithPayload(request)); err != nil {
		c.markErroredLocked(status.Code(err))
	}
	e.mu.Unlock()

	e.CleanUpCalls()
	return c, nil
}

// NewServerCall registers the server side of an inbound REQUEST. The
// caller (the server dispatcher) invokes the user handler afterwards, with
// the lock released; the handler binds callbacks through the returned call.
func (e *Endpoint) NewServerCall(ch *channel.Channel, key CallKey, mt MethodType) (*Call, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.findLocked(key) != nil {
		return nil, status.Error(codes.FailedPrecondition, "call id already active")
	}

	c := &Call{
		endpoint: e,
		channel:  ch,
		key:      key,
		method:   mt,
		active:   true,
	}
	e.calls = append(e.calls, c)
	return c, nil
}

// DeliverData routes a stream-data payload to the matching call's on_next
// callback, invoked outside the lock. Reports whether a call matched; the
// dispatcher answers an unmatched identity with a FAILED_PRECONDITION error
// packet.
func (e *Endpoint) DeliverData(key CallKey, payload []byte) bool {
	e.mu.Lock()
	c := e.findLocked(key)
	if c == nil {
		e.mu.Unlock()
		return false
	}
	cb := c.onNext
	e.mu.Unlock()

	if cb != nil {
		cb(payload)
	}
	return true
}

// DeliverResponse routes a RESPONSE packet on the client side. For calls
// with a server stream, a RESPONSE without a status is a stream-data packet
// (on_next); any RESPONSE carrying a status, and every RESPONSE to a
// unary-response call, completes the call. Reports whether a call matched.
func (e *Endpoint) DeliverResponse(key CallKey, payload []byte, st codes.Code, hasStatus bool) bool {
	e.mu.Lock()
	c := e.findLocked(key)
	if c == nil {
		e.mu.Unlock()
		return false
	}

	if c.method.HasServerStream() && !hasStatus {
		cb := c.onNext
		e.mu.Unlock()
		if cb != nil {
			cb(payload)
		}
		return true
	}

	if !hasStatus {
		st = codes.OK
	}
	cb := c.onCompleted
	c.terminateLocked()
	e.mu.Unlock()
	if cb != nil {
		cb(payload, st)
	}
	return true
}

// CompleteCall transitions the matching call to Completed: it is
// deregistered under the lock and its on_completed fires exactly once,
// outside the lock. Reports whether a call matched.
func (e *Endpoint) CompleteCall(key CallKey, payload []byte, st codes.Code) bool {
	e.mu.Lock()
	c := e.findLocked(key)
	if c == nil {
		e.mu.Unlock()
		return false
	}
	cb := c.onCompleted
	c.terminateLocked()
	e.mu.Unlock()

	if cb != nil {
		cb(payload, st)
	}
	return true
}

// FailCall transitions the matching call to Errored on behalf of the peer
// (SERVER_ERROR, CLIENT_ERROR, or CANCEL): deregistered under the lock,
// on_error fired once outside it. Reports whether a call matched.
func (e *Endpoint) FailCall(key CallKey, st codes.Code) bool {
	e.mu.Lock()
	c := e.findLocked(key)
	if c == nil {
		e.mu.Unlock()
		return false
	}
	cb := c.onError
	c.terminateLocked()
	e.mu.Unlock()

	if cb != nil {
		cb(st)
	}
	return true
}

// HalfClose delivers a CLIENT_REQUEST_COMPLETION to the matching server
// call: the client sends no more stream data, but the call stays active and
// the server may still respond. Reports whether a call matched.
func (e *Endpoint) HalfClose(key CallKey) bool {
	e.mu.Lock()
	c := e.findLocked(key)
	if c == nil {
		e.mu.Unlock()
		return false
	}
	c.clientStreamDone = true
	cb := c.onCompletionRequested
	e.mu.Unlock()

	if cb != nil {
		cb()
	}
	return true
}

// CleanUpCalls fires the pending on_error callback of every call that
// failed while the lock was held (for example, a transport failure during a
// locked initial send). The server runs this after every entry point and
// the client after every Start, which keeps registry slot reclamation
// deterministic.
func (e *Endpoint) CleanUpCalls() {
	type pendingError struct {
		cb func(st codes.Code)
		st codes.Code
	}

	e.mu.Lock()
	pending := make([]pendingError, 0, len(e.cleanup))
	for _, c := range e.cleanup {
		if c.onError != nil {
			pending = append(pending, pendingError{c.onError, c.errStatus})
		}
		c.onError = nil
	}
	e.cleanup = nil
	e.mu.Unlock()

	for _, p := range pending {
		p.cb(p.st)
	}
}

func (e *Endpoint) findLocked(key CallKey) *Call {
	for _, c := range e.calls {
		if c.key == key {
			return c
		}
	}
	return nil
}

func (e *Endpoint) removeLocked(c *Call) {
	for i, other := range e.calls {
		if other == c {
			e.calls[i] = e.calls[len(e.calls)-1]
			e.calls = e.calls[:len(e.calls)-1]
			return
		}
	}
}
