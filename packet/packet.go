// Package packet implements the wire envelope for pico-rpc.
//
// Every message exchanged between endpoints is one Packet: a small
// self-describing header (type, channel, service, method, call id, optional
// status) followed by an opaque payload. The engine never inspects payload
// contents; it only moves them between a method codec and a transport.
//
// The envelope is encoded with protobuf wire primitives
// (google.golang.org/protobuf/encoding/protowire), so headers can be sized
// precisely before an unknown-length payload is written and decoded without
// copying the payload out of the receive buffer.
package packet

import (
	"google.golang.org/grpc/codes"
)

// Type identifies the role of a packet in the call lifecycle.
type Type uint32

const (
	TypeRequest                 Type = 0 // Client → Server: start a call
	TypeResponse                Type = 1 // Server → Client: stream data (streaming) or final response (unary)
	TypeClientStream            Type = 2 // Client → Server: request stream data
	TypeClientRequestCompletion Type = 3 // Client → Server: half-close, no more stream writes
	TypeServerStreamEnd         Type = 4 // Server → Client: terminates a streaming call with a status
	TypeCancel                  Type = 5 // Client → Server: abort the call
	TypeClientError             Type = 6 // Client → Server: error report, carries a status
	TypeServerError             Type = 7 // Server → Client: error report, carries a status
)

const maxType = TypeServerError

func (t Type) String() string {
	switch t {
	case TypeRequest:
		return "REQUEST"
	case TypeResponse:
		return "RESPONSE"
	case TypeClientStream:
		return "CLIENT_STREAM"
	case TypeClientRequestCompletion:
		return "CLIENT_REQUEST_COMPLETION"
	case TypeServerStreamEnd:
		return "SERVER_STREAM_END"
	case TypeCancel:
		return "CANCEL"
	case TypeClientError:
		return "CLIENT_ERROR"
	case TypeServerError:
		return "SERVER_ERROR"
	}
	return "UNKNOWN"
}

// Packet is one wire message. It is a value type; the Payload is always
// borrowed (a sub-span of a transport buffer), never owned by the Packet.
type Packet struct {
	Type      Type
	ChannelID uint32
	ServiceID uint32 // 65599 hash of the service name (see package ids)
	MethodID  uint32 // 65599 hash of the method name
	CallID    uint32 // Disambiguates concurrent calls to the same method
	Payload   []byte
	Status    codes.Code // Meaningful only when HasStatus is true
	HasStatus bool       // Set on terminal packets
}

// New builds a packet with the common header fields. Payload and status are
// attached by the caller as needed.
func New(t Type, channelID, serviceID, methodID, callID uint32) Packet {
	return Packet{
		Type:      t,
		ChannelID: channelID,
		ServiceID: serviceID,
		MethodID:  methodID,
		CallID:    callID,
	}
}

// WithPayload returns a copy of p carrying the given payload span.
func (p Packet) WithPayload(payload []byte) Packet {
	p.Payload = payload
	return p
}

// WithStatus returns a copy of p marked terminal with the given status.
func (p Packet) WithStatus(st codes.Code) Packet {
	p.Status = st
	p.HasStatus = true
	return p
}
