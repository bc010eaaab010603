package packet

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope field numbers. These are fixed protocol constants; changing them
// breaks wire compatibility with deployed peers.
const (
	fieldType      protowire.Number = 1
	fieldChannelID protowire.Number = 2
	fieldServiceID protowire.Number = 3
	fieldMethodID  protowire.Number = 4
	fieldCallID    protowire.Number = 5
	fieldStatus    protowire.Number = 6
	fieldPayload   protowire.Number = 7
)

// headerSizeBytes returns the exact encoded size of every field that
// precedes the payload bytes, given the current field values.
func (p Packet) headerSizeBytes() int {
	size := protowire.SizeTag(fieldType) + protowire.SizeVarint(uint64(p.Type))
	size += protowire.SizeTag(fieldChannelID) + protowire.SizeVarint(uint64(p.ChannelID))
	size += protowire.SizeTag(fieldServiceID) + protowire.SizeFixed32()
	size += protowire.SizeTag(fieldMethodID) + protowire.SizeFixed32()
	size += protowire.SizeTag(fieldCallID) + protowire.SizeVarint(uint64(p.CallID))
	if p.HasStatus {
		size += protowire.SizeTag(fieldStatus) + protowire.SizeVarint(uint64(p.Status))
	}
	return size
}

// MinEncodedSizeBytes returns the buffer space that must be reserved ahead
// of the payload: the header for the current field values plus the payload
// key and a one-byte length. A transport buffer at least this large can
// always carry the packet with an empty payload.
func (p Packet) MinEncodedSizeBytes() int {
	return p.headerSizeBytes() + protowire.SizeTag(fieldPayload) + 1
}

// MaxPayloadSizeBytes returns the largest payload length that fits in a
// buffer of bufSize bytes alongside p's envelope. The payload length varint
// grows with the payload, so this is not simply bufSize minus
// MinEncodedSizeBytes: a 128-byte payload needs a two-byte length prefix.
// Returns -1 when not even an empty payload fits.
func (p Packet) MaxPayloadSizeBytes(bufSize int) int {
	overhead := p.headerSizeBytes() + protowire.SizeTag(fieldPayload)
	max := bufSize - overhead - 1
	if max < 0 {
		return -1
	}
	for max > 0 && overhead+protowire.SizeVarint(uint64(max))+max > bufSize {
		max--
	}
	return max
}

// EncodedSizeBytes returns the exact encoded size of the whole packet,
// including the payload currently attached.
func (p Packet) EncodedSizeBytes() int {
	return p.headerSizeBytes() +
		protowire.SizeTag(fieldPayload) + protowire.SizeBytes(len(p.Payload))
}

// Encode serializes the packet into buf and returns the number of bytes
// written. The payload is written last, so buf may be the same buffer the
// payload was staged in (the bytes are moved into place; overlapping copies
// are safe). Returns ResourceExhausted if buf cannot hold the packet; buf is
// never overflowed.
func (p Packet) Encode(buf []byte) (int, error) {
	if p.EncodedSizeBytes() > len(buf) {
		return 0, status.Error(codes.ResourceExhausted, "packet does not fit in buffer")
	}

	b := buf[:0]
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Type))
	b = protowire.AppendTag(b, fieldChannelID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.ChannelID))
	b = protowire.AppendTag(b, fieldServiceID, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, p.ServiceID)
	b = protowire.AppendTag(b, fieldMethodID, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, p.MethodID)
	b = protowire.AppendTag(b, fieldCallID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.CallID))
	if p.HasStatus {
		b = protowire.AppendTag(b, fieldStatus, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Status))
	}

	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(len(p.Payload)))
	n := len(b)
	b = b[:n+len(p.Payload)]
	copy(b[n:], p.Payload) // memmove: correct even when payload aliases buf

	return len(b), nil
}

// Decode parses one packet from data. The returned Packet's Payload is a
// sub-span of data — no copy is made, so the Packet must not outlive the
// receive buffer. Unknown fields are skipped for forward compatibility.
// Malformed or truncated input returns DataLoss; Decode never reads past
// data and never panics.
func Decode(data []byte) (Packet, error) {
	var p Packet

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Packet{}, decodeError()
		}
		data = data[n:]

		switch {
		case num == fieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 || Type(v) > maxType {
				return Packet{}, decodeError()
			}
			p.Type = Type(v)
			data = data[n:]
		case num == fieldChannelID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Packet{}, decodeError()
			}
			p.ChannelID = uint32(v)
			data = data[n:]
		case num == fieldServiceID && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return Packet{}, decodeError()
			}
			p.ServiceID = v
			data = data[n:]
		case num == fieldMethodID && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return Packet{}, decodeError()
			}
			p.MethodID = v
			data = data[n:]
		case num == fieldCallID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Packet{}, decodeError()
			}
			p.CallID = uint32(v)
			data = data[n:]
		case num == fieldStatus && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Packet{}, decodeError()
			}
			p.Status = codes.Code(v)
			p.HasStatus = true
			data = data[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Packet{}, decodeError()
			}
			p.Payload = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Packet{}, decodeError()
			}
			data = data[n:]
		}
	}

	return p, nil
}

func decodeError() error {
	return status.Error(codes.DataLoss, "malformed packet")
}
