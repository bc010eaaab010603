// Package transport adapts the packet engine to byte-stream transports
// (TCP sockets, UARTs exposed as files, pipes).
//
// A byte stream has no packet boundaries, so frames are delimited with a
// 4-byte big-endian length prefix and reassembled with io.ReadFull:
//
//	0        4
//	┌────────┬─────────────────┐
//	│ length │ packet bytes ...│
//	│ uint32 │  length bytes   │
//	└────────┴─────────────────┘
//
// StreamOutput is a ChannelOutput with exactly one preallocated frame
// buffer: memory use is fixed at construction and a second concurrent
// acquisition is refused (empty buffer, "try again later") rather than
// allocated.
package transport

import (
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// frameHeaderLen is the length-prefix size.
const frameHeaderLen = 4

// StreamOutput frames outgoing packets onto an io.Writer.
type StreamOutput struct {
	name     string
	w        io.Writer
	buf      []byte // frame header + packet region, allocated once
	acquired atomic.Bool
	mu       sync.Mutex // serializes frame writes
}

// NewStreamOutput creates an output whose packet buffer holds bufferSize
// bytes. name is for diagnostics only.
func NewStreamOutput(w io.Writer, bufferSize int, name string) *StreamOutput {
	return &StreamOutput{
		name: name,
		w:    w,
		buf:  make([]byte, frameHeaderLen+bufferSize),
	}
}

// AcquireBuffer hands out the packet region of the frame buffer. Returns an
// empty buffer while a previous acquisition is outstanding; the caller must
// retry later.
func (o *StreamOutput) AcquireBuffer() []byte {
	if !o.acquired.CompareAndSwap(false, true) {
		return nil
	}
	return o.buf[frameHeaderLen:]
}

// Send writes one length-prefixed frame and releases the buffer. A
// zero-length buffer transmits nothing and only releases (the channel's
// discard path). buffer must be a prefix of the span from AcquireBuffer.
func (o *StreamOutput) Send(buffer []byte) error {
	defer o.acquired.Store(false)
	if len(buffer) == 0 {
		return nil
	}

	binary.BigEndian.PutUint32(o.buf[:frameHeaderLen], uint32(len(buffer)))

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := o.w.Write(o.buf[:frameHeaderLen+len(buffer)]); err != nil {
		return status.Error(codes.Unavailable, err.Error())
	}
	return nil
}

// Name returns the diagnostic name.
func (o *StreamOutput) Name() string { return o.name }

// ReadFrame reads one length-prefixed frame from r into buf and returns the
// packet bytes as a prefix of buf. The caller owns buf, so receive memory
// stays fixed; a frame longer than buf is a DataLoss error (the stream is
// unrecoverable at that point — resynchronization is a transport-layer
// concern).
func ReadFrame(r io.Reader, buf []byte) ([]byte, error) {
	var header [frameHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(header[:])
	if n > uint32(len(buf)) {
		return nil, status.Error(codes.DataLoss, "frame exceeds receive buffer")
	}
	if _, err := io.ReadFull(r, buf[:n]); err != nil {
		return nil, err
	}
	return buf[:n], nil
}
