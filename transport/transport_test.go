package transport

import (
	"bytes"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestFrameRoundTrip(t *testing.T) {
	var wire bytes.Buffer
	out := NewStreamOutput(&wire, 64, "test")

	buf := out.AcquireBuffer()
	if len(buf) != 64 {
		t.Fatalf("buffer size = %d, want 64", len(buf))
	}
	n := copy(buf, "one packet")
	if err := out.Send(buf[:n]); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	recv := make([]byte, 64)
	frame, err := ReadFrame(&wire, recv)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if string(frame) != "one packet" {
		t.Errorf("frame = %q, want %q", frame, "one packet")
	}
	if wire.Len() != 0 {
		t.Errorf("%d stray bytes left on the wire", wire.Len())
	}
}

func TestFramesKeepBoundaries(t *testing.T) {
	var wire bytes.Buffer
	out := NewStreamOutput(&wire, 64, "test")

	for _, msg := range []string{"first", "second", "third"} {
		buf := out.AcquireBuffer()
		n := copy(buf, msg)
		if err := out.Send(buf[:n]); err != nil {
			t.Fatalf("Send(%q) failed: %v", msg, err)
		}
	}

	recv := make([]byte, 64)
	for _, want := range []string{"first", "second", "third"} {
		frame, err := ReadFrame(&wire, recv)
		if err != nil {
			t.Fatalf("ReadFrame failed: %v", err)
		}
		if string(frame) != want {
			t.Errorf("frame = %q, want %q", frame, want)
		}
	}
}

func TestAcquireRefusedWhileOutstanding(t *testing.T) {
	out := NewStreamOutput(&bytes.Buffer{}, 64, "test")

	first := out.AcquireBuffer()
	if first == nil {
		t.Fatal("first acquisition refused")
	}
	if second := out.AcquireBuffer(); second != nil {
		t.Fatal("concurrent second acquisition was granted")
	}

	// Releasing via send makes the buffer available again.
	if err := out.Send(first[:1]); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if out.AcquireBuffer() == nil {
		t.Fatal("buffer not released after Send")
	}
}

func TestDiscardReleasesWithoutWriting(t *testing.T) {
	var wire bytes.Buffer
	out := NewStreamOutput(&wire, 64, "test")

	buf := out.AcquireBuffer()
	if err := out.Send(buf[:0]); err != nil {
		t.Fatalf("discard failed: %v", err)
	}
	if wire.Len() != 0 {
		t.Errorf("discard wrote %d bytes", wire.Len())
	}
	if out.AcquireBuffer() == nil {
		t.Fatal("buffer not released after discard")
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	var wire bytes.Buffer
	out := NewStreamOutput(&wire, 64, "test")

	buf := out.AcquireBuffer()
	n := copy(buf, "this frame will not fit the receiver")
	if err := out.Send(buf[:n]); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	small := make([]byte, 8)
	if _, err := ReadFrame(&wire, small); status.Code(err) != codes.DataLoss {
		t.Errorf("oversized frame: got %v, want DataLoss", err)
	}
}

func TestReadFrameShortStream(t *testing.T) {
	// Header promises more bytes than the stream holds.
	wire := bytes.NewBuffer([]byte{0, 0, 0, 10, 'x', 'y'})
	if _, err := ReadFrame(wire, make([]byte, 64)); err == nil {
		t.Fatal("expected error for truncated stream, got nil")
	}
}

func TestName(t *testing.T) {
	out := NewStreamOutput(&bytes.Buffer{}, 16, "uart0")
	if out.Name() != "uart0" {
		t.Errorf("Name() = %q, want %q", out.Name(), "uart0")
	}
}
