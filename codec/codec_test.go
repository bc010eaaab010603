package codec

import (
	"testing"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestJSONCodec(t *testing.T) {
	jsonCodec := &JSONCodec{}

	type request struct {
		A int    `json:"a"`
		B string `json:"b"`
	}
	original := request{A: 1, B: "two"}

	data, err := jsonCodec.Encode(&original)
	if err != nil {
		t.Fatalf("JSONCodec Encode failed: %v", err)
	}

	var decoded request
	if err := jsonCodec.Decode(data, &decoded); err != nil {
		t.Fatalf("JSONCodec Decode failed: %v", err)
	}

	if decoded != original {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestRawCodec(t *testing.T) {
	rawCodec := &RawCodec{}

	payload := []byte("already encoded")
	data, err := rawCodec.Encode(payload)
	if err != nil {
		t.Fatalf("RawCodec Encode failed: %v", err)
	}
	if &data[0] != &payload[0] {
		t.Error("RawCodec copied the payload instead of passing it through")
	}

	var decoded []byte
	if err := rawCodec.Decode(data, &decoded); err != nil {
		t.Fatalf("RawCodec Decode failed: %v", err)
	}
	if string(decoded) != string(payload) {
		t.Errorf("Payload mismatch: got %s, want %s", decoded, payload)
	}

	if _, err := rawCodec.Encode(42); err == nil {
		t.Error("RawCodec accepted a non-byte value")
	}
	if err := rawCodec.Decode(data, &struct{}{}); err == nil {
		t.Error("RawCodec decoded into a non-byte target")
	}
}

func TestProtoCodec(t *testing.T) {
	protoCodec := &ProtoCodec{}

	original := wrapperspb.String("proto payload")
	data, err := protoCodec.Encode(original)
	if err != nil {
		t.Fatalf("ProtoCodec Encode failed: %v", err)
	}

	decoded := &wrapperspb.StringValue{}
	if err := protoCodec.Decode(data, decoded); err != nil {
		t.Fatalf("ProtoCodec Decode failed: %v", err)
	}
	if decoded.GetValue() != original.GetValue() {
		t.Errorf("Value mismatch: got %s, want %s", decoded.GetValue(), original.GetValue())
	}

	if _, err := protoCodec.Encode("not a message"); err == nil {
		t.Error("ProtoCodec accepted a non-proto value")
	}
}

func TestGetCodec(t *testing.T) {
	if c := GetCodec(CodecTypeJSON); c.Type() != CodecTypeJSON {
		t.Errorf("GetCodec(JSON) returned type %v", c.Type())
	}
	if c := GetCodec(CodecTypeProto); c.Type() != CodecTypeProto {
		t.Errorf("GetCodec(Proto) returned type %v", c.Type())
	}
	if c := GetCodec(CodecTypeRaw); c.Type() != CodecTypeRaw {
		t.Errorf("GetCodec(Raw) returned type %v", c.Type())
	}
	// Unknown types fall back to raw pass-through.
	if c := GetCodec(CodecType(99)); c.Type() != CodecTypeRaw {
		t.Errorf("GetCodec(unknown) returned type %v", c.Type())
	}
}
