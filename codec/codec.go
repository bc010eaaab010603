// Package codec defines the method codec collaborator: the serialization
// layer that turns request/response values into the opaque payload bytes the
// call engine moves around.
//
// The engine itself never inspects payload contents. Each method is
// configured with one Codec; what the codec encodes to is invisible to the
// packet, channel, and call layers.
package codec

type CodecType byte

const (
	CodecTypeRaw   CodecType = 0 // Pre-encoded []byte pass-through
	CodecTypeJSON  CodecType = 1
	CodecTypeProto CodecType = 2
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

func GetCodec(codecType CodecType) Codec {
	switch codecType {
	case CodecTypeJSON:
		return &JSONCodec{}
	case CodecTypeProto:
		return &ProtoCodec{}
	}
	return &RawCodec{}
}
