package codec

import (
	"errors"

	"google.golang.org/protobuf/proto"
)

// ProtoCodec serializes protobuf messages. This matches the original
// deployments of the protocol, where request and response structures are
// generated from proto schemas.
type ProtoCodec struct{}

func (c *ProtoCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, errors.New("ProtoCodec: v must be proto.Message")
	}
	return proto.Marshal(msg)
}

func (c *ProtoCodec) Decode(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return errors.New("ProtoCodec: v must be proto.Message")
	}
	return proto.Unmarshal(data, msg)
}

func (c *ProtoCodec) Type() CodecType {
	return CodecTypeProto
}
