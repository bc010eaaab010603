package codec

import "errors"

// RawCodec passes pre-encoded payloads through unchanged. It is the default
// for methods whose payloads are produced by an external generated layer:
// the engine stays byte-opaque and the codec does no work.
type RawCodec struct{}

func (c *RawCodec) Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	}
	return nil, errors.New("RawCodec: v must be []byte")
}

func (c *RawCodec) Decode(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return errors.New("RawCodec: v must be *[]byte")
	}
	*b = data
	return nil
}

func (c *RawCodec) Type() CodecType {
	return CodecTypeRaw
}
