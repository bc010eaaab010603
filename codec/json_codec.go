package codec

import (
	"encoding/json"
)

// JSONCodec serializes with encoding/json. Useful when the peer is a host
// tool or test harness rather than a generated embedded client: payloads are
// readable in transport captures at the cost of size and speed.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
