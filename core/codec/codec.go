// Package codec encodes handler values into response bodies.
package codec

import (
	"encoding/json"
	"errors"

	"google.golang.org/protobuf/proto"
)

var (
	ErrUnsupportedCodec = errors.New("unsupported codec")
)

// Codec encodes a value for a response body
type Codec interface {
	// Encode encodes a value to bytes
	Encode(v any) ([]byte, error)

	// Decode decodes bytes to a value
	Decode(data []byte, v any) error

	// ContentType is the media type sent with encoded bodies
	ContentType() string

	// Name returns the codec name
	Name() string
}

// Type identifies a codec
type Type byte

const (
	JSON     Type = 0x01
	Protobuf Type = 0x03
)

var (
	jsonCodec     = &JSONCodec{}
	protobufCodec = &ProtobufCodec{}
)

// Get returns a codec by type
func Get(typ Type) (Codec, error) {
	switch typ {
	case JSON:
		return jsonCodec, nil
	case Protobuf:
		return protobufCodec, nil
	default:
		return nil, ErrUnsupportedCodec
	}
}

// For picks the codec for v: protobuf for proto messages, JSON otherwise
func For(v any) Codec {
	if _, ok := v.(proto.Message); ok {
		return protobufCodec
	}
	return jsonCodec
}

// JSONCodec implements JSON encoding/decoding
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) ContentType() string {
	return "application/json; charset=UTF-8"
}

func (c *JSONCodec) Name() string {
	return "json"
}
