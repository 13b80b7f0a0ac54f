package codec

import (
	"bytes"
	"encoding/json"
	"errors"
)

// JSONCodec decodes JSON object bodies.
type JSONCodec struct{}

// NewJSONCodec creates a new JSONCodec.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// ContentType implements Codec.
func (c *JSONCodec) ContentType() string {
	return "application/json"
}

// Decode implements Codec. The body must be a JSON object; numbers decode as float64.
func (c *JSONCodec) Decode(body []byte) (map[string]any, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] != '{' {
		return nil, errors.New("codec: JSON body must be an object")
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, err
	}
	return data, nil
}
