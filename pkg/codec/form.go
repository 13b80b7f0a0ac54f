package codec

import (
	"net/url"
)

const formContentType = "application/x-www-form-urlencoded"

// FormCodec decodes URL-encoded form bodies. Keys with a single value map to a string,
// repeated keys map to a []any of strings.
type FormCodec struct{}

// NewFormCodec creates a new FormCodec.
func NewFormCodec() *FormCodec {
	return &FormCodec{}
}

// ContentType implements Codec.
func (c *FormCodec) ContentType() string {
	return formContentType
}

// Decode implements Codec.
func (c *FormCodec) Decode(body []byte) (map[string]any, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}

	data := make(map[string]any, len(values))
	for k, vs := range values {
		if len(vs) == 1 {
			data[k] = vs[0]
			continue
		}
		list := make([]any, len(vs))
		for i, v := range vs {
			list[i] = v
		}
		data[k] = list
	}
	return data, nil
}
