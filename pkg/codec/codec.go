// Package codec decodes request bodies into key-value mappings.
// Form, JSON and protobuf (google.protobuf.Struct) bodies are supported.
package codec

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// ErrUnsupportedMediaType is returned for bodies whose content type has no codec.
var ErrUnsupportedMediaType = errors.New("codec: unsupported media type")

// Codec decodes a raw body into a key-value mapping.
type Codec interface {
	// ContentType returns the media type handled by the codec, without parameters.
	ContentType() string

	// Decode converts the raw body into a mapping. An empty body decodes to nil.
	Decode(body []byte) (map[string]any, error)
}

// Registry selects a codec by the request's Content-Type.
type Registry struct {
	codecs map[string]Codec
}

// NewRegistry creates a registry holding the given codecs.
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{codecs: make(map[string]Codec, len(codecs))}
	for _, c := range codecs {
		r.codecs[c.ContentType()] = c
	}
	return r
}

// DefaultRegistry returns a registry with the form, JSON and protobuf codecs.
func DefaultRegistry() *Registry {
	return NewRegistry(NewFormCodec(), NewJSONCodec(), NewProtoCodec())
}

// Lookup returns the codec for a Content-Type header value.
func (r *Registry) Lookup(contentType string) (Codec, bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, false
	}
	c, ok := r.codecs[mediaType]
	return c, ok
}

// DecodeRequest reads and decodes the body of r.
// Requests without a body decode to nil. A body without a Content-Type is decoded as a form.
func (r *Registry) DecodeRequest(req *http.Request) (map[string]any, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("codec: read body: %w", err)
	}
	defer req.Body.Close()

	if len(body) == 0 {
		return nil, nil
	}

	contentType := req.Header.Get("Content-Type")
	if contentType == "" {
		contentType = formContentType
	}

	c, ok := r.Lookup(contentType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, contentType)
	}
	return c.Decode(body)
}
