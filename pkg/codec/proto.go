package codec

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtoCodec decodes protobuf bodies carrying a google.protobuf.Struct.
type ProtoCodec struct{}

// NewProtoCodec creates a new ProtoCodec.
func NewProtoCodec() *ProtoCodec {
	return &ProtoCodec{}
}

// ContentType implements Codec.
func (c *ProtoCodec) ContentType() string {
	return "application/x-protobuf"
}

// Decode implements Codec.
func (c *ProtoCodec) Decode(body []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(body, &s); err != nil {
		return nil, err
	}
	if len(s.GetFields()) == 0 {
		return nil, nil
	}
	return s.AsMap(), nil
}

// EncodeMap marshals a mapping as a google.protobuf.Struct, the inverse of Decode.
func EncodeMap(data map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(data)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}
