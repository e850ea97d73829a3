package bridge

import (
	"google.golang.org/protobuf/proto"
)

// NewProtobufCallerAdapter creates a CallerAdapter that carries requests
// and responses as Protocol Buffers. Req and Resp must be pointer types
// implementing proto.Message; newResponse is a factory returning a fresh
// non-nil Resp to unmarshal into.
func NewProtobufCallerAdapter[Req proto.Message, Resp proto.Message](
	caller Caller,
	newResponse func() Resp,
) *CallerAdapter[Req, Resp] {
	return NewCallerAdapter(caller, Serializer[Req, Resp]{
		MarshalRequest: func(req Req) ([]byte, error) {
			return proto.Marshal(req)
		},
		UnmarshalResponse: func(data []byte) (Resp, error) {
			response := newResponse()
			if err := proto.Unmarshal(data, response); err != nil {
				var zero Resp
				return zero, err
			}
			return response, nil
		},
	})
}
