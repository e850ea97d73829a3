package bridge

import (
	"encoding/json"
)

// NewJSONCallerAdapter creates a CallerAdapter that carries requests and
// responses as JSON. Req and Resp are plain Go types.
func NewJSONCallerAdapter[Req, Resp any](caller Caller) *CallerAdapter[Req, Resp] {
	return NewCallerAdapter(caller, Serializer[Req, Resp]{
		MarshalRequest: func(req Req) ([]byte, error) {
			return json.Marshal(req)
		},
		UnmarshalResponse: func(data []byte) (Resp, error) {
			var resp Resp
			err := json.Unmarshal(data, &resp)
			return resp, err
		},
	})
}
