package bridge

import (
	"context"
	"fmt"
)

// Caller is the narrow surface a typed adapter or interface proxy needs:
// one blocking round-trip. *Bridge implements it on the host side and
// HostCaller wraps Host.Callback for the remote side.
type Caller interface {
	Call(ctx context.Context, name string, payload []byte) ([]byte, error)
}

// HostCaller adapts a Host's callback channel to the Caller interface so
// remote-side proxies can issue round-trips into the host process.
type HostCaller struct {
	Host *Host
}

// Call implements Caller by forwarding to Host.Callback.
func (c HostCaller) Call(ctx context.Context, name string, payload []byte) ([]byte, error) {
	return c.Host.Callback(ctx, name, payload)
}

// Serializer holds the marshaling functions a typed adapter uses for one
// request/response pair.
type Serializer[Req, Resp any] struct {
	MarshalRequest    func(Req) ([]byte, error)
	UnmarshalResponse func([]byte) (Resp, error)
}

// CallerAdapter wraps a Caller with typed request and response handling so
// call sites never touch raw payload bytes.
type CallerAdapter[Req, Resp any] struct {
	caller     Caller
	serializer Serializer[Req, Resp]
}

// NewCallerAdapter creates a typed adapter over the given caller.
func NewCallerAdapter[Req, Resp any](caller Caller, serializer Serializer[Req, Resp]) *CallerAdapter[Req, Resp] {
	return &CallerAdapter[Req, Resp]{caller: caller, serializer: serializer}
}

// Call marshals the request, performs the round-trip, and unmarshals the
// response. Transport and remote failures pass through unchanged.
func (a *CallerAdapter[Req, Resp]) Call(ctx context.Context, name string, request Req) (Resp, error) {
	var zero Resp

	payload, err := a.serializer.MarshalRequest(request)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal request for %s: %w", name, err)
	}

	responsePayload, err := a.caller.Call(ctx, name, payload)
	if err != nil {
		return zero, err
	}

	response, err := a.serializer.UnmarshalResponse(responsePayload)
	if err != nil {
		return zero, fmt.Errorf("failed to unmarshal response for %s: %w", name, err)
	}
	return response, nil
}

// TypedHandler adapts a typed handler function to the raw Handler
// signature used by Host.Register.
func TypedHandler[Req, Resp any](
	unmarshalRequest func([]byte) (Req, error),
	marshalResponse func(Resp) ([]byte, error),
	handle func(ctx context.Context, request Req) (Resp, error),
) Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		request, err := unmarshalRequest(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal request: %w", err)
		}
		response, err := handle(ctx, request)
		if err != nil {
			return nil, err
		}
		data, err := marshalResponse(response)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response: %w", err)
		}
		return data, nil
	}
}
