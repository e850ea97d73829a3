package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// fakeCaller records the last round-trip and replies with a canned payload.
type fakeCaller struct {
	lastName    string
	lastPayload []byte
	response    []byte
	err         error
}

func (f *fakeCaller) Call(ctx context.Context, name string, payload []byte) ([]byte, error) {
	f.lastName = name
	f.lastPayload = payload
	return f.response, f.err
}

type greetRequest struct {
	Name string `json:"name"`
}

type greetResponse struct {
	Greeting string `json:"greeting"`
}

func TestJSONCallerAdapter(t *testing.T) {
	caller := &fakeCaller{response: []byte(`{"greeting":"hello tester"}`)}
	adapter := NewJSONCallerAdapter[greetRequest, greetResponse](caller)

	resp, err := adapter.Call(context.Background(), "greeter.greet", greetRequest{Name: "tester"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if resp.Greeting != "hello tester" {
		t.Errorf("Greeting = %q", resp.Greeting)
	}
	if caller.lastName != "greeter.greet" {
		t.Errorf("service name = %q", caller.lastName)
	}

	var sent greetRequest
	if err := json.Unmarshal(caller.lastPayload, &sent); err != nil {
		t.Fatalf("request payload is not JSON: %v", err)
	}
	if sent.Name != "tester" {
		t.Errorf("sent Name = %q", sent.Name)
	}
}

func TestCallerAdapter_TransportErrorPassesThrough(t *testing.T) {
	wantErr := &RemoteError{Service: "greeter.greet", Message: "boom"}
	caller := &fakeCaller{err: wantErr}
	adapter := NewJSONCallerAdapter[greetRequest, greetResponse](caller)

	_, err := adapter.Call(context.Background(), "greeter.greet", greetRequest{})
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) || remoteErr != wantErr {
		t.Fatalf("expected the caller's error unchanged, got %v", err)
	}
}

func TestCallerAdapter_MalformedResponse(t *testing.T) {
	caller := &fakeCaller{response: []byte("not json at all")}
	adapter := NewJSONCallerAdapter[greetRequest, greetResponse](caller)

	_, err := adapter.Call(context.Background(), "greeter.greet", greetRequest{})
	if err == nil {
		t.Fatal("expected an unmarshal error")
	}
	if !strings.Contains(err.Error(), "greeter.greet") {
		t.Errorf("error %q does not name the service", err)
	}
}

func TestTypedHandler(t *testing.T) {
	handler := TypedHandler(
		func(data []byte) (greetRequest, error) {
			var req greetRequest
			err := json.Unmarshal(data, &req)
			return req, err
		},
		func(resp greetResponse) ([]byte, error) {
			return json.Marshal(resp)
		},
		func(ctx context.Context, req greetRequest) (greetResponse, error) {
			if req.Name == "" {
				return greetResponse{}, errors.New("name required")
			}
			return greetResponse{Greeting: "hello " + req.Name}, nil
		},
	)

	data, err := handler(context.Background(), []byte(`{"name":"world"}`))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	var resp greetResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if resp.Greeting != "hello world" {
		t.Errorf("Greeting = %q", resp.Greeting)
	}

	if _, err := handler(context.Background(), []byte(`{"name":""}`)); err == nil {
		t.Error("expected the handler's own error to surface")
	}
	if _, err := handler(context.Background(), []byte(`garbage`)); err == nil {
		t.Error("expected an unmarshal error for a malformed request")
	}
}
