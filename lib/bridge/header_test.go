package bridge

import (
	"bytes"
	"testing"
)

func TestHeader_MarshalUnmarshal(t *testing.T) {
	testCases := []struct {
		name   string
		header Header
	}{
		{
			name: "request",
			header: Header{
				Name:    "unit_info.unit_name",
				Type:    MessageTypeRequest,
				Payload: []byte("hello world"),
			},
		},
		{
			name: "error response",
			header: Header{
				Name:    "instance.create",
				Type:    MessageTypeError,
				IsError: true,
				Payload: []byte("factory failed"),
			},
		},
		{
			name: "empty payload",
			header: Header{
				Name: "ready",
				Type: MessageTypeNotify,
			},
		},
		{
			name: "empty name",
			header: Header{
				Type:    MessageTypeResponse,
				Payload: []byte("anonymous"),
			},
		},
		{
			name: "large payload",
			header: Header{
				Name:    "bulk",
				Type:    MessageTypeResponse,
				Payload: make([]byte, 100_000),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := tc.header.MarshalBinary()
			if err != nil {
				t.Fatalf("MarshalBinary failed: %v", err)
			}

			var decoded Header
			if err := decoded.UnmarshalBinary(data); err != nil {
				t.Fatalf("UnmarshalBinary failed: %v", err)
			}

			if decoded.Name != tc.header.Name {
				t.Errorf("Name = %q, want %q", decoded.Name, tc.header.Name)
			}
			if decoded.Type != tc.header.Type {
				t.Errorf("Type = %v, want %v", decoded.Type, tc.header.Type)
			}
			if decoded.IsError != tc.header.IsError {
				t.Errorf("IsError = %v, want %v", decoded.IsError, tc.header.IsError)
			}
			if !bytes.Equal(decoded.Payload, tc.header.Payload) {
				t.Errorf("Payload mismatch: %d bytes, want %d", len(decoded.Payload), len(tc.header.Payload))
			}

			// The wire form itself must round-trip byte for byte.
			again, err := decoded.MarshalBinary()
			if err != nil {
				t.Fatalf("re-marshal failed: %v", err)
			}
			if !bytes.Equal(data, again) {
				t.Error("re-marshaled bytes differ from original encoding")
			}
		})
	}
}

func TestHeader_UnmarshalTruncated(t *testing.T) {
	full, err := (&Header{Name: "svc", Type: MessageTypeRequest, Payload: []byte("data")}).MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}

	for cut := 0; cut < len(full); cut++ {
		var h Header
		if err := h.UnmarshalBinary(full[:cut]); err == nil {
			t.Errorf("expected error for %d-byte prefix", cut)
		}
	}
}
