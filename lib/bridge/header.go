// Package bridge implements the call channel between the host-facing
// process and the process actually running the plugin binary. The Bridge
// type is the host side: it owns the remote process, correlates blocking
// round-trip calls with their responses, and accepts callbacks initiated by
// the remote side. The Host type is the remote side: it applies received
// calls to registered handlers and can call back into the host.
package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageType tags a header with its role in the protocol.
type MessageType uint8

const (
	// MessageTypeRequest expects a response carrying the same sequence.
	MessageTypeRequest MessageType = 0x01
	// MessageTypeResponse answers a request.
	MessageTypeResponse MessageType = 0x02
	// MessageTypeNotify expects no response.
	MessageTypeNotify MessageType = 0x03
	// MessageTypeError answers a request with a failure payload.
	MessageTypeError MessageType = 0x04
)

// String returns the string representation of the message type.
func (mt MessageType) String() string {
	switch mt {
	case MessageTypeRequest:
		return "Request"
	case MessageTypeResponse:
		return "Response"
	case MessageTypeNotify:
		return "Notify"
	case MessageTypeError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Header is one protocol message: the service name it addresses, its role,
// whether the payload describes a failure, and the payload itself.
// Booleans occupy a single byte on the wire, and every field round-trips
// exactly.
type Header struct {
	Name    string
	Type    MessageType
	IsError bool
	Payload []byte
}

// Wire layout: [nameLen:4][name][type:1][isError:1][payloadLen:4][payload],
// integers big-endian.
const headerFixedSize = 4 + 1 + 1 + 4

// MarshalBinary encodes the header into its binary wire form.
func (h *Header) MarshalBinary() ([]byte, error) {
	name := []byte(h.Name)
	buf := make([]byte, 0, headerFixedSize+len(name)+len(h.Payload))

	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], uint32(len(name)))
	buf = append(buf, scratch[:]...)
	buf = append(buf, name...)

	buf = append(buf, byte(h.Type))

	var isError byte
	if h.IsError {
		isError = 1
	}
	buf = append(buf, isError)

	binary.BigEndian.PutUint32(scratch[:], uint32(len(h.Payload)))
	buf = append(buf, scratch[:]...)
	buf = append(buf, h.Payload...)

	return buf, nil
}

// UnmarshalBinary decodes the header from its binary wire form.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return errors.New("header too short for name length")
	}
	nameLen := binary.BigEndian.Uint32(data[:4])
	data = data[4:]

	if uint32(len(data)) < nameLen {
		return fmt.Errorf("header truncated: want %d name bytes, have %d", nameLen, len(data))
	}
	h.Name = string(data[:nameLen])
	data = data[nameLen:]

	if len(data) < 2+4 {
		return errors.New("header too short for type and payload length")
	}
	h.Type = MessageType(data[0])
	h.IsError = data[1] == 1
	payloadLen := binary.BigEndian.Uint32(data[2:6])
	data = data[6:]

	if uint32(len(data)) < payloadLen {
		return fmt.Errorf("header truncated: want %d payload bytes, have %d", payloadLen, len(data))
	}
	h.Payload = make([]byte, payloadLen)
	copy(h.Payload, data[:payloadLen])

	return nil
}
