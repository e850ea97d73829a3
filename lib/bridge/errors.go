package bridge

import (
	"errors"
	"fmt"
)

// ErrTransport is the failure class for a round-trip that could not
// complete: the remote process is gone or the channel is broken. The
// bridge never retries on ErrTransport because plugin operations are not
// assumed idempotent; retry policy, if any, belongs to the caller.
var ErrTransport = errors.New("transport failure")

// ErrClosed is returned when an operation is attempted on a closed bridge
// or host.
var ErrClosed = errors.New("bridge is closed")

// RemoteError is a failure the remote handler itself reported. The
// round-trip completed; the operation failed on the other side.
type RemoteError struct {
	Service string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error for service %s: %s", e.Service, e.Message)
}
