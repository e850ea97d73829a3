// Package mirror implements the interface-mirroring pattern: for each
// optional extension interface a component may implement, the side that
// owns the real component probes it exactly once, serializes the resulting
// capability descriptor across the process boundary, and the other side
// constructs a proxy that either forwards every call or fails fast.
//
// Two exemplar interfaces are mirrored here, UnitWatcher and UnitInfo.
// Every further mirrored interface is a mechanical instantiation of the
// same three pieces: a probe producing serializable args, a proxy
// implementing the call surface over a bridge.Caller, and a stub applying
// received calls to the real component.
package mirror

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnsupportedInterface is returned by a mirrored operation whose
// capability probe reported no support. Callers are expected to check
// Supported() first; hitting this error is a programming error, not a
// condition to retry.
var ErrUnsupportedInterface = errors.New("interface not supported by component")

// Service names for the mirrored call surface. The naming convention is
// <interface>.<operation>.
const (
	ServiceCreateInstance    = "instance.create"
	ServiceReleaseInstance   = "instance.release"
	ServiceUnitWatcherNotify = "unit_watcher.notify_unit_by_bus_change"
	ServiceUnitInfoUnitName  = "unit_info.unit_name"
)

func encodeInstanceID(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

func decodeInstanceID(data []byte) (uint64, error) {
	if len(data) < 8 {
		return 0, fmt.Errorf("payload too short for instance id: %d bytes", len(data))
	}
	return binary.BigEndian.Uint64(data[:8]), nil
}
