package mirror

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/crossproc/bridge.go/lib/bridge"
)

// UnitInfo is the richer exemplar extension: alongside the supported flag,
// its probe captures static metadata so the proxy can answer cheap queries
// locally instead of paying a round-trip per call.
type UnitInfo interface {
	// UnitCount is static for the lifetime of the component.
	UnitCount() int32
	// UnitName resolves the display name of one unit.
	UnitName(ctx context.Context, index int32) (string, error)
}

// UnitInfoArgs is the capability descriptor for UnitInfo: the supported
// flag plus the unit count captured at probe time.
type UnitInfoArgs struct {
	Supported bool
	UnitCount int32
}

// ProbeUnitInfo queries the real component for UnitInfo support and, when
// present, captures the unit count.
func ProbeUnitInfo(component any) UnitInfoArgs {
	info, ok := component.(UnitInfo)
	if !ok {
		return UnitInfoArgs{}
	}
	return UnitInfoArgs{Supported: true, UnitCount: info.UnitCount()}
}

// Wire layout: [supported:1][unitCount:4].
const unitInfoArgsSize = 1 + 4

// MarshalBinary encodes the descriptor.
func (a UnitInfoArgs) MarshalBinary() ([]byte, error) {
	buf := make([]byte, unitInfoArgsSize)
	if a.Supported {
		buf[0] = 1
	}
	binary.BigEndian.PutUint32(buf[1:5], uint32(a.UnitCount))
	return buf, nil
}

// UnmarshalBinary decodes the descriptor.
func (a *UnitInfoArgs) UnmarshalBinary(data []byte) error {
	if len(data) < unitInfoArgsSize {
		return fmt.Errorf("unit info args too short: %d bytes", len(data))
	}
	a.Supported = data[0] == 1
	a.UnitCount = int32(binary.BigEndian.Uint32(data[1:5]))
	return nil
}

// UnitInfoProxy implements UnitInfo across the process boundary. UnitCount
// is served from the descriptor captured at probe time; UnitName performs
// a round-trip.
type UnitInfoProxy struct {
	args       UnitInfoArgs
	instanceID uint64
	caller     bridge.Caller
}

// NewUnitInfoProxy constructs a proxy from a received capability
// descriptor.
func NewUnitInfoProxy(caller bridge.Caller, instanceID uint64, args UnitInfoArgs) *UnitInfoProxy {
	return &UnitInfoProxy{args: args, instanceID: instanceID, caller: caller}
}

// Supported reports the probe result.
func (p *UnitInfoProxy) Supported() bool {
	return p.args.Supported
}

// UnitCount answers locally from the probe-time snapshot.
func (p *UnitInfoProxy) UnitCount() int32 {
	return p.args.UnitCount
}

// UnitName forwards the lookup to the real component.
func (p *UnitInfoProxy) UnitName(ctx context.Context, index int32) (string, error) {
	if !p.args.Supported {
		return "", fmt.Errorf("%w: UnitInfo", ErrUnsupportedInterface)
	}

	request := make([]byte, 8+4)
	binary.BigEndian.PutUint64(request[:8], p.instanceID)
	binary.BigEndian.PutUint32(request[8:12], uint32(index))

	response, err := p.caller.Call(ctx, ServiceUnitInfoUnitName, request)
	if err != nil {
		return "", err
	}
	return string(response), nil
}
