package mirror

import (
	"context"
	"fmt"
	"sync"

	"github.com/crossproc/bridge.go/lib/bridge"
)

// UnitWatcher is the exemplar optional extension interface: a component
// that implements it wants to be told when its unit layout changed because
// of a bus change.
type UnitWatcher interface {
	NotifyUnitByBusChange(ctx context.Context) error
}

// UnitWatcherArgs is the capability descriptor for UnitWatcher. It is
// constructed exactly once, immediately after the real component exists,
// by ProbeUnitWatcher, and is immutable afterwards.
type UnitWatcherArgs struct {
	Supported bool
}

// ProbeUnitWatcher asks the real component whether it implements
// UnitWatcher. Probe failure is recorded in Supported, never returned.
func ProbeUnitWatcher(component any) UnitWatcherArgs {
	_, ok := component.(UnitWatcher)
	return UnitWatcherArgs{Supported: ok}
}

// unitWatcherArgsSize is the wire size: one byte for the supported flag.
const unitWatcherArgsSize = 1

// MarshalBinary encodes the descriptor; booleans are single bytes.
func (a UnitWatcherArgs) MarshalBinary() ([]byte, error) {
	buf := make([]byte, unitWatcherArgsSize)
	if a.Supported {
		buf[0] = 1
	}
	return buf, nil
}

// UnmarshalBinary decodes the descriptor.
func (a *UnitWatcherArgs) UnmarshalBinary(data []byte) error {
	if len(data) < unitWatcherArgsSize {
		return fmt.Errorf("unit watcher args too short: %d bytes", len(data))
	}
	a.Supported = data[0] == 1
	return nil
}

// UnitWatcherProxy implements UnitWatcher by forwarding every call across
// the process boundary to the real component, identified remotely by its
// instance id. The proxy holds no strong reference to the remote
// component; the remote registry owns it until Close sends the release
// notification.
type UnitWatcherProxy struct {
	args       UnitWatcherArgs
	instanceID uint64
	caller     bridge.Caller
	release    sync.Once
}

// NewUnitWatcherProxy constructs a proxy from a received capability
// descriptor.
func NewUnitWatcherProxy(caller bridge.Caller, instanceID uint64, args UnitWatcherArgs) *UnitWatcherProxy {
	return &UnitWatcherProxy{args: args, instanceID: instanceID, caller: caller}
}

// Supported reports the probe result. Callers must check it before
// invoking any mirrored operation.
func (p *UnitWatcherProxy) Supported() bool {
	return p.args.Supported
}

// InstanceID identifies the remote component this proxy stands in for.
func (p *UnitWatcherProxy) InstanceID() uint64 {
	return p.instanceID
}

// NotifyUnitByBusChange forwards the notification to the real component.
// When the probe reported no support, it fails with
// ErrUnsupportedInterface without touching the transport. The call is
// never retried: the notification must reach the component at most once.
func (p *UnitWatcherProxy) NotifyUnitByBusChange(ctx context.Context) error {
	if !p.args.Supported {
		return fmt.Errorf("%w: UnitWatcher", ErrUnsupportedInterface)
	}
	if _, err := p.caller.Call(ctx, ServiceUnitWatcherNotify, encodeInstanceID(p.instanceID)); err != nil {
		return err
	}
	return nil
}

// Close releases the host's reference to the remote component. The remote
// side drops it from its registry; the notification is sent at most once.
func (p *UnitWatcherProxy) Close(ctx context.Context) error {
	var err error
	p.release.Do(func() {
		_, err = p.caller.Call(ctx, ServiceReleaseInstance, encodeInstanceID(p.instanceID))
	})
	return err
}
