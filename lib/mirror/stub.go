package mirror

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/crossproc/bridge.go/lib/bridge"
)

// InstanceDescriptor is the serialized result of creating a component on
// the remote side: the instance id plus the capability descriptor of every
// mirrored extension, probed once against the fresh component.
type InstanceDescriptor struct {
	ID      uint64
	Watcher UnitWatcherArgs
	Info    UnitInfoArgs
}

// Wire layout: [id:8][watcher args][info args].
const instanceDescriptorSize = 8 + unitWatcherArgsSize + unitInfoArgsSize

// MarshalBinary encodes the descriptor for the wire.
func (d InstanceDescriptor) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, instanceDescriptorSize)
	buf = binary.BigEndian.AppendUint64(buf, d.ID)

	watcher, err := d.Watcher.MarshalBinary()
	if err != nil {
		return nil, err
	}
	buf = append(buf, watcher...)

	info, err := d.Info.MarshalBinary()
	if err != nil {
		return nil, err
	}
	buf = append(buf, info...)
	return buf, nil
}

// UnmarshalBinary decodes the descriptor from the wire.
func (d *InstanceDescriptor) UnmarshalBinary(data []byte) error {
	if len(data) < instanceDescriptorSize {
		return fmt.Errorf("instance descriptor too short: %d bytes", len(data))
	}
	d.ID = binary.BigEndian.Uint64(data[:8])
	data = data[8:]

	if err := d.Watcher.UnmarshalBinary(data[:unitWatcherArgsSize]); err != nil {
		return err
	}
	data = data[unitWatcherArgsSize:]

	return d.Info.UnmarshalBinary(data[:unitInfoArgsSize])
}

// Factory produces one real component instance on the side that owns it.
type Factory func() (any, error)

// RegisterStubs installs the mirrored call surface on a Host: instance
// creation, release, and the stub for every mirrored operation. Each stub
// resolves the target component through the registry and applies the call
// to it, returning exactly what the component returned.
func RegisterStubs(host *bridge.Host, registry *Registry, factory Factory) {
	host.Register(ServiceCreateInstance, func(ctx context.Context, payload []byte) ([]byte, error) {
		component, err := factory()
		if err != nil {
			return nil, fmt.Errorf("factory failed: %w", err)
		}
		inst, err := registry.Register(component)
		if err != nil {
			return nil, err
		}

		descriptor := InstanceDescriptor{
			ID:      inst.ID,
			Watcher: ProbeUnitWatcher(component),
			Info:    ProbeUnitInfo(component),
		}
		return descriptor.MarshalBinary()
	})

	host.Register(ServiceReleaseInstance, func(ctx context.Context, payload []byte) ([]byte, error) {
		id, err := decodeInstanceID(payload)
		if err != nil {
			return nil, err
		}
		if err := registry.Unregister(id); err != nil {
			return nil, err
		}
		return nil, nil
	})

	host.Register(ServiceUnitWatcherNotify, func(ctx context.Context, payload []byte) ([]byte, error) {
		watcher, err := resolveAs[UnitWatcher](registry, payload, "UnitWatcher")
		if err != nil {
			return nil, err
		}
		if err := watcher.NotifyUnitByBusChange(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	})

	host.Register(ServiceUnitInfoUnitName, func(ctx context.Context, payload []byte) ([]byte, error) {
		info, err := resolveAs[UnitInfo](registry, payload, "UnitInfo")
		if err != nil {
			return nil, err
		}
		if len(payload) < 12 {
			return nil, fmt.Errorf("unit name request too short: %d bytes", len(payload))
		}
		index := int32(binary.BigEndian.Uint32(payload[8:12]))

		name, err := info.UnitName(ctx, index)
		if err != nil {
			return nil, err
		}
		return []byte(name), nil
	})
}

// resolveAs looks up the instance addressed by the payload's leading id
// and asserts the requested extension interface. A failed assertion means
// the proxy side ignored its capability descriptor.
func resolveAs[T any](registry *Registry, payload []byte, name string) (T, error) {
	var zero T

	id, err := decodeInstanceID(payload)
	if err != nil {
		return zero, err
	}
	component, exists := registry.Resolve(id)
	if !exists {
		return zero, fmt.Errorf("no instance registered under id %d", id)
	}
	typed, ok := component.(T)
	if !ok {
		return zero, fmt.Errorf("%w: instance %d does not implement %s", ErrUnsupportedInterface, id, name)
	}
	return typed, nil
}

// RemoteInstance is the host-side view of one component created remotely:
// the instance id and a proxy per mirrored extension.
type RemoteInstance struct {
	ID      uint64
	Watcher *UnitWatcherProxy
	Info    *UnitInfoProxy
}

// CreateInstance asks the remote side to create a component through its
// registered factory and builds proxies from the returned capability
// descriptors.
func CreateInstance(ctx context.Context, caller bridge.Caller) (*RemoteInstance, error) {
	response, err := caller.Call(ctx, ServiceCreateInstance, nil)
	if err != nil {
		return nil, err
	}

	var descriptor InstanceDescriptor
	if err := descriptor.UnmarshalBinary(response); err != nil {
		return nil, fmt.Errorf("malformed instance descriptor: %w", err)
	}

	return &RemoteInstance{
		ID:      descriptor.ID,
		Watcher: NewUnitWatcherProxy(caller, descriptor.ID, descriptor.Watcher),
		Info:    NewUnitInfoProxy(caller, descriptor.ID, descriptor.Info),
	}, nil
}

// Release drops the remote component. The watcher proxy owns the
// instance reference; the info proxy borrows it.
func (ri *RemoteInstance) Release(ctx context.Context) error {
	return ri.Watcher.Close(ctx)
}
