package mirror

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
)

// countingCaller records every round-trip so tests can assert which calls
// touched the transport and which were answered locally.
type countingCaller struct {
	calls    []string
	payloads [][]byte
	response []byte
	err      error
}

func (c *countingCaller) Call(ctx context.Context, name string, payload []byte) ([]byte, error) {
	c.calls = append(c.calls, name)
	c.payloads = append(c.payloads, payload)
	return c.response, c.err
}

// watcherOnly implements just the watcher extension.
type watcherOnly struct {
	notified int
}

func (w *watcherOnly) NotifyUnitByBusChange(ctx context.Context) error {
	w.notified++
	return nil
}

// fullComponent implements both mirrored extensions.
type fullComponent struct {
	watcherOnly
	names []string
}

func (f *fullComponent) UnitCount() int32 {
	return int32(len(f.names))
}

func (f *fullComponent) UnitName(ctx context.Context, index int32) (string, error) {
	if index < 0 || int(index) >= len(f.names) {
		return "", errors.New("unit index out of range")
	}
	return f.names[index], nil
}

type bareComponent struct{}

func TestProbeUnitWatcher(t *testing.T) {
	if args := ProbeUnitWatcher(&watcherOnly{}); !args.Supported {
		t.Error("probe missed an implementing component")
	}
	if args := ProbeUnitWatcher(bareComponent{}); args.Supported {
		t.Error("probe claimed support on a bare component")
	}
}

func TestProbeUnitInfo(t *testing.T) {
	component := &fullComponent{names: []string{"Root", "Oscillators", "Filters"}}

	args := ProbeUnitInfo(component)
	if !args.Supported {
		t.Fatal("probe missed an implementing component")
	}
	if args.UnitCount != 3 {
		t.Errorf("UnitCount = %d, want 3", args.UnitCount)
	}

	if args := ProbeUnitInfo(&watcherOnly{}); args.Supported || args.UnitCount != 0 {
		t.Errorf("bare probe = %+v, want zero value", args)
	}
}

func TestUnitWatcherProxy_UnsupportedFailsFast(t *testing.T) {
	caller := &countingCaller{}
	proxy := NewUnitWatcherProxy(caller, 7, UnitWatcherArgs{Supported: false})

	err := proxy.NotifyUnitByBusChange(context.Background())
	if !errors.Is(err, ErrUnsupportedInterface) {
		t.Fatalf("got %v, want ErrUnsupportedInterface", err)
	}
	if len(caller.calls) != 0 {
		t.Errorf("unsupported call touched the transport: %v", caller.calls)
	}
}

func TestUnitWatcherProxy_ForwardsWithInstanceID(t *testing.T) {
	caller := &countingCaller{}
	proxy := NewUnitWatcherProxy(caller, 0xDEADBEEF, UnitWatcherArgs{Supported: true})

	if err := proxy.NotifyUnitByBusChange(context.Background()); err != nil {
		t.Fatalf("NotifyUnitByBusChange failed: %v", err)
	}

	if len(caller.calls) != 1 || caller.calls[0] != ServiceUnitWatcherNotify {
		t.Fatalf("calls = %v", caller.calls)
	}
	if id := binary.BigEndian.Uint64(caller.payloads[0]); id != 0xDEADBEEF {
		t.Errorf("payload carries instance id %#x", id)
	}
}

func TestUnitWatcherProxy_CloseReleasesOnce(t *testing.T) {
	caller := &countingCaller{}
	proxy := NewUnitWatcherProxy(caller, 3, UnitWatcherArgs{Supported: true})

	if err := proxy.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := proxy.Close(context.Background()); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	releases := 0
	for _, name := range caller.calls {
		if name == ServiceReleaseInstance {
			releases++
		}
	}
	if releases != 1 {
		t.Errorf("release sent %d times, want exactly once", releases)
	}
}

func TestUnitInfoProxy_CountAnsweredLocally(t *testing.T) {
	caller := &countingCaller{}
	proxy := NewUnitInfoProxy(caller, 5, UnitInfoArgs{Supported: true, UnitCount: 12})

	if got := proxy.UnitCount(); got != 12 {
		t.Errorf("UnitCount = %d, want 12", got)
	}
	if len(caller.calls) != 0 {
		t.Errorf("UnitCount touched the transport: %v", caller.calls)
	}
}

func TestUnitInfoProxy_UnitNameRoundTrip(t *testing.T) {
	caller := &countingCaller{response: []byte("Oscillators")}
	proxy := NewUnitInfoProxy(caller, 5, UnitInfoArgs{Supported: true, UnitCount: 2})

	name, err := proxy.UnitName(context.Background(), 1)
	if err != nil {
		t.Fatalf("UnitName failed: %v", err)
	}
	if name != "Oscillators" {
		t.Errorf("name = %q", name)
	}

	payload := caller.payloads[0]
	if len(payload) != 12 {
		t.Fatalf("request payload is %d bytes, want 12", len(payload))
	}
	if id := binary.BigEndian.Uint64(payload[:8]); id != 5 {
		t.Errorf("instance id = %d", id)
	}
	if index := binary.BigEndian.Uint32(payload[8:12]); index != 1 {
		t.Errorf("index = %d", index)
	}
}

func TestUnitInfoProxy_UnsupportedFailsFast(t *testing.T) {
	caller := &countingCaller{}
	proxy := NewUnitInfoProxy(caller, 5, UnitInfoArgs{})

	if _, err := proxy.UnitName(context.Background(), 0); !errors.Is(err, ErrUnsupportedInterface) {
		t.Fatalf("got %v, want ErrUnsupportedInterface", err)
	}
	if len(caller.calls) != 0 {
		t.Errorf("unsupported call touched the transport: %v", caller.calls)
	}
}

func TestCapabilityArgs_RoundTrip(t *testing.T) {
	watcher := UnitWatcherArgs{Supported: true}
	data, err := watcher.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	var decodedWatcher UnitWatcherArgs
	if err := decodedWatcher.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}
	if decodedWatcher != watcher {
		t.Errorf("got %+v, want %+v", decodedWatcher, watcher)
	}

	info := UnitInfoArgs{Supported: true, UnitCount: -4}
	data, err = info.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	var decodedInfo UnitInfoArgs
	if err := decodedInfo.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}
	if decodedInfo != info {
		t.Errorf("got %+v, want %+v", decodedInfo, info)
	}

	var short UnitInfoArgs
	if err := short.UnmarshalBinary([]byte{1}); err == nil {
		t.Error("expected an error for a truncated descriptor")
	}
}
