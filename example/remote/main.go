// The remote host process: spawned by the host side, it runs the event
// loop, owns the real component instances, and serves the mirrored call
// surface over stdin/stdout.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/crossproc/bridge.go/lib/bridge"
	"github.com/crossproc/bridge.go/lib/config"
	"github.com/crossproc/bridge.go/lib/eventloop"
	"github.com/crossproc/bridge.go/lib/mirror"
	"github.com/crossproc/bridge.go/lib/native"
)

// sampler is a demo component: it supports both mirrored extensions and
// wants a dedicated processing thread.
type sampler struct {
	host  *bridge.Host
	units []string
}

func newSampler(host *bridge.Host) *sampler {
	return &sampler{
		host:  host,
		units: []string{"Master", "Oscillator A", "Oscillator B"},
	}
}

func (s *sampler) NotifyUnitByBusChange(ctx context.Context) error {
	return s.host.NotifyHost(ctx, "unit_layout_changed", nil)
}

func (s *sampler) UnitCount() int32 {
	return int32(len(s.units))
}

func (s *sampler) UnitName(ctx context.Context, index int32) (string, error) {
	if index < 0 || int(index) >= len(s.units) {
		return "", fmt.Errorf("unit index %d out of range", index)
	}
	return s.units[index], nil
}

func (s *sampler) ProcessLoop(stop <-chan struct{}) {
	// A real plugin would service its processing callbacks here.
	<-stop
}

func main() {
	logger := log.New(os.Stderr, "remote: ", log.LstdFlags)

	scheduler := eventloop.New()
	pump := native.NewMessagePump(0)
	registry := mirror.NewRegistry()
	defer registry.Close()

	host := bridge.NewHost(os.Stdin, os.Stdout,
		bridge.WithDispatcher(scheduler.Dispatch),
		bridge.WithHostLogger(logger),
		bridge.WithConfigHook(func(payload []byte) error {
			cfg, err := config.Parse(payload)
			if err != nil {
				return err
			}
			logger.Printf("joined group %s", cfg.Group)
			return nil
		}),
	)
	mirror.RegisterStubs(host, registry, func() (any, error) {
		return newSampler(host), nil
	})

	// The pump tick that keeps native events flowing.
	timer, err := native.StartTimer(pump, 1, eventloop.DefaultInterval)
	if err != nil {
		logger.Fatalf("failed to arm event timer: %v", err)
	}
	defer timer.Stop()

	scheduler.AsyncHandleEvents(func() {
		pump.Drain(func(native.Message) {})
	})

	go func() {
		defer scheduler.Stop()
		if err := host.Serve(context.Background()); err != nil {
			logger.Printf("serve finished: %v", err)
		}
	}()

	scheduler.Run()
}
