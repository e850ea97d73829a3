// The host side: spawns the remote host binary, creates a component
// through it, and drives the mirrored interfaces.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/crossproc/bridge.go/lib/bridge"
	"github.com/crossproc/bridge.go/lib/config"
	"github.com/crossproc/bridge.go/lib/mirror"
)

func main() {
	remotePath := flag.String("remote", "./remote", "path to the remote host binary")
	configPath := flag.String("config", "", "optional group configuration file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}
	payload, err := cfg.Marshal()
	if err != nil {
		log.Fatalf("failed to marshal config: %v", err)
	}

	b, err := bridge.New(
		&bridge.StdioProvider{Path: *remotePath},
		bridge.WithConfigPayload(payload),
	)
	if err != nil {
		log.Fatalf("failed to create bridge: %v", err)
	}

	b.RegisterNotifyHandler("unit_layout_changed", func(ctx context.Context, payload []byte) error {
		fmt.Println("remote component reports a unit layout change")
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := b.Connect(ctx); err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer b.Close()

	instance, err := mirror.CreateInstance(ctx, b)
	if err != nil {
		log.Fatalf("failed to create remote instance: %v", err)
	}
	defer instance.Release(ctx)

	if instance.Info.Supported() {
		count := instance.Info.UnitCount()
		fmt.Printf("remote component has %d units\n", count)
		for i := int32(0); i < count; i++ {
			name, err := instance.Info.UnitName(ctx, i)
			if err != nil {
				log.Fatalf("failed to resolve unit %d: %v", i, err)
			}
			fmt.Printf("  unit %d: %s\n", i, name)
		}
	}

	if instance.Watcher.Supported() {
		if err := instance.Watcher.NotifyUnitByBusChange(ctx); err != nil {
			log.Fatalf("failed to notify bus change: %v", err)
		}
	}

	// Give the layout-change notification time to arrive before closing.
	time.Sleep(100 * time.Millisecond)
}
