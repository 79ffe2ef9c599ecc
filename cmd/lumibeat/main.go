package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lumibeat/lumibeat/internal/config"
	"github.com/lumibeat/lumibeat/internal/device"
	"github.com/lumibeat/lumibeat/internal/device/hue"
	"github.com/lumibeat/lumibeat/internal/effect"
	"github.com/lumibeat/lumibeat/internal/pipeline"
)

func main() {
	var (
		configPath string
		presetName string
		deviceSpec string
		discover   bool
		pairHost   string
		verbose    bool
	)

	flag.StringVar(&configPath, "config", "config.json", "path to configuration file")
	flag.StringVar(&presetName, "preset", "spectrum_analyzer", "effect preset type")
	flag.StringVar(&deviceSpec, "devices", "", "comma-separated kind=address pairs (e.g. magichome=10.0.0.9,hue=user@10.0.0.2/1)")
	flag.BoolVar(&discover, "discover", false, "scan the network for devices and exit")
	flag.StringVar(&pairHost, "pair-hue", "", "pair with a Hue bridge at the given host and exit")
	flag.BoolVar(&verbose, "verbose", false, "print every analysis frame")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if pairHost != "" {
		pairBridge(ctx, pairHost)
		return
	}
	if discover {
		runDiscovery(ctx, cfg)
		return
	}

	preset := &effect.Preset{
		Name:    presetName,
		Type:    effect.Type(presetName),
		Enabled: true,
	}

	endpoints, err := parseEndpoints(deviceSpec)
	if err != nil {
		log.Fatalf("devices: %v", err)
	}
	if len(endpoints) == 0 {
		log.Printf("no devices configured; running analysis only (use -devices or -discover)")
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}

	go printEvents(p, verbose)

	if err := p.Start(preset, endpoints); err != nil {
		log.Fatalf("start: %v", err)
	}

	<-ctx.Done()
	p.Stop()
	printMetrics(p)
}

// parseEndpoints builds device endpoints from kind=address pairs.
func parseEndpoints(spec string) ([]pipeline.Endpoint, error) {
	if spec == "" {
		return nil, nil
	}

	var endpoints []pipeline.Endpoint
	for i, part := range strings.Split(spec, ",") {
		kindStr, address, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("malformed device spec %q (want kind=address)", part)
		}
		kind := device.Kind(kindStr)
		backend, err := device.New(kind, address)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, pipeline.Endpoint{
			Device: device.Device{
				ID:           fmt.Sprintf("%s-%d", kind, i),
				Kind:         kind,
				Address:      address,
				Capabilities: backend.Capabilities(),
				State:        device.StateDiscovered,
			},
			Backend: backend,
		})
	}
	return endpoints, nil
}

// runDiscovery scans all registered kinds and prints what answered.
func runDiscovery(ctx context.Context, cfg *config.Config) {
	timeout := time.Duration(cfg.Discovery.TimeoutMs) * time.Millisecond
	log.Printf("scanning for devices (%v)...", timeout)

	found := device.DiscoverAll(ctx, timeout)
	if len(found) == 0 {
		fmt.Println("no devices found")
		return
	}
	for _, d := range found {
		fmt.Printf("%-10s %-20s %-18s %s\n", d.Kind, d.ID, d.Address, d.Model)
	}
}

// pairBridge runs the one-time Hue pairing handshake.
func pairBridge(ctx context.Context, host string) {
	for {
		user, err := hue.Pair(ctx, host, "lumibeat#cli")
		if err == nil {
			fmt.Printf("paired: use address %s@%s/<light-id>\n", user, host)
			return
		}
		if err != hue.ErrLinkButton {
			log.Fatalf("pairing failed: %v", err)
		}
		log.Printf("press the link button on the bridge...")
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

// printEvents relays the pipeline event stream to the log.
func printEvents(p *pipeline.Pipeline, verbose bool) {
	for e := range p.Events() {
		switch ev := e.(type) {
		case pipeline.AnalysisFrameEvent:
			if verbose {
				f := ev.Features
				log.Printf("[FRAME] seq=%d vol=%.2f beat=%v bpm=%.0f centroid=%.0fHz",
					f.Sequence, f.Volume, f.BeatDetected, f.TempoBPM, f.CentroidHz)
			}
		case pipeline.CaptureErrorEvent:
			log.Printf("[EVENT] capture error: %v", ev.Err)
		case pipeline.DeviceErrorEvent:
			log.Printf("[EVENT] device %s (%s) error: %v", ev.ID, ev.Kind, ev.Err)
		case pipeline.DeviceStateChangeEvent:
			log.Printf("[EVENT] device %s: %s -> %s", ev.ID, ev.From, ev.To)
		}
	}
}

// printMetrics dumps per-device dispatch counters at shutdown.
func printMetrics(p *pipeline.Pipeline) {
	for id, m := range p.Metrics() {
		log.Printf("[METRICS] %s: dispatched=%d failed=%d retried=%d rate_dropped=%d coalesced=%d last_latency=%v",
			id, m.Dispatched, m.Failed, m.Retried, m.RateDropped, m.Coalesced, m.LastLatency)
	}
}
