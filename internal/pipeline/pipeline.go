// Package pipeline wires the capture, analysis, effect and fan-out
// stages into one supervised data flow and exposes the embedder API.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumibeat/lumibeat/internal/audio"
	"github.com/lumibeat/lumibeat/internal/config"
	"github.com/lumibeat/lumibeat/internal/device"
	"github.com/lumibeat/lumibeat/internal/dsp"
	"github.com/lumibeat/lumibeat/internal/effect"
	"github.com/lumibeat/lumibeat/internal/scheduler"
)

// Shutdown deadlines per stage.
const (
	analyserDrainTimeout  = 200 * time.Millisecond
	schedulerDrainTimeout = 500 * time.Millisecond

	featureQueueDepth = 16
	eventQueueDepth   = 256
)

// Endpoint pairs a device record with its connected-to-be backend.
type Endpoint struct {
	Device  device.Device
	Backend device.Backend
}

// Pipeline is one running audio-to-light graph.
type Pipeline struct {
	cfg    *config.Config
	events *eventBus
	logger *log.Logger

	// sourceFactory overrides the capture source; nil selects by
	// configuration.
	sourceFactory audio.SourceFactory

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	capture *audio.Capture
	engine  *effect.Engine
	sched   *scheduler.Scheduler
	groups  map[string][]string
}

// New creates a pipeline from configuration, validating it first.
func New(cfg *config.Config) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.CreateDefault()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:    cfg,
		events: newEventBus(eventQueueDepth),
		logger: log.Default(),
		groups: make(map[string][]string),
	}, nil
}

// SetLogger installs an injectable log sink. It must be called before
// Start.
func (p *Pipeline) SetLogger(logger *log.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// SetSourceFactory overrides the capture source, primarily for tests
// and embedders with their own audio plumbing. Must be called before
// Start.
func (p *Pipeline) SetSourceFactory(factory audio.SourceFactory) {
	p.sourceFactory = factory
}

// DefineGroup names a set of device ids that presets can target via
// their group selector.
func (p *Pipeline) DefineGroup(id string, deviceIDs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.groups[id] = append([]string(nil), deviceIDs...)
}

// Events is the pull-based event stream for the embedder.
func (p *Pipeline) Events() <-chan Event {
	return p.events.events()
}

// Start spins up all stages with the given preset and device set.
func (p *Pipeline) Start(preset *effect.Preset, endpoints []Endpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("pipeline already running")
	}

	engine := effect.NewEngine(p.cfg.Effect.DeadBandRGB, p.cfg.Effect.DeadBandBrightness)
	sched := scheduler.New(p.cfg, scheduler.Callbacks{
		OnConfirm: engine.Confirm,
		OnDeviceError: func(id string, kind device.Kind, err error) {
			p.events.publish(DeviceErrorEvent{ID: id, Kind: kind, Err: err})
		},
		OnStateChange: func(id string, from, to device.State) {
			p.events.publish(DeviceStateChangeEvent{ID: id, From: from, To: to})
		},
	})
	sched.SetDrainTimeout(schedulerDrainTimeout)

	for _, ep := range endpoints {
		if err := sched.AddDevice(ep.Device, ep.Backend); err != nil {
			p.logger.Printf("[PIPELINE] skipping device %s: %v", ep.Device.ID, err)
			p.events.publish(DeviceErrorEvent{ID: ep.Device.ID, Kind: ep.Device.Kind, Err: err})
		}
	}

	if err := engine.SetPreset(preset, p.resolveTargetsLocked(preset, sched)); err != nil {
		p.logger.Printf("[PIPELINE] preset: %v", err)
	}

	capture := audio.NewCapture(p.cfg.Audio, p.captureFactory(), func(err error) {
		p.events.publish(CaptureErrorEvent{Err: err})
	})

	analyzer, err := dsp.NewAnalyzer(p.cfg)
	if err != nil {
		sched.Stop()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	features := make(chan dsp.Features, featureQueueDepth)

	group.Go(func() error {
		return capture.Run(ctx)
	})
	group.Go(func() error {
		defer close(features)
		p.analyseLoop(ctx, capture, analyzer, features)
		return nil
	})
	group.Go(func() error {
		p.effectLoop(engine, sched, features)
		return nil
	})

	p.running = true
	p.cancel = cancel
	p.group = group
	p.capture = capture
	p.engine = engine
	p.sched = sched
	p.logger.Printf("[PIPELINE] started with %d device(s)", len(endpoints))
	return nil
}

// Stop shuts the stages down in flow order: capture first, then a
// bounded analyser drain, then the scheduler's outbox drain. Devices
// stay connected but idle. Exceeding a stage deadline is logged, not
// fatal.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	group := p.group
	sched := p.sched
	capture := p.capture
	p.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(analyserDrainTimeout + schedulerDrainTimeout + time.Second):
		p.logger.Printf("[PIPELINE] stages exceeded shutdown deadline")
	}
	sched.Stop()
	p.logger.Printf("[PIPELINE] stopped (capture dropped %d blocks)", capture.Dropped())
}

// ReplacePreset atomically swaps the active preset; queued commands are
// left alone.
func (p *Pipeline) ReplacePreset(preset *effect.Preset) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return fmt.Errorf("pipeline not running")
	}
	return p.engine.SetPreset(preset, p.resolveTargetsLocked(preset, p.sched))
}

// AddDevice connects and registers a device while running.
func (p *Pipeline) AddDevice(ep Endpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return fmt.Errorf("pipeline not running")
	}
	return p.sched.AddDevice(ep.Device, ep.Backend)
}

// RemoveDevice drops a device; in-flight commands are cancelled at the
// next token boundary.
func (p *Pipeline) RemoveDevice(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return fmt.Errorf("pipeline not running")
	}
	p.engine.Forget(id)
	return p.sched.RemoveDevice(id)
}

// Devices returns the scheduler's device snapshot.
func (p *Pipeline) Devices() []device.Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sched == nil {
		return nil
	}
	return p.sched.Devices()
}

// Metrics returns per-device dispatch counters.
func (p *Pipeline) Metrics() map[string]scheduler.Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sched == nil {
		return nil
	}
	return p.sched.Metrics()
}

// analyseLoop processes blocks strictly in order; a failing frame is
// dropped, never propagated. After cancellation it drains what the
// capture queue still holds, bounded by the analyser deadline.
func (p *Pipeline) analyseLoop(ctx context.Context, capture *audio.Capture, analyzer *dsp.Analyzer, features chan dsp.Features) {
	process := func(block audio.Block) {
		f, err := analyzer.Process(block.Samples, block.Timestamp, block.Sequence)
		if err != nil {
			p.logger.Printf("[ANALYZER] dropping block %d: %v", block.Sequence, err)
			return
		}
		p.events.publish(AnalysisFrameEvent{Features: f})
		pushFeature(features, f)
	}

	for {
		select {
		case block, ok := <-capture.Blocks():
			if !ok {
				return
			}
			process(block)
		case <-ctx.Done():
			// Capture is stopping and will close its queue; drain what
			// remains under the stage deadline.
			deadline := time.After(analyserDrainTimeout)
			for {
				select {
				case block, ok := <-capture.Blocks():
					if !ok {
						return
					}
					process(block)
				case <-deadline:
					p.logger.Printf("[ANALYZER] drain deadline exceeded")
					return
				}
			}
		}
	}
}

// pushFeature enqueues with a drop-oldest policy: stale features are
// worthless once a newer frame exists.
func pushFeature(features chan dsp.Features, f dsp.Features) {
	for {
		select {
		case features <- f:
			return
		default:
		}
		select {
		case <-features: // shed oldest
		default:
		}
	}
}

// effectLoop evaluates the active preset for each feature record and
// submits the resulting commands.
func (p *Pipeline) effectLoop(engine *effect.Engine, sched *scheduler.Scheduler, features <-chan dsp.Features) {
	for f := range features {
		for _, cmd := range engine.Evaluate(f) {
			sched.Submit(cmd)
		}
	}
}

// resolveTargetsLocked expands a preset's device or group selector
// against the scheduler's device set. An empty selector targets every
// registered device.
func (p *Pipeline) resolveTargetsLocked(preset *effect.Preset, sched *scheduler.Scheduler) []string {
	if preset == nil {
		return nil
	}
	if len(preset.DeviceIDs) > 0 {
		return append([]string(nil), preset.DeviceIDs...)
	}
	if preset.GroupID != "" {
		return append([]string(nil), p.groups[preset.GroupID]...)
	}
	var ids []string
	for _, d := range sched.Devices() {
		ids = append(ids, d.ID)
	}
	return ids
}

// captureFactory selects the configured capture source.
func (p *Pipeline) captureFactory() audio.SourceFactory {
	if p.sourceFactory != nil {
		return p.sourceFactory
	}
	cfg := p.cfg.Audio
	if cfg.Source == config.SourceSynthetic {
		return func() (audio.Source, error) {
			return audio.NewSyntheticSource(audio.SignalNoise, cfg.SampleRate, cfg.Channels, audio.WithPacing())
		}
	}
	return func() (audio.Source, error) {
		return audio.OpenSystemSource(cfg)
	}
}
