package effect

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/lumibeat/lumibeat/internal/device"
	"github.com/lumibeat/lumibeat/internal/dsp"
)

// Engine evaluates the active preset against each feature record and
// emits device commands. It keeps a per-device "last sent" snapshot for
// dead-band suppression, updated only when the scheduler confirms a
// dispatch via Confirm.
type Engine struct {
	deadBandRGB int
	deadBandBri int

	mu      sync.RWMutex // guards preset, targets and per-preset state
	preset  *Preset
	targets []string

	pulseActive bool
	pulseStart  time.Time
	huePhase    float64 // degrees

	sentMu   sync.Mutex
	lastSent map[string]*snapshot
}

// snapshot is the last confirmed state per device and verb family.
type snapshot struct {
	hasColor bool
	r, g, b  uint8

	hasBri bool
	bri    uint8

	hasPower bool
	on       bool

	effect string
}

// NewEngine creates an engine with the given dead-band thresholds.
func NewEngine(deadBandRGB, deadBandBrightness int) *Engine {
	return &Engine{
		deadBandRGB: deadBandRGB,
		deadBandBri: deadBandBrightness,
		lastSent:    make(map[string]*snapshot),
	}
}

// SetPreset atomically swaps the active preset and resolved target
// device ids, resetting per-preset state. Parameter errors fall back to
// static black; unknown types deactivate the engine.
func (e *Engine) SetPreset(p *Preset, targets []string) error {
	var applyErr error
	if p != nil {
		if err := p.Validate(); err != nil {
			applyErr = err
			if _, ok := err.(*ParameterError); ok {
				log.Printf("[EFFECT] %v, falling back to static black", err)
				p = FallbackStatic(targets)
			} else {
				log.Printf("[EFFECT] %v, ignoring preset", err)
				p = nil
			}
		}
	}

	e.mu.Lock()
	e.preset = p
	e.targets = targets
	e.pulseActive = false
	e.pulseStart = time.Time{}
	e.huePhase = 0
	e.mu.Unlock()
	return applyErr
}

// Confirm records a successfully dispatched command so dead-band
// suppression compares against what the device actually shows.
func (e *Engine) Confirm(cmd device.Command) {
	e.sentMu.Lock()
	defer e.sentMu.Unlock()

	snap := e.lastSent[cmd.DeviceID]
	if snap == nil {
		snap = &snapshot{}
		e.lastSent[cmd.DeviceID] = snap
	}
	switch cmd.Verb {
	case device.VerbSetColor:
		snap.hasColor = true
		snap.r, snap.g, snap.b = cmd.R, cmd.G, cmd.B
	case device.VerbSetBrightness:
		snap.hasBri = true
		snap.bri = cmd.Brightness
	case device.VerbPower:
		snap.hasPower = true
		snap.on = cmd.On
	case device.VerbSetEffect:
		snap.effect = cmd.Effect
	}
}

// Forget drops the snapshot for a removed device.
func (e *Engine) Forget(deviceID string) {
	e.sentMu.Lock()
	defer e.sentMu.Unlock()
	delete(e.lastSent, deviceID)
}

// Evaluate maps one feature record into commands for the active
// preset's targets. It is deterministic given the preset state and must
// be called from a single goroutine.
func (e *Engine) Evaluate(f dsp.Features) []device.Command {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p := e.preset
	if p == nil || !p.Enabled || len(e.targets) == 0 {
		return nil
	}

	switch p.Type {
	case TypeVolumeReactive:
		return e.evalVolumeReactive(p, f)
	case TypeBeatPulse:
		return e.evalBeatPulse(p, f)
	case TypeFrequencyColor:
		return e.evalFrequencyColor(f)
	case TypeSpectrumAnalyzer:
		return e.evalSpectrumAnalyzer(f)
	case TypeMoodLighting:
		return e.evalMoodLighting(f)
	case TypePartyMode:
		return e.evalPartyMode(p, f)
	case TypeStatic:
		return e.evalStatic(p, f)
	}
	return nil
}

func (e *Engine) evalVolumeReactive(p *Preset, f dsp.Features) []device.Command {
	bri := clampByte(math.Round(f.Volume*255), p.VolumeReactive.BrightnessMin, p.VolumeReactive.BrightnessMax)
	return e.brightnessAll(f, bri, device.PriorityBrightness)
}

func (e *Engine) evalBeatPulse(p *Preset, f dsp.Features) []device.Command {
	hold := time.Duration(p.BeatPulse.HoldMs) * time.Millisecond

	if f.BeatDetected {
		e.pulseActive = true
		e.pulseStart = f.Timestamp

		var cmds []device.Command
		for _, id := range e.targets {
			if e.shouldSendPower(id, true) {
				cmds = append(cmds, device.Command{
					DeviceID: id, Verb: device.VerbPower, On: true,
					Priority: device.PriorityBeat, Created: f.Timestamp,
				})
			}
			if e.shouldSendBrightness(id, p.BeatPulse.Attack) {
				cmds = append(cmds, device.Command{
					DeviceID: id, Verb: device.VerbSetBrightness, Brightness: p.BeatPulse.Attack,
					Priority: device.PriorityBeat, Created: f.Timestamp,
				})
			}
		}
		return cmds
	}

	if e.pulseActive && f.Timestamp.Sub(e.pulseStart) >= hold {
		e.pulseActive = false
		return e.brightnessAll(f, p.BeatPulse.Decay, device.PriorityBeat)
	}
	return nil
}

func (e *Engine) evalFrequencyColor(f dsp.Features) []device.Command {
	r := clampByte(f.Bands[0]*255, 0, 255)
	g := clampByte(f.Bands[1]*255, 0, 255)
	b := clampByte(f.Bands[2]*255, 0, 255)
	return e.colorAll(f, r, g, b, device.PriorityColor)
}

func (e *Engine) evalSpectrumAnalyzer(f dsp.Features) []device.Command {
	dominant := 0
	for i, v := range f.Bands {
		if v > f.Bands[dominant] {
			dominant = i
		}
	}
	hue := float64(dominant) * 360 / dsp.NumBands
	c := colorful.Hsv(hue, 1, f.Bands[dominant])
	return e.colorAll(f, floatByte(c.R), floatByte(c.G), floatByte(c.B), device.PriorityColor)
}

func (e *Engine) evalMoodLighting(f dsp.Features) []device.Command {
	r, g, b := MoodColor(f.Valence, f.Arousal)
	cmds := e.colorAll(f, r, g, b, device.PriorityColor)
	cmds = append(cmds, e.brightnessAll(f, clampByte(math.Round(f.Energy*255), 0, 255), device.PriorityBrightness)...)
	return cmds
}

func (e *Engine) evalPartyMode(p *Preset, f dsp.Features) []device.Command {
	var cmds []device.Command
	if f.BeatDetected {
		e.huePhase = math.Mod(e.huePhase+f.BeatIntensity*p.PartyMode.HueStepDeg, 360)
		c := colorful.Hsv(e.huePhase, 1, 1)
		cmds = e.colorAll(f, floatByte(c.R), floatByte(c.G), floatByte(c.B), device.PriorityBeat)
	}
	cmds = append(cmds, e.brightnessAll(f, clampByte(math.Round(f.Volume*255), 0, 255), device.PriorityBrightness)...)
	return cmds
}

func (e *Engine) evalStatic(p *Preset, f dsp.Features) []device.Command {
	s := p.Static
	cmds := e.colorAll(f, s.R, s.G, s.B, device.PriorityColor)
	cmds = append(cmds, e.brightnessAll(f, s.Brightness, device.PriorityBrightness)...)
	return cmds
}

// colorAll emits a color command for every target that passes the
// dead-band check.
func (e *Engine) colorAll(f dsp.Features, r, g, b uint8, prio device.Priority) []device.Command {
	var cmds []device.Command
	for _, id := range e.targets {
		if !e.shouldSendColor(id, r, g, b) {
			continue
		}
		cmds = append(cmds, device.Command{
			DeviceID: id, Verb: device.VerbSetColor, R: r, G: g, B: b,
			Priority: prio, Created: f.Timestamp,
		})
	}
	return cmds
}

// brightnessAll emits a brightness command for every target that passes
// the dead-band check.
func (e *Engine) brightnessAll(f dsp.Features, bri uint8, prio device.Priority) []device.Command {
	var cmds []device.Command
	for _, id := range e.targets {
		if !e.shouldSendBrightness(id, bri) {
			continue
		}
		cmds = append(cmds, device.Command{
			DeviceID: id, Verb: device.VerbSetBrightness, Brightness: bri,
			Priority: prio, Created: f.Timestamp,
		})
	}
	return cmds
}

func (e *Engine) shouldSendColor(id string, r, g, b uint8) bool {
	e.sentMu.Lock()
	defer e.sentMu.Unlock()
	snap := e.lastSent[id]
	if snap == nil || !snap.hasColor {
		return true
	}
	return absDiff(snap.r, r) >= e.deadBandRGB ||
		absDiff(snap.g, g) >= e.deadBandRGB ||
		absDiff(snap.b, b) >= e.deadBandRGB
}

func (e *Engine) shouldSendBrightness(id string, bri uint8) bool {
	e.sentMu.Lock()
	defer e.sentMu.Unlock()
	snap := e.lastSent[id]
	if snap == nil || !snap.hasBri {
		return true
	}
	return absDiff(snap.bri, bri) >= e.deadBandBri
}

func (e *Engine) shouldSendPower(id string, on bool) bool {
	e.sentMu.Lock()
	defer e.sentMu.Unlock()
	snap := e.lastSent[id]
	return snap == nil || !snap.hasPower || snap.on != on
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func clampByte(v float64, lo, hi uint8) uint8 {
	if v < float64(lo) {
		return lo
	}
	if v > float64(hi) {
		return hi
	}
	return uint8(v)
}

func floatByte(v float64) uint8 {
	return clampByte(math.Round(v*255), 0, 255)
}
