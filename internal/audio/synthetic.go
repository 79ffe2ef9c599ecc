package audio

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Signal selects what a SyntheticSource generates.
type Signal string

// Synthetic signal kinds
const (
	SignalSilence   Signal = "silence"
	SignalNoise     Signal = "noise"
	SignalSine      Signal = "sine"
	SignalMetronome Signal = "metronome"
)

// SyntheticSource generates deterministic PCM without touching any
// audio hardware. It backs the "synthetic" capture source and every
// end-to-end test. When paced, Read sleeps so the stream plays out in
// real time.
type SyntheticSource struct {
	signal     Signal
	sampleRate int
	channels   int
	paced      bool

	// sine
	freq float64
	// metronome
	bpm      float64
	clickLen int

	amp float64
	pos int
	rng *rand.Rand
}

// SyntheticOption mutates a SyntheticSource during construction.
type SyntheticOption func(*SyntheticSource)

// WithFrequency sets the sine frequency in Hz.
func WithFrequency(hz float64) SyntheticOption {
	return func(s *SyntheticSource) { s.freq = hz }
}

// WithBPM sets the metronome rate.
func WithBPM(bpm float64) SyntheticOption {
	return func(s *SyntheticSource) { s.bpm = bpm }
}

// WithAmplitude sets the peak amplitude.
func WithAmplitude(amp float64) SyntheticOption {
	return func(s *SyntheticSource) { s.amp = amp }
}

// WithPacing makes Read sleep to real-time playout speed.
func WithPacing() SyntheticOption {
	return func(s *SyntheticSource) { s.paced = true }
}

// WithSeed fixes the noise generator seed.
func WithSeed(seed int64) SyntheticOption {
	return func(s *SyntheticSource) { s.rng = rand.New(rand.NewSource(seed)) }
}

// NewSyntheticSource creates a generator source.
func NewSyntheticSource(signal Signal, sampleRate, channels int, opts ...SyntheticOption) (*SyntheticSource, error) {
	switch signal {
	case SignalSilence, SignalNoise, SignalSine, SignalMetronome:
	default:
		return nil, fmt.Errorf("unknown synthetic signal %q", signal)
	}
	s := &SyntheticSource{
		signal:     signal,
		sampleRate: sampleRate,
		channels:   channels,
		freq:       440,
		bpm:        120,
		clickLen:   sampleRate / 86, // ~12ms click
		amp:        0.8,
		rng:        rand.New(rand.NewSource(1)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start is a no-op; generation is demand-driven.
func (s *SyntheticSource) Start() error { return nil }

// SampleRate returns the configured rate.
func (s *SyntheticSource) SampleRate() int { return s.sampleRate }

// Channels returns the configured channel count.
func (s *SyntheticSource) Channels() int { return s.channels }

// Close stops the source.
func (s *SyntheticSource) Close() error { return nil }

// Read fills buf with interleaved samples.
func (s *SyntheticSource) Read(buf []float32) error {
	frames := len(buf) / s.channels
	for f := 0; f < frames; f++ {
		v := s.sample(s.pos + f)
		for ch := 0; ch < s.channels; ch++ {
			buf[f*s.channels+ch] = v
		}
	}
	s.pos += frames

	if s.paced {
		time.Sleep(time.Duration(float64(frames) / float64(s.sampleRate) * float64(time.Second)))
	}
	return nil
}

func (s *SyntheticSource) sample(i int) float32 {
	switch s.signal {
	case SignalNoise:
		return float32(s.amp * (2*s.rng.Float64() - 1))
	case SignalSine:
		return float32(s.amp * math.Sin(2*math.Pi*s.freq*float64(i)/float64(s.sampleRate)))
	case SignalMetronome:
		period := int(float64(s.sampleRate) * 60 / s.bpm)
		if i%period < s.clickLen {
			return float32(s.amp * (2*s.rng.Float64() - 1))
		}
		return 0
	default:
		return 0
	}
}
