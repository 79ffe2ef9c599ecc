//go:build !windows

package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/lumibeat/lumibeat/internal/config"
)

// portaudioSource captures from the default input device via PortAudio.
// Pointing it at the system output requires a loopback/monitor device
// (PulseAudio/PipeWire expose one per sink).
type portaudioSource struct {
	stream     *portaudio.Stream
	buf        []float32
	sampleRate int
	channels   int
}

// OpenSystemSource opens the platform capture source.
func OpenSystemSource(cfg config.AudioConfig) (Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("no default input device: %w", err)
	}

	channels := cfg.Channels
	if channels > dev.MaxInputChannels {
		channels = dev.MaxInputChannels
	}
	if channels < 1 {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("device %q has no input channels; select a loopback/monitor device", dev.Name)
	}

	s := &portaudioSource{
		buf:        make([]float32, cfg.HopSize*channels),
		sampleRate: cfg.SampleRate,
		channels:   channels,
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.HopSize,
	}
	stream, err := portaudio.OpenStream(params, s.buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open capture stream: %w", err)
	}
	s.stream = stream
	return s, nil
}

func (s *portaudioSource) Start() error {
	return s.stream.Start()
}

// Read fills buf with one hop of interleaved samples.
func (s *portaudioSource) Read(buf []float32) error {
	if len(buf) != len(s.buf) {
		return fmt.Errorf("read size %d does not match stream buffer %d", len(buf), len(s.buf))
	}
	if err := s.stream.Read(); err != nil {
		return err
	}
	copy(buf, s.buf)
	return nil
}

func (s *portaudioSource) SampleRate() int { return s.sampleRate }
func (s *portaudioSource) Channels() int   { return s.channels }

func (s *portaudioSource) Close() error {
	_ = s.stream.Stop()
	err := s.stream.Close()
	_ = portaudio.Terminate()
	return err
}
