// Package audio turns a system-loopback PCM source into a lossy-drop
// stream of fixed-size, overlapping, sequence-numbered sample blocks.
package audio

import (
	"context"
	"log"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lumibeat/lumibeat/internal/config"
)

// Block is one analysis window of mono samples. Consecutive blocks
// overlap by frame−hop samples and carry strictly increasing sequence
// numbers; gaps in delivery are observable because dropped blocks still
// consume a sequence number.
type Block struct {
	Samples    []float32
	SampleRate int
	Timestamp  time.Time // monotonic clock at the hop boundary
	Sequence   uint64
}

// Source delivers raw interleaved float32 PCM from some capture device.
// Read blocks until the buffer is full or the source fails; it must be
// driven from a single goroutine.
type Source interface {
	Start() error
	Read(buf []float32) error
	SampleRate() int
	Channels() int
	Close() error
}

// SourceFactory opens a capture source. The capture loop re-invokes it
// after a source failure.
type SourceFactory func() (Source, error)

// Reconnect backoff bounds after a capture failure.
const (
	reconnectInitial = 100 * time.Millisecond
	reconnectMax     = 5 * time.Second
)

// Capture assembles source PCM into hop-aligned blocks.
type Capture struct {
	cfg     config.AudioConfig
	factory SourceFactory
	out     chan Block
	onError func(error)

	seq     uint64
	dropped atomic.Uint64
}

// blockQueueDepth bounds the capture-to-analyser queue.
const blockQueueDepth = 8

// NewCapture creates a capture stage. onError receives source failures
// (before each reconnect attempt) and may be nil.
func NewCapture(cfg config.AudioConfig, factory SourceFactory, onError func(error)) *Capture {
	return &Capture{
		cfg:     cfg,
		factory: factory,
		out:     make(chan Block, blockQueueDepth),
		onError: onError,
	}
}

// Blocks is the output queue consumed by the analyser.
func (c *Capture) Blocks() <-chan Block {
	return c.out
}

// Dropped returns the number of blocks shed due to queue overflow.
func (c *Capture) Dropped() uint64 {
	return c.dropped.Load()
}

// Run produces blocks until ctx is cancelled. The loop owns a dedicated
// OS thread since platform audio APIs require one. A failing source is
// reopened with exponential backoff; no samples are ever fabricated.
func (c *Capture) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(c.out)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = reconnectInitial
	bo.MaxInterval = reconnectMax
	bo.MaxElapsedTime = 0
	bo.RandomizationFactor = 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		source, err := c.factory()
		if err == nil {
			err = source.Start()
			if err == nil {
				bo.Reset()
				err = c.pump(ctx, source)
			}
			_ = source.Close()
		}
		if ctx.Err() != nil {
			return nil
		}

		c.reportError(err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// pump reads hops from one source until it fails or ctx is cancelled.
func (c *Capture) pump(ctx context.Context, source Source) error {
	var (
		channels = source.Channels()
		rate     = source.SampleRate()
		frame    = c.cfg.FrameSize
		hop      = c.cfg.HopSize
	)

	window := make([]float32, frame)
	raw := make([]float32, hop*channels)
	mono := make([]float32, hop)
	filled := 0

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := source.Read(raw); err != nil {
			return err
		}
		ts := time.Now()

		downmix(raw, mono, channels)

		// Slide the window forward by one hop.
		copy(window, window[hop:])
		copy(window[frame-hop:], mono)
		if filled < frame {
			filled += hop
			if filled < frame {
				continue
			}
		}

		c.emit(window, rate, ts)
	}
}

// emit publishes one block, applying the configured drop policy when
// the queue is full. Sequence numbers advance even for dropped blocks.
func (c *Capture) emit(window []float32, rate int, ts time.Time) {
	block := Block{
		Samples:    append([]float32(nil), window...),
		SampleRate: rate,
		Timestamp:  ts,
		Sequence:   c.seq,
	}
	c.seq++

	select {
	case c.out <- block:
		return
	default:
	}

	if c.cfg.DropPolicy == config.DropOldest {
		select {
		case <-c.out:
			c.dropped.Add(1)
		default:
		}
		select {
		case c.out <- block:
			return
		default:
		}
	}
	// DropNewest, or the queue refilled underneath us: shed this block.
	c.dropped.Add(1)
}

func (c *Capture) reportError(err error) {
	if err == nil {
		return
	}
	log.Printf("[CAPTURE] source failed: %v", err)
	if c.onError != nil {
		c.onError(err)
	}
}

// downmix folds interleaved multi-channel samples into mono by channel
// average.
func downmix(raw, mono []float32, channels int) {
	if channels <= 1 {
		copy(mono, raw)
		return
	}
	for i := range mono {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += raw[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
}
