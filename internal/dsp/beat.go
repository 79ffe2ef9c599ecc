package dsp

import (
	"math"
	"time"

	"github.com/lumibeat/lumibeat/internal/config"
	"github.com/lumibeat/lumibeat/internal/shared/util"
)

// BeatDetector flags onsets where the current RMS exceeds an adaptive
// threshold derived from a rolling window of recent RMS values.
type BeatDetector struct {
	history     *util.RingBuffer[float64]
	sensitivity float64
	minInterval time.Duration
	lastBeat    time.Time
}

// NewBeatDetector constructs a detector from validated beat configuration.
func NewBeatDetector(cfg config.BeatConfig) *BeatDetector {
	return &BeatDetector{
		history:     util.NewRingBuffer[float64](cfg.HistoryWindow),
		sensitivity: cfg.Sensitivity,
		minInterval: time.Duration(cfg.MinIntervalMs) * time.Millisecond,
	}
}

// Observe tests one RMS value against the adaptive threshold and returns
// whether it is a beat plus its intensity. The window is updated after
// the test so the current value cannot mask itself; no beats are emitted
// until the window has filled.
func (d *BeatDetector) Observe(rms float64, now time.Time) (bool, float64) {
	if !d.history.IsFull() {
		d.history.Push(rms)
		return false, 0
	}

	n := d.history.Len()
	var sum float64
	for i := 0; i < n; i++ {
		sum += d.history.Get(i)
	}
	mean := sum / float64(n)

	var varSum float64
	for i := 0; i < n; i++ {
		dv := d.history.Get(i) - mean
		varSum += dv * dv
	}
	stddev := math.Sqrt(varSum / float64(n))

	threshold := mean + stddev*d.sensitivity

	beat := false
	var intensity float64
	if rms > threshold && (d.lastBeat.IsZero() || now.Sub(d.lastBeat) > d.minInterval) {
		beat = true
		intensity = clamp01((rms - mean) / math.Max(mean, 1e-6))
		d.lastBeat = now
	}

	d.history.Push(rms)
	return beat, intensity
}

// Reset clears the rolling window and refractory state.
func (d *BeatDetector) Reset() {
	d.history.Clear()
	d.lastBeat = time.Time{}
}
