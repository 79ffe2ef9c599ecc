package dsp

import (
	"sort"
	"time"

	"github.com/lumibeat/lumibeat/internal/shared/util"
)

// Tempo clamp range in BPM
const (
	MinTempoBPM = 60
	MaxTempoBPM = 200
)

// TempoEstimator derives BPM from the median of consecutive inter-beat
// intervals over a rolling window of beat timestamps.
type TempoEstimator struct {
	beats *util.RingBuffer[time.Time]
}

// NewTempoEstimator constructs an estimator keeping the given number of
// beat timestamps.
func NewTempoEstimator(window int) *TempoEstimator {
	return &TempoEstimator{beats: util.NewRingBuffer[time.Time](window)}
}

// AddBeat records a detected beat.
func (e *TempoEstimator) AddBeat(t time.Time) {
	e.beats.Push(t)
}

// BPM returns the current tempo estimate clamped to [MinTempoBPM,
// MaxTempoBPM], or 0 while fewer than two beats are known.
func (e *TempoEstimator) BPM() float64 {
	n := e.beats.Len()
	if n < 2 {
		return 0
	}

	intervals := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		dt := e.beats.Get(i).Sub(e.beats.Get(i - 1)).Seconds()
		if dt > 0 {
			intervals = append(intervals, dt)
		}
	}
	if len(intervals) == 0 {
		return 0
	}

	sort.Float64s(intervals)
	var median float64
	mid := len(intervals) / 2
	if len(intervals)%2 == 1 {
		median = intervals[mid]
	} else {
		median = (intervals[mid-1] + intervals[mid]) / 2
	}

	bpm := 60 / median
	if bpm < MinTempoBPM {
		return MinTempoBPM
	}
	if bpm > MaxTempoBPM {
		return MaxTempoBPM
	}
	return bpm
}

// Reset clears the beat history.
func (e *TempoEstimator) Reset() {
	e.beats.Clear()
}
