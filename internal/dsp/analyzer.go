package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
	"time"

	"github.com/mjibson/go-dsp/fft"

	"github.com/lumibeat/lumibeat/internal/config"
)

const bandPeakFloor = 1e-6

// Analyzer transforms fixed-size PCM frames into Features records.
// Scratch buffers are reused across calls so the hot path allocates only
// inside the FFT itself. Not safe for concurrent use; the pipeline runs
// exactly one analysis worker.
type Analyzer struct {
	sampleRate int
	frameSize  int
	fluxMode   string

	window   []float64
	windowed []float64
	mags     []float64
	prevMags []float64 // previous frame magnitudes for flux_mode=diff

	peakAlpha float64           // EMA coefficient for band peak decay
	bandPeaks [NumBands]float64 // slow-moving per-band peak for normalisation

	beat  *BeatDetector
	tempo *TempoEstimator
}

// NewAnalyzer constructs an Analyzer from validated configuration.
func NewAnalyzer(cfg *config.Config) (*Analyzer, error) {
	n := cfg.Audio.FrameSize
	if n <= 0 || n&(n-1) != 0 {
		return nil, fmt.Errorf("frame size must be a power of two (got %d)", n)
	}

	a := &Analyzer{
		sampleRate: cfg.Audio.SampleRate,
		frameSize:  n,
		fluxMode:   cfg.Analysis.FluxMode,
		window:     BlackmanHarris(n),
		windowed:   make([]float64, n),
		mags:       make([]float64, n/2),
		prevMags:   make([]float64, n/2),
		peakAlpha:  cfg.Analysis.BandPeakAlpha,
		beat:       NewBeatDetector(cfg.Beat),
		tempo:      NewTempoEstimator(cfg.Tempo.HistoryWindow),
	}
	for i := range a.bandPeaks {
		a.bandPeaks[i] = bandPeakFloor
	}
	return a, nil
}

// Process computes the feature record for one frame. The slice must hold
// exactly the configured frame size of mono samples; ts is the capture
// timestamp of the hop boundary and seq the source block sequence.
func (a *Analyzer) Process(samples []float32, ts time.Time, seq uint64) (Features, error) {
	if len(samples) != a.frameSize {
		return Features{}, fmt.Errorf("frame length %d does not match configured size %d", len(samples), a.frameSize)
	}

	f := Features{Sequence: seq, Timestamp: ts}

	// Raw-sample statistics before windowing.
	var peak, energy float64
	for _, s := range samples {
		v := float64(s)
		if av := math.Abs(v); av > peak {
			peak = av
		}
		energy += v * v
	}
	energy /= float64(len(samples))
	f.Peak = peak
	f.Energy = clamp01(energy)
	f.ZCR = zeroCrossingRate(samples)

	// Windowed RMS drives both volume and the beat detector.
	var sumSq float64
	for i, s := range samples {
		w := float64(s) * a.window[i]
		a.windowed[i] = w
		sumSq += w * w
	}
	f.Volume = clamp01(math.Sqrt(sumSq / float64(len(samples))))

	spectrum := fft.FFTReal(a.windowed)

	half := a.frameSize / 2
	var magSum, weightedSum, energySum, hfEnergy float64
	for i := 0; i < half; i++ {
		m := cmplx.Abs(spectrum[i])
		a.mags[i] = m
		magSum += m
		weightedSum += float64(i) * m
		e := m * m
		energySum += e
		if i >= half/2 {
			hfEnergy += e
		}
	}

	a.computeBands(&f)

	if magSum > 0 {
		centroidBins := weightedSum / magSum
		f.CentroidHz = centroidBins * float64(a.sampleRate) / float64(a.frameSize)
		f.Valence = clamp01(centroidBins / float64(half))
		f.Rolloff = a.rolloff(magSum)
	}
	if energySum > 0 {
		f.Arousal = clamp01(hfEnergy / energySum)
	}

	f.Flux = a.flux(magSum)
	copy(a.prevMags, a.mags)

	if beat, intensity := a.beat.Observe(f.Volume, ts); beat {
		f.BeatDetected = true
		f.BeatIntensity = intensity
		a.tempo.AddBeat(ts)
	}
	f.TempoBPM = a.tempo.BPM()

	return f, nil
}

// Reset clears all rolling state (band peaks, flux history, beat and
// tempo windows). The pipeline does not call it; it builds a fresh
// Analyzer on every Start.
func (a *Analyzer) Reset() {
	for i := range a.bandPeaks {
		a.bandPeaks[i] = bandPeakFloor
	}
	for i := range a.prevMags {
		a.prevMags[i] = 0
	}
	a.beat.Reset()
	a.tempo.Reset()
}

// computeBands splits [0, N/2) into NumBands equal-width bins, averages
// magnitudes per bin and normalises by the slow-moving per-band peak.
func (a *Analyzer) computeBands(f *Features) {
	half := a.frameSize / 2
	alpha := a.peakAlpha
	for b := 0; b < NumBands; b++ {
		start := b * half / NumBands
		end := (b + 1) * half / NumBands
		var sum float64
		for i := start; i < end; i++ {
			sum += a.mags[i]
		}
		mean := sum / float64(end-start)

		a.bandPeaks[b] += alpha * (mean - a.bandPeaks[b])
		if a.bandPeaks[b] < bandPeakFloor {
			a.bandPeaks[b] = bandPeakFloor
		}

		f.Bands[b] = clamp01(mean / a.bandPeaks[b])
	}
}

// rolloff returns the smallest k/(N/2) whose cumulative magnitude reaches
// 85% of the total.
func (a *Analyzer) rolloff(magSum float64) float64 {
	target := 0.85 * magSum
	var cum float64
	for i, m := range a.mags {
		cum += m
		if cum >= target {
			return float64(i) / float64(len(a.mags))
		}
	}
	return 1
}

// flux keeps the historical mean-magnitude definition by default; the
// diff mode is the rectified frame-to-frame difference.
func (a *Analyzer) flux(magSum float64) float64 {
	switch a.fluxMode {
	case config.FluxDiff:
		var sum float64
		for i, m := range a.mags {
			if d := m - a.prevMags[i]; d > 0 {
				sum += d
			}
		}
		return sum / float64(len(a.mags))
	default:
		return magSum / float64(len(a.mags))
	}
}

func zeroCrossingRate(samples []float32) float64 {
	if len(samples) < 2 {
		return 0
	}
	var crossings int
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
