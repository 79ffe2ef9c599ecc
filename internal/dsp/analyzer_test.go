package dsp

import (
	"math"
	"testing"
	"time"

	"github.com/lumibeat/lumibeat/internal/config"
	"github.com/lumibeat/lumibeat/internal/testutil"
)

func newTestAnalyzer(t *testing.T, mutate func(*config.Config)) *Analyzer {
	t.Helper()
	cfg := config.CreateDefault()
	if mutate != nil {
		mutate(cfg)
	}
	a, err := NewAnalyzer(cfg)
	if err != nil {
		t.Fatalf("NewAnalyzer() error = %v", err)
	}
	return a
}

// processStream feeds a long sample buffer through the analyzer using the
// configured frame/hop geometry, the way the capture stage would.
func processStream(t *testing.T, a *Analyzer, samples []float32, frame, hop, sampleRate int) []Features {
	t.Helper()
	hopDur := time.Duration(float64(hop) / float64(sampleRate) * float64(time.Second))
	start := time.Unix(0, 0)

	var out []Features
	seq := uint64(0)
	for off := 0; off+frame <= len(samples); off += hop {
		f, err := a.Process(samples[off:off+frame], start.Add(time.Duration(seq)*hopDur), seq)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		out = append(out, f)
		seq++
	}
	return out
}

func TestProcessRejectsWrongFrameLength(t *testing.T) {
	a := newTestAnalyzer(t, nil)
	if _, err := a.Process(make([]float32, 100), time.Now(), 0); err == nil {
		t.Error("expected error for short frame")
	}
}

func TestNewAnalyzerRejectsNonPowerOfTwo(t *testing.T) {
	cfg := config.CreateDefault()
	cfg.Audio.FrameSize = 1000
	if _, err := NewAnalyzer(cfg); err == nil {
		t.Error("expected error for non power-of-two frame size")
	}
}

func TestZeroInput(t *testing.T) {
	a := newTestAnalyzer(t, nil)

	for seq := uint64(0); seq < 5; seq++ {
		f, err := a.Process(testutil.Silence(config.DefaultFrameSize), time.Unix(int64(seq), 0), seq)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if f.Volume != 0 || f.Peak != 0 {
			t.Errorf("silence: volume=%g peak=%g, want 0", f.Volume, f.Peak)
		}
		for i, b := range f.Bands {
			if b != 0 {
				t.Errorf("silence: band[%d]=%g, want 0", i, b)
			}
		}
		if f.CentroidHz != 0 || f.Rolloff != 0 {
			t.Errorf("silence: centroid=%g rolloff=%g, want 0", f.CentroidHz, f.Rolloff)
		}
		if f.BeatDetected {
			t.Error("silence: unexpected beat")
		}
		if f.TempoBPM != 0 {
			t.Errorf("silence: tempo=%g, want 0", f.TempoBPM)
		}
		assertFinite(t, f)
	}
}

func TestSineBandDominates(t *testing.T) {
	const (
		sr    = config.DefaultSampleRate
		frame = config.DefaultFrameSize
		hop   = config.DefaultHopSize
		band  = 3
	)
	// Centre bin of band 3: bands split N/2=512 bins into 12 slices.
	half := frame / 2
	centreBin := (band*half/NumBands + (band+1)*half/NumBands) / 2
	freq := float64(centreBin) * float64(sr) / float64(frame)

	a := newTestAnalyzer(t, nil)
	signal := testutil.Sine(sr, freq, 1.0, sr) // 1 second
	features := processStream(t, a, signal, frame, hop, sr)

	last := features[len(features)-1]
	if last.Bands[band] < 0.8 {
		t.Errorf("band[%d] = %g, want >= 0.8 after warm-up", band, last.Bands[band])
	}
	if last.Volume <= 0 || last.Volume > 1 {
		t.Errorf("volume = %g, want (0, 1]", last.Volume)
	}
	// Centroid should sit in the vicinity of the tone
	if last.CentroidHz < freq/2 || last.CentroidHz > freq*2 {
		t.Errorf("centroid = %g Hz, tone at %g Hz", last.CentroidHz, freq)
	}
	assertFinite(t, last)
}

func TestInvariantsOnNoise(t *testing.T) {
	const (
		sr    = config.DefaultSampleRate
		frame = config.DefaultFrameSize
		hop   = config.DefaultHopSize
	)
	a := newTestAnalyzer(t, nil)
	signal := testutil.WhiteNoise(0.8, sr*2, 42)
	features := processStream(t, a, signal, frame, hop, sr)

	if len(features) < 80 {
		t.Fatalf("got %d features from 2s of audio, want >= 80", len(features))
	}

	var prevSeq uint64
	for i, f := range features {
		if f.Volume < 0 || f.Volume > 1 {
			t.Fatalf("feature %d: volume %g out of [0,1]", i, f.Volume)
		}
		for bi, b := range f.Bands {
			if b < 0 || b > 1 {
				t.Fatalf("feature %d: band[%d] %g out of [0,1]", i, bi, b)
			}
		}
		if i > 0 && f.Sequence <= prevSeq {
			t.Fatalf("sequence not strictly increasing: %d after %d", f.Sequence, prevSeq)
		}
		prevSeq = f.Sequence
		assertFinite(t, f)
	}
}

func TestRampProducesSingleBeat(t *testing.T) {
	const (
		sr    = config.DefaultSampleRate
		frame = config.DefaultFrameSize
		hop   = config.DefaultHopSize
	)
	a := newTestAnalyzer(t, nil)

	// Fill the beat window with silence, then go loud.
	quiet := testutil.Silence(hop * (config.DefaultBeatHistoryWindow + 2))
	loud := testutil.Sine(sr, 440, 0.9, hop*30)
	signal := append(quiet, loud...)

	features := processStream(t, a, signal, frame, hop, sr)

	beats := 0
	for _, f := range features {
		if f.BeatDetected {
			beats++
		}
	}
	if beats != 1 {
		t.Errorf("beats = %d, want exactly 1", beats)
	}
}

func TestMetronomeTempo(t *testing.T) {
	const (
		sr    = config.DefaultSampleRate
		frame = config.DefaultFrameSize
		hop   = config.DefaultHopSize
		bpm   = 120.0
	)
	a := newTestAnalyzer(t, nil)
	signal := testutil.Metronome(sr, bpm, 512, sr*10, 7)
	features := processStream(t, a, signal, frame, hop, sr)

	beats := 0
	settled := time.Duration(0)
	for _, f := range features {
		if f.BeatDetected {
			beats++
		}
		if settled == 0 && f.TempoBPM >= 115 && f.TempoBPM <= 125 {
			settled = f.Timestamp.Sub(time.Unix(0, 0))
		}
	}

	if beats < 18 || beats > 22 {
		t.Errorf("beats = %d, want within [18, 22]", beats)
	}
	last := features[len(features)-1]
	if last.TempoBPM < 115 || last.TempoBPM > 125 {
		t.Errorf("final tempo = %g, want within [115, 125]", last.TempoBPM)
	}
	if settled == 0 || settled > 5*time.Second {
		t.Errorf("tempo settled after %v, want within 5s", settled)
	}
}

func TestFluxModes(t *testing.T) {
	const frame = config.DefaultFrameSize

	mean := newTestAnalyzer(t, nil)
	diff := newTestAnalyzer(t, func(c *config.Config) { c.Analysis.FluxMode = config.FluxDiff })

	tone := testutil.Sine(config.DefaultSampleRate, 1000, 0.9, frame)

	// Steady tone: mean flux stays positive, diff flux collapses once the
	// spectrum stops changing.
	var fMean, fDiff Features
	for seq := uint64(0); seq < 4; seq++ {
		ts := time.Unix(int64(seq), 0)
		var err error
		fMean, err = mean.Process(tone, ts, seq)
		if err != nil {
			t.Fatal(err)
		}
		fDiff, err = diff.Process(tone, ts, seq)
		if err != nil {
			t.Fatal(err)
		}
	}

	if fMean.Flux <= 0 {
		t.Errorf("mean flux = %g, want > 0 for a steady tone", fMean.Flux)
	}
	if fDiff.Flux >= fMean.Flux {
		t.Errorf("diff flux %g should be far below mean flux %g on a steady tone", fDiff.Flux, fMean.Flux)
	}
}

func TestResetClearsState(t *testing.T) {
	const frame = config.DefaultFrameSize
	a := newTestAnalyzer(t, nil)

	signal := testutil.WhiteNoise(0.9, frame*60, 3)
	processStream(t, a, signal, frame, config.DefaultHopSize, config.DefaultSampleRate)

	a.Reset()

	f, err := a.Process(testutil.Silence(frame), time.Unix(100, 0), 0)
	if err != nil {
		t.Fatal(err)
	}
	if f.TempoBPM != 0 {
		t.Errorf("tempo after reset = %g, want 0", f.TempoBPM)
	}
	if f.BeatDetected {
		t.Error("beat after reset on silence")
	}
}

func assertFinite(t *testing.T, f Features) {
	t.Helper()
	vals := []float64{f.Volume, f.Peak, f.CentroidHz, f.Rolloff, f.Flux, f.ZCR,
		f.BeatIntensity, f.TempoBPM, f.Valence, f.Energy, f.Arousal}
	for i, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("feature value %d is not finite: %g", i, v)
		}
	}
	for i, b := range f.Bands {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			t.Fatalf("band %d is not finite: %g", i, b)
		}
	}
}
