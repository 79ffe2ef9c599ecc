package dsp

import "time"

// NumBands is the number of equal-width frequency bands covering DC..Nyquist.
const NumBands = 12

// Features is the per-hop analysis record consumed by the effect engine.
type Features struct {
	Sequence  uint64
	Timestamp time.Time

	Volume float64 // windowed RMS, 0..1
	Peak   float64 // max absolute raw sample

	Bands      [NumBands]float64 // peak-normalised band magnitudes, 0..1
	CentroidHz float64           // spectral centroid; 0 when the spectrum is empty
	Rolloff    float64           // 0.85 rolloff point as a fraction of Nyquist, 0..1
	Flux       float64
	ZCR        float64 // zero-crossing rate on raw samples, 0..1

	BeatDetected  bool
	BeatIntensity float64 // 0..1
	TempoBPM      float64 // 60..200, 0 when fewer than two beats are known

	Valence float64 // 0..1
	Energy  float64 // 0..1
	Arousal float64 // 0..1
}
