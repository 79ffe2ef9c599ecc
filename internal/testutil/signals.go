// Package testutil provides deterministic PCM signal generators and
// device doubles shared by the package tests.
package testutil

import (
	"math"
	"math/rand"
)

// Silence returns n zero samples.
func Silence(n int) []float32 {
	return make([]float32, n)
}

// Sine returns n samples of a sine at freq Hz and the given amplitude.
func Sine(sampleRate int, freq, amp float64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

// WhiteNoise returns n uniform noise samples in [-amp, amp]. The seed
// makes runs reproducible.
func WhiteNoise(amp float64, n int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * (2*rng.Float64() - 1))
	}
	return out
}

// Metronome returns a click train at the given BPM: short 0.9-amplitude
// noise bursts (clickLen samples) separated by silence.
func Metronome(sampleRate int, bpm float64, clickLen, n int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	period := int(float64(sampleRate) * 60 / bpm)
	out := make([]float32, n)
	for i := range out {
		if i%period < clickLen {
			out[i] = float32(0.9 * (2*rng.Float64() - 1))
		}
	}
	return out
}

// Ramp returns n samples rising linearly from 0 to amp, sign-alternating
// so the waveform has energy rather than DC.
func Ramp(amp float64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		v := amp * float64(i) / float64(n-1)
		if i%2 == 1 {
			v = -v
		}
		out[i] = float32(v)
	}
	return out
}
