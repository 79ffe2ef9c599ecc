package dsp

import "math"

// 4-term Blackman-Harris coefficients
const (
	bhA0 = 0.35875
	bhA1 = -0.48829
	bhA2 = 0.14128
	bhA3 = -0.01168
)

// BlackmanHarris returns the 4-term Blackman-Harris window of length n.
func BlackmanHarris(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = bhA0 + bhA1 + bhA2 + bhA3
		return w
	}
	for i := range w {
		x := 2 * math.Pi * float64(i) / float64(n-1)
		w[i] = bhA0 + bhA1*math.Cos(x) + bhA2*math.Cos(2*x) + bhA3*math.Cos(3*x)
	}
	return w
}
