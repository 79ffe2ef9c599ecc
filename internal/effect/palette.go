package effect

// The mood palette is a 2x2 grid in (valence, arousal) space,
// interpolated bilinearly:
//
//	valence 0, arousal 0: calm sadness (dim blue)
//	valence 0, arousal 1: anger (red)
//	valence 1, arousal 0: serenity (green)
//	valence 1, arousal 1: happiness (yellow)
var moodCorners = [2][2][3]float64{
	{{30, 30, 80}, {180, 20, 20}},  // valence=0: arousal=0, arousal=1
	{{50, 180, 80}, {255, 200, 0}}, // valence=1: arousal=0, arousal=1
}

// MoodColor interpolates the palette at (valence, arousal), both
// clamped to [0,1].
func MoodColor(valence, arousal float64) (r, g, b uint8) {
	v := clamp01(valence)
	a := clamp01(arousal)

	var out [3]float64
	for i := 0; i < 3; i++ {
		low := moodCorners[0][0][i]*(1-a) + moodCorners[0][1][i]*a
		high := moodCorners[1][0][i]*(1-a) + moodCorners[1][1][i]*a
		out[i] = low*(1-v) + high*v
	}
	return uint8(out[0] + 0.5), uint8(out[1] + 0.5), uint8(out[2] + 0.5)
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
