package effect

import "testing"

func TestMoodColorCorners(t *testing.T) {
	tests := []struct {
		name             string
		valence, arousal float64
		r, g, b          uint8
	}{
		{"blue calm sad", 0, 0, 30, 30, 80},
		{"red angry", 0, 1, 180, 20, 20},
		{"green serene", 1, 0, 50, 180, 80},
		{"yellow happy", 1, 1, 255, 200, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, g, b := MoodColor(tt.valence, tt.arousal)
			if r != tt.r || g != tt.g || b != tt.b {
				t.Errorf("MoodColor(%g, %g) = %d/%d/%d, want %d/%d/%d",
					tt.valence, tt.arousal, r, g, b, tt.r, tt.g, tt.b)
			}
		})
	}
}

func TestMoodColorCentreBlend(t *testing.T) {
	r, g, b := MoodColor(0.5, 0.5)
	// Average of the four corners: (128.75, 107.5, 45)
	if r != 129 || g != 108 || b != 45 {
		t.Errorf("centre = %d/%d/%d, want 129/108/45", r, g, b)
	}
}

func TestMoodColorClampsInputs(t *testing.T) {
	r1, g1, b1 := MoodColor(-1, 2)
	r2, g2, b2 := MoodColor(0, 1)
	if r1 != r2 || g1 != g2 || b1 != b2 {
		t.Errorf("out-of-range inputs not clamped: %d/%d/%d vs %d/%d/%d", r1, g1, b1, r2, g2, b2)
	}
}
