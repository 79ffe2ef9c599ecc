package config

// Capture source selectors
const (
	SourceAuto      = "auto"
	SourceSynthetic = "synthetic"
)

// Capture overflow policies
const (
	DropNewest = "newest"
	DropOldest = "oldest"
)

// Spectral flux modes
const (
	// FluxMean reproduces the historical definition: the mean FFT
	// magnitude of the current frame, no frame-to-frame difference.
	FluxMean = "mean"
	// FluxDiff is the rectified frame-to-frame magnitude difference.
	FluxDiff = "diff"
)

// Device kind keys used in the per-kind rate table
const (
	KindHue       = "hue"
	KindKasa      = "kasa"
	KindMagicHome = "magichome"
)
