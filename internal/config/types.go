package config

// Config represents the complete pipeline configuration
type Config struct {
	Audio     AudioConfig                 `json:"audio"`
	Analysis  AnalysisConfig              `json:"analysis"`
	Beat      BeatConfig                  `json:"beat"`
	Tempo     TempoConfig                 `json:"tempo"`
	Effect    EffectConfig                `json:"effect"`
	Scheduler SchedulerConfig             `json:"scheduler"`
	Device    map[string]DeviceRateConfig `json:"device,omitempty"`
	Discovery DiscoveryConfig             `json:"discovery"`
}

// AudioConfig represents capture settings
type AudioConfig struct {
	Source     string `json:"source,omitempty"`      // "auto" or "synthetic"
	SampleRate int    `json:"sample_rate,omitempty"` // Hz
	Channels   int    `json:"channels,omitempty"`    // 1 = mono, 2 = stereo
	FrameSize  int    `json:"frame_size,omitempty"`  // FFT window N, power of two
	HopSize    int    `json:"hop_size,omitempty"`    // analysis advance H <= N
	DropPolicy string `json:"drop_policy,omitempty"` // "newest" or "oldest"
}

// AnalysisConfig represents spectral analysis settings
type AnalysisConfig struct {
	FluxMode      string  `json:"flux_mode,omitempty"`       // "mean" or "diff"
	BandPeakAlpha float64 `json:"band_peak_alpha,omitempty"` // per-band peak EMA coefficient
}

// BeatConfig represents beat detector settings
type BeatConfig struct {
	HistoryWindow int     `json:"history_window,omitempty"` // RMS samples kept for the adaptive threshold
	Sensitivity   float64 `json:"sensitivity,omitempty"`    // threshold = mean + sensitivity * stddev
	MinIntervalMs int     `json:"min_interval_ms,omitempty"`
}

// TempoConfig represents tempo estimator settings
type TempoConfig struct {
	HistoryWindow int `json:"history_window,omitempty"` // beat timestamps kept
}

// EffectConfig represents effect engine settings
type EffectConfig struct {
	DeadBandRGB        int `json:"dead_band_rgb,omitempty"`
	DeadBandBrightness int `json:"dead_band_brightness,omitempty"`
}

// SchedulerConfig represents command fan-out settings
type SchedulerConfig struct {
	OutboxSize     int `json:"outbox_size,omitempty"`
	CallTimeoutMs  int `json:"call_timeout_ms,omitempty"`
	PingIntervalMs int `json:"ping_interval_ms,omitempty"`
	PingFailures   int `json:"ping_failures,omitempty"` // consecutive ping failures before Degraded
}

// DeviceRateConfig represents the per-kind token bucket parameters
type DeviceRateConfig struct {
	RateCPS float64 `json:"rate_cps,omitempty"` // refill rate, commands per second
	Burst   int     `json:"burst,omitempty"`
}

// DiscoveryConfig represents network discovery settings
type DiscoveryConfig struct {
	TimeoutMs int `json:"timeout_ms,omitempty"`
}
