package config

const (
	// DefaultSampleRate is the capture rate in Hz
	DefaultSampleRate = 44100

	// DefaultFrameSize is the FFT window length N (power of two)
	DefaultFrameSize = 1024

	// DefaultHopSize is the analysis advance H. With N=1024 consecutive
	// windows overlap by half.
	DefaultHopSize = 512

	// DefaultChannels captures stereo and downmixes for analysis
	DefaultChannels = 2

	// DefaultBandPeakAlpha is the EMA coefficient for per-band peak tracking
	DefaultBandPeakAlpha = 0.02

	// DefaultBeatHistoryWindow is ~0.5s of RMS history at 512-sample hops
	DefaultBeatHistoryWindow = 43

	// DefaultBeatSensitivity is the stddev multiplier for the adaptive threshold
	DefaultBeatSensitivity = 1.5

	// DefaultBeatMinIntervalMs is the beat refractory period (ceiling 240 BPM)
	DefaultBeatMinIntervalMs = 250

	// DefaultTempoHistoryWindow is the number of beat timestamps kept
	DefaultTempoHistoryWindow = 12

	// DefaultDeadBand is the minimum channel delta worth transmitting,
	// shared by RGB channels and brightness
	DefaultDeadBand = 4

	// DefaultOutboxSize is the per-device command queue depth
	DefaultOutboxSize = 8

	// DefaultCallTimeoutMs bounds a single backend call
	DefaultCallTimeoutMs = 1500

	// DefaultPingIntervalMs is how long a device worker sits idle before probing
	DefaultPingIntervalMs = 10000

	// DefaultPingFailures is the consecutive ping failures before Degraded
	DefaultPingFailures = 3

	// DefaultDiscoveryTimeoutMs bounds a network discovery scan
	DefaultDiscoveryTimeoutMs = 5000
)

// defaultRates maps device kinds to their token bucket parameters.
// Hue bridges throttle around 10 commands/s, Kasa plugs are slower,
// MagicHome controllers take raw TCP frames much faster.
var defaultRates = map[string]DeviceRateConfig{
	KindHue:       {RateCPS: 10, Burst: 5},
	KindKasa:      {RateCPS: 5, Burst: 3},
	KindMagicHome: {RateCPS: 20, Burst: 10},
}

// DefaultRate returns the token bucket parameters for a device kind.
// Unknown kinds get the most conservative table entry.
func DefaultRate(kind string) DeviceRateConfig {
	if r, ok := defaultRates[kind]; ok {
		return r
	}
	return defaultRates[KindKasa]
}

// CreateDefault creates a configuration with sensible defaults
func CreateDefault() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills in zero-valued fields after JSON decoding
func applyDefaults(cfg *Config) {
	if cfg.Audio.Source == "" {
		cfg.Audio.Source = SourceAuto
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = DefaultChannels
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = DefaultFrameSize
	}
	if cfg.Audio.HopSize == 0 {
		cfg.Audio.HopSize = DefaultHopSize
	}
	if cfg.Audio.DropPolicy == "" {
		cfg.Audio.DropPolicy = DropNewest
	}
	if cfg.Analysis.FluxMode == "" {
		cfg.Analysis.FluxMode = FluxMean
	}
	if cfg.Analysis.BandPeakAlpha == 0 {
		cfg.Analysis.BandPeakAlpha = DefaultBandPeakAlpha
	}
	if cfg.Beat.HistoryWindow == 0 {
		cfg.Beat.HistoryWindow = DefaultBeatHistoryWindow
	}
	if cfg.Beat.Sensitivity == 0 {
		cfg.Beat.Sensitivity = DefaultBeatSensitivity
	}
	if cfg.Beat.MinIntervalMs == 0 {
		cfg.Beat.MinIntervalMs = DefaultBeatMinIntervalMs
	}
	if cfg.Tempo.HistoryWindow == 0 {
		cfg.Tempo.HistoryWindow = DefaultTempoHistoryWindow
	}
	if cfg.Effect.DeadBandRGB == 0 {
		cfg.Effect.DeadBandRGB = DefaultDeadBand
	}
	if cfg.Effect.DeadBandBrightness == 0 {
		cfg.Effect.DeadBandBrightness = DefaultDeadBand
	}
	if cfg.Scheduler.OutboxSize == 0 {
		cfg.Scheduler.OutboxSize = DefaultOutboxSize
	}
	if cfg.Scheduler.CallTimeoutMs == 0 {
		cfg.Scheduler.CallTimeoutMs = DefaultCallTimeoutMs
	}
	if cfg.Scheduler.PingIntervalMs == 0 {
		cfg.Scheduler.PingIntervalMs = DefaultPingIntervalMs
	}
	if cfg.Scheduler.PingFailures == 0 {
		cfg.Scheduler.PingFailures = DefaultPingFailures
	}
	if cfg.Discovery.TimeoutMs == 0 {
		cfg.Discovery.TimeoutMs = DefaultDiscoveryTimeoutMs
	}
	if cfg.Device == nil {
		cfg.Device = map[string]DeviceRateConfig{}
	}
	for kind, def := range defaultRates {
		r := cfg.Device[kind]
		if r.RateCPS == 0 {
			r.RateCPS = def.RateCPS
		}
		if r.Burst == 0 {
			r.Burst = def.Burst
		}
		cfg.Device[kind] = r
	}
}
