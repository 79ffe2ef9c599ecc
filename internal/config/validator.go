package config

import "fmt"

// Validation bounds
const (
	MinSampleRate = 8000
	MaxSampleRate = 192000
	MinFrameSize  = 64
	MaxFrameSize  = 16384
)

// ValidSources contains valid capture source values
var ValidSources = map[string]bool{
	SourceAuto:      true,
	SourceSynthetic: true,
}

// ValidDropPolicies contains valid capture overflow policies
var ValidDropPolicies = map[string]bool{
	DropNewest: true,
	DropOldest: true,
}

// ValidFluxModes contains valid spectral flux modes
var ValidFluxModes = map[string]bool{
	FluxMean: true,
	FluxDiff: true,
}

// Validate checks that the configuration is valid
func Validate(cfg *Config) error {
	if err := validateAudio(&cfg.Audio); err != nil {
		return err
	}
	if err := validateAnalysis(cfg); err != nil {
		return err
	}
	if err := validateScheduler(cfg); err != nil {
		return err
	}
	return nil
}

func validateAudio(a *AudioConfig) error {
	if !ValidSources[a.Source] {
		return fmt.Errorf("invalid audio source '%s' (valid: auto, synthetic)", a.Source)
	}
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		return fmt.Errorf("sample_rate must be between %d and %d (got %d)", MinSampleRate, MaxSampleRate, a.SampleRate)
	}
	if a.Channels != 1 && a.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2 (got %d)", a.Channels)
	}
	if a.FrameSize < MinFrameSize || a.FrameSize > MaxFrameSize {
		return fmt.Errorf("frame_size must be between %d and %d (got %d)", MinFrameSize, MaxFrameSize, a.FrameSize)
	}
	if a.FrameSize&(a.FrameSize-1) != 0 {
		return fmt.Errorf("frame_size must be a power of two (got %d)", a.FrameSize)
	}
	if a.HopSize <= 0 || a.HopSize > a.FrameSize {
		return fmt.Errorf("hop_size must be in 1..frame_size (got %d, frame_size %d)", a.HopSize, a.FrameSize)
	}
	if !ValidDropPolicies[a.DropPolicy] {
		return fmt.Errorf("invalid drop_policy '%s' (valid: newest, oldest)", a.DropPolicy)
	}
	return nil
}

func validateAnalysis(cfg *Config) error {
	if !ValidFluxModes[cfg.Analysis.FluxMode] {
		return fmt.Errorf("invalid flux_mode '%s' (valid: mean, diff)", cfg.Analysis.FluxMode)
	}
	if cfg.Analysis.BandPeakAlpha <= 0 || cfg.Analysis.BandPeakAlpha > 1 {
		return fmt.Errorf("band_peak_alpha must be in (0, 1] (got %g)", cfg.Analysis.BandPeakAlpha)
	}
	if cfg.Beat.HistoryWindow < 2 {
		return fmt.Errorf("beat history_window must be at least 2 (got %d)", cfg.Beat.HistoryWindow)
	}
	if cfg.Beat.Sensitivity <= 0 {
		return fmt.Errorf("beat sensitivity must be positive (got %g)", cfg.Beat.Sensitivity)
	}
	if cfg.Beat.MinIntervalMs < 0 {
		return fmt.Errorf("beat min_interval_ms must not be negative (got %d)", cfg.Beat.MinIntervalMs)
	}
	if cfg.Tempo.HistoryWindow < 2 {
		return fmt.Errorf("tempo history_window must be at least 2 (got %d)", cfg.Tempo.HistoryWindow)
	}
	if cfg.Effect.DeadBandRGB < 0 || cfg.Effect.DeadBandBrightness < 0 {
		return fmt.Errorf("dead bands must not be negative (got rgb %d, brightness %d)",
			cfg.Effect.DeadBandRGB, cfg.Effect.DeadBandBrightness)
	}
	return nil
}

func validateScheduler(cfg *Config) error {
	if cfg.Scheduler.OutboxSize < 1 {
		return fmt.Errorf("outbox_size must be at least 1 (got %d)", cfg.Scheduler.OutboxSize)
	}
	if cfg.Scheduler.CallTimeoutMs <= 0 {
		return fmt.Errorf("call_timeout_ms must be positive (got %d)", cfg.Scheduler.CallTimeoutMs)
	}
	if cfg.Scheduler.PingIntervalMs <= 0 {
		return fmt.Errorf("ping_interval_ms must be positive (got %d)", cfg.Scheduler.PingIntervalMs)
	}
	if cfg.Scheduler.PingFailures < 1 {
		return fmt.Errorf("ping_failures must be at least 1 (got %d)", cfg.Scheduler.PingFailures)
	}
	if cfg.Discovery.TimeoutMs <= 0 {
		return fmt.Errorf("discovery timeout_ms must be positive (got %d)", cfg.Discovery.TimeoutMs)
	}
	for kind, r := range cfg.Device {
		if r.RateCPS <= 0 {
			return fmt.Errorf("device.%s.rate_cps must be positive (got %g)", kind, r.RateCPS)
		}
		if r.Burst < 1 {
			return fmt.Errorf("device.%s.burst must be at least 1 (got %d)", kind, r.Burst)
		}
	}
	return nil
}
