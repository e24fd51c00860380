package camera

// Preset names for common configurations
const (
	PresetDefault = "default"
	PresetLegacy  = "legacy"
	Preset720p    = "720p"
	Preset1080p   = "1080p"
	Preset4K      = "4k"
	PresetLow     = "low"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetDefault: DefaultConfig(),
		PresetLegacy:  LegacyConfig(),
		Preset720p:    HD720Config(),
		Preset1080p:   HD1080Config(),
		Preset4K:      UHD4KConfig(),
		PresetLow:     LowPowerConfig(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetDefault,
		PresetLegacy,
		Preset720p,
		Preset1080p,
		Preset4K,
		PresetLow,
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	presets := Presets()
	if cfg, ok := presets[name]; ok {
		return &cfg
	}
	return nil
}

// HD720Config returns 720p HD configuration.
// Good balance of quality and performance.
func HD720Config() Config {
	cfg := DefaultConfig()
	cfg.Width = 1280
	cfg.Height = 720
	return cfg
}

// HD1080Config returns 1080p Full HD configuration.
func HD1080Config() Config {
	cfg := DefaultConfig()
	cfg.Width = 1920
	cfg.Height = 1080
	return cfg
}

// UHD4KConfig returns 4K UHD configuration.
// Maximum quality, higher CPU usage.
func UHD4KConfig() Config {
	cfg := DefaultConfig()
	cfg.Width = 3840
	cfg.Height = 2160
	cfg.Framerate = 15 // Lower framerate for 4K
	return cfg
}

// LowPowerConfig returns a minimal configuration for constrained
// hosts. Small frames keep JPEG encode and upload cheap.
func LowPowerConfig() Config {
	cfg := DefaultConfig()
	cfg.Width = 320
	cfg.Height = 240
	cfg.Framerate = 15
	cfg.Quality = 60
	return cfg
}
