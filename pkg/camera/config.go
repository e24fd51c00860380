package camera

// Config holds capture parameters that can be changed at runtime
// through the camera API.
type Config struct {
	// === Resolution ===
	Width     int `json:"width"`     // Frame width in pixels
	Height    int `json:"height"`    // Frame height in pixels
	Framerate int `json:"framerate"` // Target FPS
	Quality   int `json:"quality"`   // JPEG quality 1-100

	// === Device selection ===
	// DeviceID is the capture device index. The webcam source tries
	// this index first and falls back to probing 0 through 5.
	DeviceID int `json:"device_id"`

	// WarmupFrames is the number of frames grabbed and discarded
	// after opening the device. Clears stale frames from the driver
	// buffer so the first real capture reflects the current scene.
	WarmupFrames int `json:"warmup_frames"`
}

// Supported capture limits
const (
	MaxWidth     = 3840
	MaxHeight    = 2160
	MaxFramerate = 120
	MaxWarmup    = 30
)

// DefaultConfig returns the recommended 1080p configuration.
func DefaultConfig() Config {
	return Config{
		Width:        1920,
		Height:       1080,
		Framerate:    30,
		Quality:      85,
		DeviceID:     0,
		WarmupFrames: 5,
	}
}

// LegacyConfig returns the original 640x480 configuration.
// Use this if higher resolution causes issues.
func LegacyConfig() Config {
	cfg := DefaultConfig()
	cfg.Width = 640
	cfg.Height = 480
	return cfg
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Width < 160 || c.Width > MaxWidth {
		errors = append(errors, "width must be between 160 and 3840")
	}
	if c.Height < 120 || c.Height > MaxHeight {
		errors = append(errors, "height must be between 120 and 2160")
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errors = append(errors, "framerate must be between 1 and 120")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}
	if c.DeviceID < 0 {
		errors = append(errors, "device_id must not be negative")
	}
	if c.WarmupFrames < 0 || c.WarmupFrames > MaxWarmup {
		errors = append(errors, "warmup_frames must be between 0 and 30")
	}

	return errors
}

// Capabilities returns the limits and presets the camera API exposes.
func Capabilities() map[string]interface{} {
	return map[string]interface{}{
		"max_width":     MaxWidth,
		"max_height":    MaxHeight,
		"max_framerate": MaxFramerate,
		"max_warmup":    MaxWarmup,
		"sources":       []string{SourceWebcam, SourceHTTP, SourceWebRTC, SourceNone},
		"presets":       PresetNames(),
	}
}
