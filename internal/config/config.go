// Package config loads the corpus-vision configuration file and applies
// environment overrides. The file is read once at process start; there
// is no hot reload.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration, injected into components at
// construction rather than read ambiently.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Camera  CameraConfig  `yaml:"camera"`
	Vision  VisionConfig  `yaml:"vision"`
	Gemini  GeminiConfig  `yaml:"gemini"`
	Speech  SpeechConfig  `yaml:"speech"`
	Events  EventsConfig  `yaml:"events"`
	Monitor MonitorConfig `yaml:"monitor"`
	Ingest  IngestConfig  `yaml:"ingest"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CameraConfig selects and configures the frame source.
type CameraConfig struct {
	// Source is one of "webcam", "http", "webrtc", "none".
	Source       string `yaml:"source"`
	DeviceID     int    `yaml:"device_id"`
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
	FPS          int    `yaml:"fps"`
	Quality      int    `yaml:"quality"`
	WarmupFrames int    `yaml:"warmup_frames"`
	// URL is the snapshot endpoint for the http source, or the
	// signalling server for the webrtc source.
	URL string `yaml:"url"`
}

// VisionConfig configures prompting and the continuous loop.
type VisionConfig struct {
	IntervalSec float64  `yaml:"interval"`
	FirstPerson bool     `yaml:"first_person"`
	Prompt      string   `yaml:"prompt"`
	Providers   []string `yaml:"providers"`
}

// Interval returns the default continuous-loop interval.
func (v VisionConfig) Interval() time.Duration {
	return secs(v.IntervalSec)
}

// GeminiConfig configures the primary vision provider.
type GeminiConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// SpeechConfig configures the outbound speech notifier.
type SpeechConfig struct {
	Enabled    bool    `yaml:"enabled"`
	URL        string  `yaml:"url"`
	TimeoutSec float64 `yaml:"timeout"`
}

// Timeout returns the speech request timeout.
func (s SpeechConfig) Timeout() time.Duration {
	return secs(s.TimeoutSec)
}

// EventsConfig configures the JSONL event log. An empty path disables it.
type EventsConfig struct {
	Path string `yaml:"path"`
}

// MonitorConfig tunes the motion-gated monitor.
type MonitorConfig struct {
	FrameIntervalMs  int     `yaml:"frame_interval_ms"`
	ChangeThreshold  float64 `yaml:"change_threshold"`
	WindowMaxSec     float64 `yaml:"window_max"`
	QuietMs          int     `yaml:"quiet_ms"`
	CooldownSec      float64 `yaml:"cooldown"`
	NoveltyWindowSec float64 `yaml:"novelty_window"`
	NoveltyThreshold float64 `yaml:"novelty_threshold"`
}

// FrameInterval returns the monitor sampling interval.
func (m MonitorConfig) FrameInterval() time.Duration {
	return time.Duration(m.FrameIntervalMs) * time.Millisecond
}

// WindowMax returns the maximum aggregation window.
func (m MonitorConfig) WindowMax() time.Duration {
	return secs(m.WindowMaxSec)
}

// Quiet returns the trigger-quiet period that closes a window.
func (m MonitorConfig) Quiet() time.Duration {
	return time.Duration(m.QuietMs) * time.Millisecond
}

// Cooldown returns the minimum gap between spoken events.
func (m MonitorConfig) Cooldown() time.Duration {
	return secs(m.CooldownSec)
}

// NoveltyWindow returns how long a description suppresses near-duplicates.
func (m MonitorConfig) NoveltyWindow() time.Duration {
	return secs(m.NoveltyWindowSec)
}

// IngestConfig configures the background frame publisher.
type IngestConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 5002},
		Camera: CameraConfig{
			Source:       "webcam",
			DeviceID:     0,
			Width:        1920,
			Height:       1080,
			FPS:          30,
			Quality:      85,
			WarmupFrames: 5,
		},
		Vision: VisionConfig{
			IntervalSec: 5,
			FirstPerson: true,
		},
		Gemini: GeminiConfig{
			Model:       "gemini-1.5-flash",
			MaxTokens:   150,
			Temperature: 0.7,
		},
		Speech: SpeechConfig{
			Enabled:    true,
			URL:        "http://localhost:5001",
			TimeoutSec: 10,
		},
		Events: EventsConfig{Path: "vision_events.jsonl"},
		Monitor: MonitorConfig{
			FrameIntervalMs:  200,
			ChangeThreshold:  5.0,
			WindowMaxSec:     5,
			QuietMs:          250,
			CooldownSec:      2,
			NoveltyWindowSec: 60,
			NoveltyThreshold: 0.9,
		},
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. A missing file is not an error: defaults plus
// environment are returned. Path "" checks VISION_CONFIG, then
// "config.yaml".
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("VISION_CONFIG")
	}
	if path == "" {
		path = "config.yaml"
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv layers environment variables over the file values.
func (c *Config) applyEnv() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Gemini.APIKey = key
	} else if key := os.Getenv("GOOGLE_API_KEY"); key != "" && c.Gemini.APIKey == "" {
		c.Gemini.APIKey = key
	}
	if order := os.Getenv("VISION_PROVIDER_ORDER"); order != "" {
		c.Vision.Providers = splitList(order)
	}
	if path := os.Getenv("VISION_EVENT_LOG"); path != "" {
		c.Events.Path = path
	}
	if v := os.Getenv("INGEST_ENABLED"); v != "" {
		c.Ingest.Enabled = envBool(v)
	}
	if url := os.Getenv("INGEST_WS_URL"); url != "" {
		c.Ingest.URL = url
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
}

// Validate rejects configurations that cannot produce a working system.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d out of range", c.Server.Port)
	}
	switch c.Camera.Source {
	case "webcam", "http", "webrtc", "none", "":
	default:
		return fmt.Errorf("config: unknown camera source %q", c.Camera.Source)
	}
	if (c.Camera.Source == "http" || c.Camera.Source == "webrtc") && c.Camera.URL == "" {
		return fmt.Errorf("config: camera source %q requires a url", c.Camera.Source)
	}
	if c.Vision.IntervalSec <= 0 {
		return fmt.Errorf("config: vision interval must be > 0, got %v", c.Vision.IntervalSec)
	}
	if c.Monitor.NoveltyThreshold < 0 || c.Monitor.NoveltyThreshold > 1 {
		return fmt.Errorf("config: novelty_threshold must be within [0,1]")
	}
	return nil
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
