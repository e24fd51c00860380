package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if cfg.Server.Addr() != "0.0.0.0:5002" {
		t.Errorf("expected default addr 0.0.0.0:5002, got %s", cfg.Server.Addr())
	}
	if cfg.Vision.Interval() != 5*time.Second {
		t.Errorf("expected 5s interval, got %v", cfg.Vision.Interval())
	}
	if !cfg.Vision.FirstPerson {
		t.Error("expected first_person to default to true")
	}
	if cfg.Gemini.Model != "gemini-1.5-flash" {
		t.Errorf("unexpected default model %q", cfg.Gemini.Model)
	}
	if cfg.Camera.WarmupFrames != 5 {
		t.Errorf("expected 5 warmup frames, got %d", cfg.Camera.WarmupFrames)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
server:
  host: 127.0.0.1
  port: 8080
camera:
  source: http
  url: http://cam.local/snapshot.jpg
vision:
  interval: 2.5
  first_person: false
speech:
  enabled: false
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr() != "127.0.0.1:8080" {
		t.Errorf("addr = %s", cfg.Server.Addr())
	}
	if cfg.Camera.Source != "http" {
		t.Errorf("camera source = %q", cfg.Camera.Source)
	}
	if cfg.Vision.Interval() != 2500*time.Millisecond {
		t.Errorf("interval = %v", cfg.Vision.Interval())
	}
	if cfg.Vision.FirstPerson {
		t.Error("first_person should be false")
	}
	if cfg.Speech.Enabled {
		t.Error("speech should be disabled")
	}
	// Untouched sections keep their defaults.
	if cfg.Gemini.MaxTokens != 150 {
		t.Errorf("gemini max_tokens = %d", cfg.Gemini.MaxTokens)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
	if cfg.Server.Port != 5002 {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key-123")
	t.Setenv("VISION_PROVIDER_ORDER", "openai, claude")
	t.Setenv("VISION_EVENT_LOG", "/tmp/events.jsonl")
	t.Setenv("INGEST_ENABLED", "true")
	t.Setenv("INGEST_WS_URL", "ws://ingest:9000/push")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Gemini.APIKey != "test-key-123" {
		t.Errorf("api key = %q", cfg.Gemini.APIKey)
	}
	if len(cfg.Vision.Providers) != 2 || cfg.Vision.Providers[0] != "openai" || cfg.Vision.Providers[1] != "claude" {
		t.Errorf("providers = %v", cfg.Vision.Providers)
	}
	if cfg.Events.Path != "/tmp/events.jsonl" {
		t.Errorf("events path = %q", cfg.Events.Path)
	}
	if !cfg.Ingest.Enabled || cfg.Ingest.URL != "ws://ingest:9000/push" {
		t.Errorf("ingest = %+v", cfg.Ingest)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.Vision.IntervalSec = 0 }},
		{"negative interval", func(c *Config) { c.Vision.IntervalSec = -1 }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"unknown source", func(c *Config) { c.Camera.Source = "laser" }},
		{"http source without url", func(c *Config) { c.Camera.Source = "http"; c.Camera.URL = "" }},
		{"novelty out of range", func(c *Config) { c.Monitor.NoveltyThreshold = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadBadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error for malformed yaml")
	}
}
