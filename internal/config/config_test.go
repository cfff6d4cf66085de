// ABOUTME: Tests for configuration loading and validation
// ABOUTME: Covers defaults, file and environment layering, overrides and YAML output
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sendspin/sendspin-playback/pkg/audio"
	"github.com/Sendspin/sendspin-playback/pkg/playback"
	"gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	if cfg.Backend != "alsa" || cfg.Device != "hw:0,0" {
		t.Errorf("unexpected device %s/%s", cfg.Backend, cfg.Device)
	}
	if cfg.Format() != (audio.Format{SampleRate: 48000, Channels: 2, BitDepth: audio.Depth16}) {
		t.Errorf("unexpected format %v", cfg.Format())
	}
	if cfg.Correction.Policy() != playback.DefaultCorrectionPolicy() {
		t.Errorf("expected default policy, got %+v", cfg.Correction)
	}
	if cfg.ShutdownTimeout != 2*time.Second {
		t.Errorf("expected 2s shutdown timeout, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Strategy != playback.StrategyDropInsert {
		t.Errorf("expected dropinsert, got %q", cfg.Strategy)
	}
}

func TestLoadLayering(t *testing.T) {
	path := writeFile(t, "player.yaml", `
backend: malgo
latency_ms: 80
strategy: rate
correction:
  deadband_us: 3000
shutdown_timeout: 500ms
`)
	t.Setenv("SENDSPIN_LATENCY_MS", "120")
	t.Setenv("SENDSPIN_CORRECTION_MAX_INTERVAL_FRAMES", "800")

	cfg, err := Load(path, map[string]any{"backend": "mock"})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"override beats file", cfg.Backend, "mock"},
		{"env beats file", cfg.LatencyMs, 120},
		{"file beats default", cfg.Strategy, "rate"},
		{"nested file key", cfg.Correction.DeadbandMicros, int64(3000)},
		{"nested env key", cfg.Correction.MaxIntervalFrames, uint32(800)},
		{"untouched default", cfg.Correction.MinIntervalFrames, uint32(10)},
		{"duration", cfg.ShutdownTimeout, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, tt.got)
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("expected error for a missing explicit config file")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeFile(t, "bad.yaml", "backend: [unterminated\n")
	if _, err := Load(path, nil); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"backend", func(c *Config) { c.Backend = "jack" }},
		{"rate", func(c *Config) { c.SampleRate = 0 }},
		{"channels", func(c *Config) { c.Channels = 0 }},
		{"bit depth", func(c *Config) { c.BitDepth = "12" }},
		{"latency", func(c *Config) { c.LatencyMs = 0 }},
		{"period", func(c *Config) { c.PeriodFrames = -1 }},
		{"strategy", func(c *Config) { c.Strategy = "skip" }},
		{"interval order", func(c *Config) { c.Correction.MinIntervalFrames = 600 }},
		{"negative deadband", func(c *Config) { c.Correction.DeadbandMicros = -1 }},
		{"static delay", func(c *Config) { c.StaticDelayMs = -5 }},
		{"buffer", func(c *Config) { c.BufferMs = 0 }},
		{"shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }},
		{"tone", func(c *Config) { c.ToneHz = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			cfg, err := Load("", nil)
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestValidateAcceptsAliases(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, backend := range []string{"miniaudio", "file", "null", "MOCK"} {
		cfg, err := Load("", map[string]any{"backend": backend})
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("%s: unexpected error %v", backend, err)
		}
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("", map[string]any{"static_delay_ms": 25})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	out, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML() failed: %v", err)
	}
	if !strings.Contains(out, "shutdown_timeout: 2s") {
		t.Errorf("expected readable duration, got:\n%s", out)
	}

	// the dump is itself a valid config file
	path := writeFile(t, "effective.yaml", out)
	again, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() of dumped config failed: %v", err)
	}
	if *again != *cfg {
		t.Errorf("expected %+v, got %+v", *cfg, *again)
	}

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(out), &raw); err != nil {
		t.Fatalf("dump is not valid yaml: %v", err)
	}
	if _, ok := raw["correction"].(map[string]any); !ok {
		t.Errorf("expected nested correction section, got %T", raw["correction"])
	}
}
