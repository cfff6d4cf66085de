// ABOUTME: Player configuration loaded from defaults, file, environment and flags
// ABOUTME: Uses viper for layering and yaml.v3 to print the effective settings
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sendspin/sendspin-playback/pkg/audio"
	"github.com/Sendspin/sendspin-playback/pkg/audio/output"
	"github.com/Sendspin/sendspin-playback/pkg/playback"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. SENDSPIN_LATENCY_MS
const EnvPrefix = "SENDSPIN"

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Correction holds the drop/insert policy knobs
type Correction struct {
	DeadbandMicros    int64  `mapstructure:"deadband_us" yaml:"deadband_us"`
	MinIntervalFrames uint32 `mapstructure:"min_interval_frames" yaml:"min_interval_frames"`
	MaxIntervalFrames uint32 `mapstructure:"max_interval_frames" yaml:"max_interval_frames"`
}

// Policy converts the settings to a playback policy
func (c Correction) Policy() playback.CorrectionPolicy {
	return playback.CorrectionPolicy{
		DeadbandMicros:    c.DeadbandMicros,
		MinIntervalFrames: c.MinIntervalFrames,
		MaxIntervalFrames: c.MaxIntervalFrames,
	}
}

// Config is the effective player configuration
type Config struct {
	Backend      string `mapstructure:"backend" yaml:"backend"`
	Device       string `mapstructure:"device" yaml:"device"`
	SampleRate   int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels     int    `mapstructure:"channels" yaml:"channels"`
	BitDepth     string `mapstructure:"bit_depth" yaml:"bit_depth"`
	LatencyMs    int    `mapstructure:"latency_ms" yaml:"latency_ms"`
	PeriodFrames int    `mapstructure:"period_frames" yaml:"period_frames"`
	SoftResample bool   `mapstructure:"soft_resample" yaml:"soft_resample"`

	Strategy   string     `mapstructure:"strategy" yaml:"strategy"`
	Correction Correction `mapstructure:"correction" yaml:"correction"`

	StaticDelayMs   int           `mapstructure:"static_delay_ms" yaml:"static_delay_ms"`
	BufferMs        int           `mapstructure:"buffer_ms" yaml:"buffer_ms"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"-"`

	Source string  `mapstructure:"source" yaml:"source"`
	ToneHz float64 `mapstructure:"tone_hz" yaml:"tone_hz"`
	Loop   bool    `mapstructure:"loop" yaml:"loop"`

	LogFile string `mapstructure:"log_file" yaml:"log_file"`
	NoTUI   bool   `mapstructure:"no_tui" yaml:"no_tui"`
}

func setDefaults(v *viper.Viper) {
	policy := playback.DefaultCorrectionPolicy()

	v.SetDefault("backend", "alsa")
	v.SetDefault("device", "hw:0,0")
	v.SetDefault("sample_rate", 48000)
	v.SetDefault("channels", 2)
	v.SetDefault("bit_depth", "16")
	v.SetDefault("latency_ms", 100)
	v.SetDefault("period_frames", 0)
	v.SetDefault("soft_resample", true)
	v.SetDefault("strategy", playback.StrategyDropInsert)
	v.SetDefault("correction.deadband_us", policy.DeadbandMicros)
	v.SetDefault("correction.min_interval_frames", policy.MinIntervalFrames)
	v.SetDefault("correction.max_interval_frames", policy.MaxIntervalFrames)
	v.SetDefault("static_delay_ms", 0)
	v.SetDefault("buffer_ms", 500)
	v.SetDefault("shutdown_timeout", "2s")
	v.SetDefault("source", "")
	v.SetDefault("tone_hz", 440.0)
	v.SetDefault("loop", true)
	v.SetDefault("log_file", "sendspin-playback.log")
	v.SetDefault("no_tui", false)
}

// Load layers defaults, the config file, SENDSPIN_* environment variables
// and overrides (usually flags the user set), in increasing priority. An
// empty path looks for sendspin.{yaml,toml,json} in the working directory
// and ~/.config/sendspin; not finding one is fine.
func Load(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sendspin")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "sendspin"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		log.Printf("No config file found, using defaults")
	} else {
		log.Printf("Loaded config from %s", v.ConfigFileUsed())
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate reports the first setting the player cannot run with
func (c *Config) Validate() error {
	if !knownBackend(c.Backend) {
		return fmt.Errorf("%w: unknown backend %q (available: %s)", ErrInvalidConfig, c.Backend, strings.Join(output.Backends(), ", "))
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample_rate must be > 0, got %d", ErrInvalidConfig, c.SampleRate)
	}
	if c.Channels < 1 {
		return fmt.Errorf("%w: channels must be >= 1, got %d", ErrInvalidConfig, c.Channels)
	}
	if _, err := audio.ParseBitDepth(c.BitDepth); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.LatencyMs <= 0 {
		return fmt.Errorf("%w: latency_ms must be > 0, got %d", ErrInvalidConfig, c.LatencyMs)
	}
	if c.PeriodFrames < 0 {
		return fmt.Errorf("%w: period_frames must be >= 0, got %d", ErrInvalidConfig, c.PeriodFrames)
	}
	if !knownStrategy(c.Strategy) {
		return fmt.Errorf("%w: unknown strategy %q (available: %s)", ErrInvalidConfig, c.Strategy, strings.Join(playback.Strategies(), ", "))
	}
	if err := c.Correction.Policy().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.StaticDelayMs < 0 {
		return fmt.Errorf("%w: static_delay_ms must be >= 0, got %d", ErrInvalidConfig, c.StaticDelayMs)
	}
	if c.BufferMs <= 0 {
		return fmt.Errorf("%w: buffer_ms must be > 0, got %d", ErrInvalidConfig, c.BufferMs)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown_timeout must be > 0, got %v", ErrInvalidConfig, c.ShutdownTimeout)
	}
	if c.Source == "" && c.ToneHz <= 0 {
		return fmt.Errorf("%w: tone_hz must be > 0, got %v", ErrInvalidConfig, c.ToneHz)
	}
	return nil
}

// Format returns the requested device format. Call after Validate.
func (c *Config) Format() audio.Format {
	depth, _ := audio.ParseBitDepth(c.BitDepth)
	return audio.Format{SampleRate: c.SampleRate, Channels: c.Channels, BitDepth: depth}
}

// YAML renders the effective configuration
func (c *Config) YAML() (string, error) {
	out := struct {
		Config          `yaml:",inline"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	}{*c, c.ShutdownTimeout.String()}

	data, err := yaml.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return string(data), nil
}

func knownBackend(name string) bool {
	name = strings.ToLower(name)
	switch name {
	case "miniaudio", "file", "null":
		return true
	}
	for _, b := range output.Backends() {
		if b == name {
			return true
		}
	}
	return false
}

func knownStrategy(name string) bool {
	if name == "" {
		return true
	}
	for _, s := range playback.Strategies() {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}
