// ABOUTME: Device interface and backend selection tests
// ABOUTME: Verifies every backend satisfies Device and capability helpers behave
package output

import (
	"errors"
	"strings"
	"testing"

	"github.com/Sendspin/sendspin-playback/pkg/audio"
)

func TestBackendsImplementDevice(t *testing.T) {
	var _ Device = (*ALSA)(nil)
	var _ Device = (*Malgo)(nil)
	var _ Device = (*Oto)(nil)
	var _ Device = (*PortAudio)(nil)
	var _ Device = (*WAV)(nil)
	var _ Device = (*Mock)(nil)
}

func TestNew(t *testing.T) {
	for _, name := range append(Backends(), "miniaudio", "file", "null", "ALSA") {
		dev, err := New(name)
		if err != nil {
			t.Errorf("New(%q) failed: %v", name, err)
			continue
		}
		if dev == nil {
			t.Errorf("New(%q) returned nil", name)
		}
	}

	_, err := New("pulse")
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if !strings.Contains(err.Error(), "alsa") {
		t.Errorf("expected available backends in error, got %v", err)
	}
}

func TestCapabilitiesSupports(t *testing.T) {
	listed := Capabilities{Rates: []int{44100, 48000}, MinChannels: 1, MaxChannels: 2, Formats: []audio.BitDepth{audio.Depth16}}
	ranged := Capabilities{MinRate: 8000, MaxRate: 192000, MinChannels: 1, MaxChannels: 8}

	tests := []struct {
		name string
		got  bool
		want bool
	}{
		{"listed rate", listed.SupportsRate(48000), true},
		{"unlisted rate", listed.SupportsRate(96000), false},
		{"range rate", ranged.SupportsRate(96000), true},
		{"above range", ranged.SupportsRate(384000), false},
		{"channels", listed.SupportsChannels(2), true},
		{"too many channels", listed.SupportsChannels(3), false},
		{"format", listed.SupportsFormat(audio.Depth16), true},
		{"missing format", listed.SupportsFormat(audio.Depth32), false},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, tt.got)
		}
	}

	if s := listed.String(); !strings.Contains(s, "44100 48000") || !strings.Contains(s, "S16_LE") {
		t.Errorf("unexpected capabilities string %q", s)
	}
}

func TestParamsLatencyFrames(t *testing.T) {
	p := Params{Format: audio.Format{SampleRate: 48000, Channels: 2, BitDepth: audio.Depth16}, LatencyMicros: 100_000}
	if got := p.LatencyFrames(); got != 4800 {
		t.Errorf("expected 4800 frames, got %d", got)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		fatal       bool
		recoverable bool
	}{
		{"xrun", ErrXRun, false, true},
		{"wrapped suspend", errors.Join(errors.New("write"), ErrSuspended), false, true},
		{"device error", &DeviceError{Op: "write", Err: ErrDeviceGone}, true, false},
		{"config error", &ConfigError{Err: ErrUnsupportedRate}, false, false},
		{"nil", nil, false, false},
	}

	for _, tt := range tests {
		if got := IsFatal(tt.err); got != tt.fatal {
			t.Errorf("%s: IsFatal expected %v, got %v", tt.name, tt.fatal, got)
		}
		if got := IsRecoverable(tt.err); got != tt.recoverable {
			t.Errorf("%s: IsRecoverable expected %v, got %v", tt.name, tt.recoverable, got)
		}
	}
}

func TestConfigErrorMessage(t *testing.T) {
	caps := Capabilities{Rates: []int{48000}, MinChannels: 2, MaxChannels: 2, Formats: []audio.BitDepth{audio.Depth32}}
	err := &ConfigError{
		Requested: audio.Format{SampleRate: 44100, Channels: 2, BitDepth: audio.Depth32},
		Err:       ErrUnsupportedRate,
		Supported: &caps,
	}
	msg := err.Error()
	if !strings.Contains(msg, "44100Hz") || !strings.Contains(msg, "rates [48000]") {
		t.Errorf("expected requested and supported formats in %q", msg)
	}
}
