// ABOUTME: PCM device interface definition and shared error types
// ABOUTME: Common contract for native playback backends driven by Sink
package output

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Sendspin/sendspin-playback/pkg/audio"
)

var (
	ErrDeviceNotFound      = errors.New("device not found")
	ErrDeviceBusy          = errors.New("device busy")
	ErrUnsupportedFormat   = errors.New("unsupported sample format")
	ErrUnsupportedRate     = errors.New("unsupported sample rate")
	ErrUnsupportedChannels = errors.New("unsupported channel count")
	ErrXRun                = errors.New("buffer underrun")
	ErrSuspended           = errors.New("device suspended")
	ErrDeviceGone          = errors.New("device disconnected")
	ErrInvalidState        = errors.New("invalid sink state")
	ErrNotOpen             = errors.New("device not open")
	ErrBackendUnavailable  = errors.New("backend not available")
)

// StandardRates are the rates tried when probing a device
var StandardRates = []int{8000, 11025, 16000, 22050, 32000, 44100, 48000, 88200, 96000, 176400, 192000, 352800, 384000}

// Access selects how frames are handed to the driver
type Access int

const (
	AccessInterleaved Access = iota
	AccessMMapInterleaved
)

func (a Access) String() string {
	if a == AccessMMapInterleaved {
		return "mmap"
	}
	return "rw"
}

// Params is the hardware configuration requested from a device
type Params struct {
	Format        audio.Format
	Access        Access
	SoftResample  bool // accept a nearby rate if the exact one is refused
	LatencyMicros int
	PeriodFrames  int // 0 derives the period from LatencyMicros
}

// LatencyFrames converts the latency hint to frames at the requested rate
func (p Params) LatencyFrames() int {
	return int(int64(p.Format.SampleRate) * int64(p.LatencyMicros) / 1_000_000)
}

// DeviceState mirrors the driver-level PCM state
type DeviceState int

const (
	StateClosed DeviceState = iota
	StateOpen
	StateSetup
	StatePrepared
	StateRunning
	StateXRun
	StateDraining
	StatePaused
	StateSuspended
	StateDisconnected
)

func (s DeviceState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateSetup:
		return "setup"
	case StatePrepared:
		return "prepared"
	case StateRunning:
		return "running"
	case StateXRun:
		return "xrun"
	case StateDraining:
		return "draining"
	case StatePaused:
		return "paused"
	case StateSuspended:
		return "suspended"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Capabilities describes what a device accepts
type Capabilities struct {
	Rates       []int // discrete rates known to work
	MinRate     int
	MaxRate     int
	MinChannels int
	MaxChannels int
	Formats     []audio.BitDepth
}

// SupportsRate reports whether rate is listed, or inside the range when no list is known
func (c Capabilities) SupportsRate(rate int) bool {
	if len(c.Rates) > 0 {
		return slices.Contains(c.Rates, rate)
	}
	return rate >= c.MinRate && (c.MaxRate == 0 || rate <= c.MaxRate)
}

func (c Capabilities) SupportsChannels(channels int) bool {
	return channels >= c.MinChannels && (c.MaxChannels == 0 || channels <= c.MaxChannels)
}

func (c Capabilities) SupportsFormat(d audio.BitDepth) bool {
	return slices.Contains(c.Formats, d)
}

func (c Capabilities) String() string {
	var b strings.Builder
	if len(c.Rates) > 0 {
		rates := make([]string, len(c.Rates))
		for i, r := range c.Rates {
			rates[i] = fmt.Sprint(r)
		}
		fmt.Fprintf(&b, "rates [%s]", strings.Join(rates, " "))
	} else {
		fmt.Fprintf(&b, "rates %d-%d", c.MinRate, c.MaxRate)
	}
	fmt.Fprintf(&b, ", channels %d-%d", c.MinChannels, c.MaxChannels)
	formats := make([]string, len(c.Formats))
	for i, f := range c.Formats {
		formats[i] = f.String()
	}
	fmt.Fprintf(&b, ", formats [%s]", strings.Join(formats, " "))
	return b.String()
}

// Device is a native PCM playback device. A Device is owned by exactly one
// Sink and only used from one goroutine at a time.
type Device interface {
	// Open claims the named device
	Open(name string) error

	// SetParams applies the hardware configuration
	SetParams(p Params) error

	// Write blocks until frames from data are queued and returns how many were
	// accepted. ErrXRun and ErrSuspended are recoverable via Recover.
	Write(data []byte, frames int) (int, error)

	// GetParams returns the buffer and period sizes the driver actually allocated
	GetParams() (bufferFrames, periodFrames int, err error)

	// Recover makes one attempt to bring the device back after err
	Recover(err error) error

	// Drain plays out pending frames then stops
	Drain() error

	// Drop discards pending frames immediately
	Drop() error

	// State returns the driver state
	State() DeviceState

	// Capabilities probes supported rates, channels and formats
	Capabilities() (Capabilities, error)

	// Close releases the device
	Close() error
}

// RateReporter is implemented by devices that may run at a rate other than the
// one requested when SoftResample is set
type RateReporter interface {
	ActualRate() int
}

// ConfigError is returned when a device refuses a configuration. Supported is
// filled when the device could be probed.
type ConfigError struct {
	Requested audio.Format
	Err       error
	Supported *Capabilities
}

func (e *ConfigError) Error() string {
	if e.Supported != nil {
		return fmt.Sprintf("cannot configure %s: %v (device supports %s)", e.Requested, e.Err, e.Supported)
	}
	return fmt.Sprintf("cannot configure %s: %v", e.Requested, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// DeviceError reports that a device session is broken and must be reopened
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s failed: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err ends the device session
func IsFatal(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}

// IsRecoverable reports whether err can be handled by Sink.Recover
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrXRun) || errors.Is(err, ErrSuspended)
}

// Backends lists the names accepted by New
func Backends() []string {
	return []string{"alsa", "malgo", "oto", "portaudio", "wav", "mock"}
}

// New creates a device for the named backend
func New(backend string) (Device, error) {
	switch strings.ToLower(backend) {
	case "alsa":
		return NewALSA(), nil
	case "malgo", "miniaudio":
		return NewMalgo(), nil
	case "oto":
		return NewOto(), nil
	case "portaudio":
		return NewPortAudio(), nil
	case "wav", "file":
		return NewWAV(true), nil
	case "mock", "null":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown output backend %q (available: %s)", backend, strings.Join(Backends(), ", "))
	}
}
