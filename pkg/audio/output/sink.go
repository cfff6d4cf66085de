// ABOUTME: Hardware output sink owning a PCM device session
// ABOUTME: Enforces the open/configure/write/recover lifecycle and measures real device latency
package output

import (
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/Sendspin/sendspin-playback/pkg/audio"
)

// SinkState is the lifecycle state of a Sink
type SinkState int32

const (
	SinkClosed SinkState = iota
	SinkOpened
	SinkConfigured
	SinkRunning
	SinkDraining
	SinkXRunRecovering
	SinkSuspended
	SinkBroken
)

func (s SinkState) String() string {
	switch s {
	case SinkClosed:
		return "closed"
	case SinkOpened:
		return "opened"
	case SinkConfigured:
		return "configured"
	case SinkRunning:
		return "running"
	case SinkDraining:
		return "draining"
	case SinkXRunRecovering:
		return "xrun-recovering"
	case SinkSuspended:
		return "suspended"
	case SinkBroken:
		return "broken"
	default:
		return fmt.Sprintf("sink(%d)", int(s))
	}
}

// Latency is the device latency measured after configuration
type Latency struct {
	RequestedMicros    int
	ActualBufferFrames int
	ActualPeriodFrames int
	ActualLatencyMs    float64
}

// Sink owns one Device for the duration of a playback session. Writes,
// recovery and shutdown happen on the playback goroutine; State, Latency and
// the counters may be read from anywhere.
type Sink struct {
	dev  Device
	name string

	state   atomic.Int32
	latency atomic.Pointer[Latency]

	format    audio.Format
	frameSize int

	xruns      atomic.Uint64
	recoveries atomic.Uint64
	frames     atomic.Uint64
}

// NewSink wraps dev
func NewSink(dev Device) *Sink {
	return &Sink{dev: dev}
}

// State returns the current lifecycle state
func (s *Sink) State() SinkState {
	return SinkState(s.state.Load())
}

// setState moves to st. Broken only leaves through Close, so a write that
// returns after MarkBroken cannot revive the session.
func (s *Sink) setState(st SinkState) {
	for {
		cur := s.state.Load()
		if SinkState(cur) == SinkBroken && st != SinkClosed {
			return
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			return
		}
	}
}

// Latency returns the last measured latency; zero before Configure
func (s *Sink) Latency() Latency {
	if l := s.latency.Load(); l != nil {
		return *l
	}
	return Latency{}
}

// Format returns the configured format, with the rate the device actually runs at
func (s *Sink) Format() audio.Format {
	return s.format
}

// XRuns returns the number of underruns reported by the device
func (s *Sink) XRuns() uint64 {
	return s.xruns.Load()
}

// Recoveries returns the number of successful recoveries
func (s *Sink) Recoveries() uint64 {
	return s.recoveries.Load()
}

// FramesWritten returns the total frames accepted by the device
func (s *Sink) FramesWritten() uint64 {
	return s.frames.Load()
}

// Open claims the named device
func (s *Sink) Open(name string) error {
	if st := s.State(); st != SinkClosed {
		return fmt.Errorf("%w: open in state %s", ErrInvalidState, st)
	}
	if err := s.dev.Open(name); err != nil {
		return fmt.Errorf("failed to open device %q: %w", name, err)
	}
	s.name = name
	s.setState(SinkOpened)
	return nil
}

// Configure applies format and access and measures the latency the driver
// actually delivers. latencyMicros is only a hint; the returned Latency is what
// sync logic must use. Reconfiguring a configured sink recomputes it.
func (s *Sink) Configure(format audio.Format, access Access, latencyMicros int, softResample bool) (Latency, error) {
	switch st := s.State(); st {
	case SinkOpened, SinkConfigured:
	default:
		return Latency{}, fmt.Errorf("%w: configure in state %s", ErrInvalidState, st)
	}

	if err := format.Validate(); err != nil {
		return Latency{}, err
	}

	caps, probeErr := s.dev.Capabilities()
	var supported *Capabilities
	if probeErr == nil {
		supported = &caps
		if err := checkSupported(caps, format, softResample); err != nil {
			return Latency{}, &ConfigError{Requested: format, Err: err, Supported: supported}
		}
	}

	params := Params{
		Format:        format,
		Access:        access,
		SoftResample:  softResample,
		LatencyMicros: latencyMicros,
	}
	if err := s.dev.SetParams(params); err != nil {
		if isConfigErr(err) {
			return Latency{}, &ConfigError{Requested: format, Err: err, Supported: supported}
		}
		return Latency{}, fmt.Errorf("failed to set params: %w", err)
	}

	bufferFrames, periodFrames, err := s.dev.GetParams()
	if err != nil {
		return Latency{}, fmt.Errorf("failed to query params: %w", err)
	}

	actual := format
	if rr, ok := s.dev.(RateReporter); ok && rr.ActualRate() > 0 {
		actual.SampleRate = rr.ActualRate()
	}

	lat := Latency{
		RequestedMicros:    latencyMicros,
		ActualBufferFrames: bufferFrames,
		ActualPeriodFrames: periodFrames,
		ActualLatencyMs:    float64(bufferFrames) * 1000 / float64(actual.SampleRate),
	}
	s.latency.Store(&lat)
	s.format = actual
	s.frameSize = actual.FrameSize()
	s.setState(SinkConfigured)

	log.Printf("Output configured: %s on %q, requested %.1fms, actual buffer %d frames / period %d frames = %.1fms",
		actual, s.name, float64(latencyMicros)/1000, bufferFrames, periodFrames, lat.ActualLatencyMs)

	return lat, nil
}

// Write sends whole frames from data to the device, blocking until accepted.
// On ErrXRun or ErrSuspended the sink waits for Recover. Any other device
// failure breaks the session and is returned as *DeviceError.
func (s *Sink) Write(data []byte) (int, error) {
	switch st := s.State(); st {
	case SinkConfigured, SinkRunning:
	case SinkBroken:
		return 0, &DeviceError{Op: "write", Err: ErrInvalidState}
	default:
		return 0, fmt.Errorf("%w: write in state %s", ErrInvalidState, st)
	}

	frames := len(data) / s.frameSize
	if frames == 0 {
		return 0, nil
	}

	n, err := s.dev.Write(data[:frames*s.frameSize], frames)
	if n > 0 {
		s.frames.Add(uint64(n))
	}
	if err == nil {
		s.setState(SinkRunning)
		return n, nil
	}

	switch {
	case errors.Is(err, ErrXRun):
		s.xruns.Add(1)
		s.setState(SinkXRunRecovering)
		return n, err
	case errors.Is(err, ErrSuspended):
		s.setState(SinkSuspended)
		return n, err
	default:
		s.setState(SinkBroken)
		return n, &DeviceError{Op: "write", Err: err}
	}
}

// Recover makes a single recovery attempt after an xrun or suspend. If it
// fails the session is broken.
func (s *Sink) Recover(cause error) error {
	switch st := s.State(); st {
	case SinkXRunRecovering, SinkSuspended:
	default:
		return fmt.Errorf("%w: recover in state %s", ErrInvalidState, st)
	}

	if err := s.dev.Recover(cause); err != nil {
		s.setState(SinkBroken)
		log.Printf("ERROR: device recovery failed after %v: %v", cause, err)
		return &DeviceError{Op: "recover", Err: err}
	}

	s.recoveries.Add(1)
	s.setState(SinkConfigured)
	log.Printf("Warning: recovered from %v", cause)
	return nil
}

// Drain plays out pending audio and leaves the sink configured
func (s *Sink) Drain() error {
	switch st := s.State(); st {
	case SinkRunning, SinkConfigured:
	default:
		return fmt.Errorf("%w: drain in state %s", ErrInvalidState, st)
	}

	s.setState(SinkDraining)
	if err := s.dev.Drain(); err != nil {
		s.setState(SinkBroken)
		return &DeviceError{Op: "drain", Err: err}
	}
	s.setState(SinkConfigured)
	return nil
}

// Drop discards pending audio immediately
func (s *Sink) Drop() error {
	switch st := s.State(); st {
	case SinkRunning, SinkConfigured, SinkXRunRecovering, SinkSuspended, SinkDraining:
	default:
		return fmt.Errorf("%w: drop in state %s", ErrInvalidState, st)
	}

	if err := s.dev.Drop(); err != nil {
		s.setState(SinkBroken)
		return &DeviceError{Op: "drop", Err: err}
	}
	s.setState(SinkConfigured)
	return nil
}

// MarkBroken flags the session as unusable, for example when a blocking
// write never returned
func (s *Sink) MarkBroken() {
	s.setState(SinkBroken)
}

// Close releases the device. It is safe to call more than once.
func (s *Sink) Close() error {
	if s.State() == SinkClosed {
		return nil
	}
	s.setState(SinkClosed)
	s.latency.Store(nil)
	if err := s.dev.Close(); err != nil {
		return fmt.Errorf("failed to close device: %w", err)
	}
	return nil
}

func checkSupported(caps Capabilities, format audio.Format, softResample bool) error {
	if len(caps.Formats) > 0 && !caps.SupportsFormat(format.BitDepth) {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format.BitDepth)
	}
	if !caps.SupportsChannels(format.Channels) {
		return fmt.Errorf("%w: %d", ErrUnsupportedChannels, format.Channels)
	}
	if !softResample && !caps.SupportsRate(format.SampleRate) {
		return fmt.Errorf("%w: %d", ErrUnsupportedRate, format.SampleRate)
	}
	return nil
}

func isConfigErr(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrUnsupportedRate) ||
		errors.Is(err, ErrUnsupportedChannels)
}
