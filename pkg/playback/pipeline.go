// ABOUTME: Playback goroutine from correction strategy to output sink
// ABOUTME: Reads, converts, encodes and writes in a loop with xrun recovery and bounded shutdown
package playback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sendspin/sendspin-playback/pkg/audio"
	"github.com/Sendspin/sendspin-playback/pkg/audio/encode"
	"github.com/Sendspin/sendspin-playback/pkg/audio/output"
	"github.com/Sendspin/sendspin-playback/pkg/audio/resample"
)

// DefaultPeriodFrames is used when neither the config nor the sink gives a period
const DefaultPeriodFrames = 1024

var (
	ErrShutdownTimeout   = errors.New("playback did not stop in time")
	ErrAlreadyRunning    = errors.New("pipeline already running")
	ErrSinkNotConfigured = errors.New("sink not configured")
)

// StopMode selects how Stop ends playback
type StopMode int

const (
	// StopDrain finishes the current write and plays out the device buffer
	StopDrain StopMode = iota
	// StopDrop finishes the current write and discards the device buffer
	StopDrop
)

// Status is the pipeline state reported to the controlling layer
type Status int32

const (
	StatusIdle Status = iota
	StatusPlaying
	StatusDraining
	StatusStopped
	StatusDeviceError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPlaying:
		return "playing"
	case StatusDraining:
		return "draining"
	case StatusStopped:
		return "stopped"
	case StatusDeviceError:
		return "device error, reconnecting"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// PipelineConfig holds pipeline configuration
type PipelineConfig struct {
	// Source feeds the strategy; required unless Strategy is set
	Source Source

	// Sink must be configured before NewPipeline
	Sink *output.Sink

	// Strategy overrides StrategyName and Policy
	Strategy     CorrectionStrategy
	StrategyName string
	Policy       CorrectionPolicy

	// StreamFormat is the format the source produces. Zero means the sink's
	// format; a different sample rate enables software rate conversion.
	StreamFormat audio.Format

	// PeriodFrames is the number of frames per write (default: sink period)
	PeriodFrames int

	// Rand seeds the 16-bit dither; nil uses a time-seeded generator
	Rand *rand.Rand

	// Now returns the current time in microseconds (default: wall clock)
	Now func() int64

	// OnStateChange is called when the status changes
	OnStateChange func(Status)

	// OnError is called with fatal device errors
	OnError func(error)
}

// PipelineStats is a snapshot of playback counters
type PipelineStats struct {
	Status        Status
	Strategy      string
	PlaybackRate  float64
	Diagnostics   DiagnosticsSnapshot
	Latency       output.Latency
	DeviceFormat  audio.Format
	StreamRate    int
	XRuns         uint64
	Recoveries    uint64
	FramesWritten uint64
}

type workBuffers struct {
	samples []float32
	pcm     []byte
}

// strategyReader adapts a strategy to resample.Reader for the converter
type strategyReader struct {
	s   CorrectionStrategy
	now int64
}

func (r *strategyReader) Read(buf []float32) int {
	return r.s.Read(buf, r.now)
}

// Pipeline owns the playback goroutine. Run performs all device access;
// Stop, Stats and SetPlaybackRate may be called from other goroutines.
type Pipeline struct {
	cfg      PipelineConfig
	sink     *output.Sink
	strategy CorrectionStrategy
	encoder  *encode.PCMEncoder
	conv     *resample.Converter
	sreader  *strategyReader
	now      func() int64

	periodFrames int
	streamFormat audio.Format
	pool         sync.Pool

	status   atomic.Int32
	started  atomic.Bool
	stopMode atomic.Int32
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewPipeline wires a strategy, optional converter and encoder to a configured sink
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Sink == nil {
		return nil, errors.New("pipeline needs a sink")
	}
	switch st := cfg.Sink.State(); st {
	case output.SinkConfigured, output.SinkRunning:
	default:
		return nil, fmt.Errorf("%w: sink is %s", ErrSinkNotConfigured, st)
	}

	device := cfg.Sink.Format()
	stream := cfg.StreamFormat
	if stream.SampleRate == 0 {
		stream = device
	}
	if stream.Channels == 0 {
		stream.Channels = device.Channels
	}
	if stream.Channels != device.Channels {
		return nil, fmt.Errorf("stream has %d channels, device %d", stream.Channels, device.Channels)
	}

	period := cfg.PeriodFrames
	if period <= 0 {
		period = cfg.Sink.Latency().ActualPeriodFrames
	}
	if period <= 0 {
		period = DefaultPeriodFrames
	}

	strategy := cfg.Strategy
	if strategy == nil {
		policy := cfg.Policy
		if policy == (CorrectionPolicy{}) {
			policy = DefaultCorrectionPolicy()
		}
		var err error
		strategy, err = NewStrategy(cfg.StrategyName, cfg.Source, stream.Channels, policy, max(period, DefaultMaxReadFrames))
		if err != nil {
			return nil, fmt.Errorf("failed to create correction strategy: %w", err)
		}
	}

	enc, err := encode.NewPCM(device, cfg.Rand)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	p := &Pipeline{
		cfg:          cfg,
		sink:         cfg.Sink,
		strategy:     strategy,
		encoder:      enc,
		now:          cfg.Now,
		periodFrames: period,
		streamFormat: stream,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	if p.now == nil {
		p.now = func() int64 { return time.Now().UnixMicro() }
	}

	if stream.SampleRate != device.SampleRate {
		p.sreader = &strategyReader{s: strategy}
		p.conv, err = resample.NewConverter(p.sreader, stream.SampleRate, device.SampleRate, device.Channels)
		if err != nil {
			return nil, fmt.Errorf("failed to create rate converter: %w", err)
		}
		log.Printf("Converting %dHz stream to %dHz device rate", stream.SampleRate, device.SampleRate)
	}

	samples := period * device.Channels
	p.pool.New = func() any {
		return &workBuffers{
			samples: make([]float32, samples),
			pcm:     make([]byte, enc.EncodedSize(samples)),
		}
	}

	return p, nil
}

// Strategy returns the correction strategy in use
func (p *Pipeline) Strategy() CorrectionStrategy {
	return p.strategy
}

// Status returns the current status
func (p *Pipeline) Status() Status {
	return Status(p.status.Load())
}

// setStatus changes the status; a device error is final
func (p *Pipeline) setStatus(s Status) {
	for {
		cur := p.status.Load()
		if Status(cur) == StatusDeviceError || Status(cur) == s {
			return
		}
		if p.status.CompareAndSwap(cur, int32(s)) {
			break
		}
	}
	if p.cfg.OnStateChange != nil {
		p.cfg.OnStateChange(s)
	}
}

// SetPlaybackRate forwards a rate-change event to the strategy. It reports
// false when the strategy does not take a rate.
func (p *Pipeline) SetPlaybackRate(rate float64) bool {
	rs, ok := p.strategy.(RateSetter)
	if !ok {
		return false
	}
	rs.SetPlaybackRate(rate)
	return true
}

// Stats returns a snapshot of the playback counters
func (p *Pipeline) Stats() PipelineStats {
	s := PipelineStats{
		Status:        p.Status(),
		Strategy:      p.strategy.Name(),
		PlaybackRate:  1.0,
		Diagnostics:   p.strategy.Diagnostics().Snapshot(),
		Latency:       p.sink.Latency(),
		DeviceFormat:  p.sink.Format(),
		StreamRate:    p.streamFormat.SampleRate,
		XRuns:         p.sink.XRuns(),
		Recoveries:    p.sink.Recoveries(),
		FramesWritten: p.sink.FramesWritten(),
	}
	if rs, ok := p.strategy.(RateSetter); ok {
		s.PlaybackRate = rs.PlaybackRate()
	}
	return s
}

// Run is the playback loop. It returns nil after a requested stop or
// context cancellation, and a fatal *output.DeviceError if the device breaks.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(p.done)

	buf := p.pool.Get().(*workBuffers)
	defer p.pool.Put(buf)

	if p.conv != nil {
		defer p.conv.Close()
	}

	p.setStatus(StatusPlaying)
	log.Printf("Playback started: %s strategy, %d frames per write", p.strategy.Name(), p.periodFrames)

	for {
		select {
		case <-p.stopCh:
			return p.finish(StopMode(p.stopMode.Load()))
		case <-ctx.Done():
			return p.finish(StopDrop)
		default:
		}

		now := p.now()
		if p.conv != nil {
			p.sreader.now = now
			p.conv.Read(buf.samples)
		} else {
			p.strategy.Read(buf.samples, now)
		}

		n, err := p.encoder.EncodeInto(buf.pcm, buf.samples)
		if err != nil {
			return p.fail(&output.DeviceError{Op: "encode", Err: err})
		}
		if err := p.write(buf.pcm[:n]); err != nil {
			return p.fail(err)
		}
	}
}

// write hands data to the sink. An xrun or suspend gets one recovery; a
// second one before any frames are accepted is fatal.
func (p *Pipeline) write(data []byte) error {
	frameSize := p.sink.Format().FrameSize()
	recovered := false

	for off := 0; off+frameSize <= len(data); {
		n, err := p.sink.Write(data[off:])
		off += n * frameSize
		if n > 0 {
			recovered = false
		}
		if err == nil {
			if n == 0 {
				return nil
			}
			continue
		}

		if !output.IsRecoverable(err) {
			return err
		}
		if recovered {
			return &output.DeviceError{Op: "write", Err: fmt.Errorf("repeated failure after recovery: %w", err)}
		}
		log.Printf("Warning: %v, recovering output", err)
		if err := p.sink.Recover(err); err != nil {
			return err
		}
		recovered = true
	}
	return nil
}

// fail reports a fatal device error to the controlling layer
func (p *Pipeline) fail(err error) error {
	p.sink.MarkBroken()
	p.setStatus(StatusDeviceError)
	log.Printf("ERROR: output device failed, reconnecting: %v", err)
	if p.cfg.OnError != nil {
		p.cfg.OnError(err)
	}
	return err
}

// finish ends the loop according to mode
func (p *Pipeline) finish(mode StopMode) error {
	var err error
	switch mode {
	case StopDrain:
		p.setStatus(StatusDraining)
		err = p.sink.Drain()
	default:
		err = p.sink.Drop()
	}
	if output.IsFatal(err) {
		return p.fail(err)
	}
	if err != nil {
		log.Printf("Warning: stopping output: %v", err)
	}
	p.setStatus(StatusStopped)
	log.Printf("Playback stopped")
	return nil
}

// Stop asks the playback goroutine to exit and waits up to timeout. A device
// that does not return in time is treated as broken and ErrShutdownTimeout
// is returned.
func (p *Pipeline) Stop(mode StopMode, timeout time.Duration) error {
	p.stopOnce.Do(func() {
		p.stopMode.Store(int32(mode))
		close(p.stopCh)
	})
	if !p.started.Load() {
		p.setStatus(StatusStopped)
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
		err := fmt.Errorf("%w after %v", ErrShutdownTimeout, timeout)
		p.sink.MarkBroken()
		p.setStatus(StatusDeviceError)
		log.Printf("ERROR: output device unresponsive: %v", err)
		if p.cfg.OnError != nil {
			p.cfg.OnError(err)
		}
		return err
	}
}

// Done is closed when Run returns
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}
