// ABOUTME: Scripted Source used by the playback tests
// ABOUTME: Generates a tone or a ramp, starves on demand and models sync error feedback
package playback

import (
	"math"
	"sync/atomic"
)

type testSource struct {
	channels int
	rate     int

	// gen returns the sample for a frame and channel; nil means a ramp
	gen   func(frame, channel int) float32
	limit int // frames; 0 means unlimited

	// starve returns true for read numbers (1-based) that deliver nothing
	starve    func(read int) bool
	afterRead func(read, frames int)

	// errMicros is the reported sync error. With model set, corrections
	// move it the way the real schedule would.
	errMicros atomic.Int64
	model     bool

	frame int
	reads int

	dropped       uint64
	inserted      uint64
	notifications int

	upstreamDropped atomic.Uint64
}

func newTestSource(channels int) *testSource {
	return &testSource{channels: channels, rate: 48000}
}

func rampSample(frame, channel int) float32 {
	return float32(frame) + float32(channel)*0.25
}

func toneGen(freq, rate float64, amplitude float32) func(frame, channel int) float32 {
	return func(frame, channel int) float32 {
		return amplitude * float32(math.Sin(2*math.Pi*freq*float64(frame)/rate))
	}
}

func (s *testSource) Read(buf []float32, nowMicros int64) int {
	s.reads++
	if s.starve != nil && s.starve(s.reads) {
		if s.afterRead != nil {
			s.afterRead(s.reads, 0)
		}
		return 0
	}

	frames := len(buf) / s.channels
	if s.limit > 0 {
		frames = min(frames, s.limit-s.frame)
	}
	gen := s.gen
	if gen == nil {
		gen = rampSample
	}
	for f := 0; f < frames; f++ {
		for c := 0; c < s.channels; c++ {
			buf[f*s.channels+c] = gen(s.frame+f, c)
		}
	}
	s.frame += frames
	if s.afterRead != nil {
		s.afterRead(s.reads, frames)
	}
	return frames * s.channels
}

func (s *testSource) SmoothedSyncErrorMicros() int64 {
	return s.errMicros.Load()
}

func (s *testSource) NotifyExternalCorrection(dropped, inserted uint64) {
	s.dropped += dropped
	s.inserted += inserted
	s.notifications++
	if s.model {
		// a dropped frame catches up one frame of time, an inserted one gives it back
		net := (int64(dropped) - int64(inserted)) / int64(s.channels)
		s.errMicros.Add(-net * 1_000_000 / int64(s.rate))
	}
}

func (s *testSource) DroppedSamples() uint64 {
	return s.upstreamDropped.Load()
}

// plainSource hides DroppedSamples from the strategy
type plainSource struct{ s *testSource }

func (p plainSource) Read(buf []float32, nowMicros int64) int { return p.s.Read(buf, nowMicros) }
func (p plainSource) SmoothedSyncErrorMicros() int64           { return p.s.SmoothedSyncErrorMicros() }
func (p plainSource) NotifyExternalCorrection(dropped, inserted uint64) {
	p.s.NotifyExternalCorrection(dropped, inserted)
}
