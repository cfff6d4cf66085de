// ABOUTME: Continuous rate correction through the linear resampler
// ABOUTME: Reads the source raw and plays it at an externally driven rate, reporting the net correction
package playback

import (
	"github.com/Sendspin/sendspin-playback/pkg/audio"
	"github.com/Sendspin/sendspin-playback/pkg/audio/resample"
)

// rawReader adapts a Source to resample.Reader for one strategy read
type rawReader struct {
	src Source
	now int64
	got int
}

func (r *rawReader) Read(buf []float32) int {
	n := r.src.Read(buf, r.now)
	if n <= 0 {
		return 0
	}
	n = min(n, len(buf))
	r.got += n
	return n
}

// RateCorrector plays the source through a Resampler. The rate comes from
// SetPlaybackRate; the frames it gains or loses against real time are
// reported to the source as dropped or inserted samples.
type RateCorrector struct {
	src      Source
	channels int

	raw *rawReader
	rs  *resample.Resampler

	session *Session
	diag    *Diagnostics
	lastNet int64
}

// NewRateCorrector creates a rate strategy. bufferFrames sizes the resampler's
// working buffer; 0 picks the default.
func NewRateCorrector(src Source, channels, bufferFrames int) (*RateCorrector, error) {
	if channels < 1 {
		return nil, audio.ErrInvalidFormat
	}
	raw := &rawReader{src: src}
	return &RateCorrector{
		src:      src,
		channels: channels,
		raw:      raw,
		rs:       resample.New(raw, channels, bufferFrames),
		session:  NewSession(channels),
		diag:     newDiagnostics(src),
	}, nil
}

func (c *RateCorrector) Name() string { return StrategyRate }

func (c *RateCorrector) Session() *Session { return c.session }

func (c *RateCorrector) Diagnostics() *Diagnostics { return c.diag }

// SetPlaybackRate may be called from any goroutine; the rate is clamped to
// [resample.MinRate, resample.MaxRate]
func (c *RateCorrector) SetPlaybackRate(rate float64) {
	c.rs.SetPlaybackRate(rate)
}

func (c *RateCorrector) PlaybackRate() float64 {
	return c.rs.PlaybackRate()
}

// Reset discards buffered input and starts a new session
func (c *RateCorrector) Reset() {
	c.rs.Reset()
	c.session.Reset()
}

// Read fills out completely and returns len(out)
func (c *RateCorrector) Read(out []float32, nowMicros int64) int {
	ch := c.channels
	c.diag.checkOverflow()

	padded := c.rs.Padded()
	c.raw.now = nowMicros
	c.raw.got = 0
	c.rs.Read(out)
	c.diag.recordRead(c.raw.got, true)
	c.diag.recordSilence(int(c.rs.Padded()-padded) * ch)

	if frames := len(out) / ch; frames > 0 {
		copy(c.session.LastOutputFrame, out[(frames-1)*ch:frames*ch])
	}

	// frames consumed beyond (or short of) the audible frames produced
	net := int64(c.rs.Consumed()) - int64(c.rs.Produced()-c.rs.Padded())
	delta := net - c.lastNet
	c.lastNet = net

	var dropped, inserted uint64
	switch {
	case delta > 0:
		dropped = uint64(delta) * uint64(ch)
	case delta < 0:
		inserted = uint64(-delta) * uint64(ch)
	default:
		return len(out)
	}

	c.session.TotalDropped += dropped
	c.session.TotalInserted += inserted
	c.diag.recordCorrection(dropped, inserted)
	c.src.NotifyExternalCorrection(dropped, inserted)
	return len(out)
}
