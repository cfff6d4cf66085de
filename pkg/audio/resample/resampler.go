// ABOUTME: Rate-adjusting linear resampler for continuous drift correction
// ABOUTME: Plays a pull source at a settable rate in [0.96, 1.04] with a fractional cursor
package resample

import (
	"math"
	"sync/atomic"
)

const (
	// MinRate and MaxRate bound the playback rate
	MinRate = 0.96
	MaxRate = 1.04

	// bypassEpsilon is how close to 1.0 the rate must be for copy-through
	bypassEpsilon = 1e-6

	// DefaultBufferFrames is the working buffer size used when none is given
	DefaultBufferFrames = 1024
)

// Reader is a pull source of interleaved float samples. Read returns the
// number of samples written, which must be a whole number of frames; 0 means
// nothing is available right now.
type Reader interface {
	Read(buf []float32) int
}

// Resampler reads from a source at a variable rate using linear
// interpolation. Read is called from the playback goroutine; SetPlaybackRate
// may be called from any goroutine.
type Resampler struct {
	src      Reader
	channels int

	rateBits atomic.Uint64

	buf    []float32 // interleaved working buffer
	frames int       // valid frames in buf
	pos    float64   // fractional cursor into buf, in frames

	shifted  uint64 // frames discarded from the head of buf
	consumed atomic.Uint64
	produced atomic.Uint64
	padded   atomic.Uint64
}

// New creates a resampler over src. bufferFrames sizes the working buffer;
// values below 4 are raised to 4.
func New(src Reader, channels, bufferFrames int) *Resampler {
	if channels < 1 {
		channels = 1
	}
	if bufferFrames <= 0 {
		bufferFrames = DefaultBufferFrames
	}
	if bufferFrames < 4 {
		bufferFrames = 4
	}

	r := &Resampler{
		src:      src,
		channels: channels,
		buf:      make([]float32, bufferFrames*channels),
	}
	r.rateBits.Store(math.Float64bits(1.0))
	return r
}

// ClampRate limits rate to [MinRate, MaxRate]; NaN maps to 1.0
func ClampRate(rate float64) float64 {
	if rate != rate {
		return 1.0
	}
	if rate < MinRate {
		return MinRate
	}
	if rate > MaxRate {
		return MaxRate
	}
	return rate
}

// SetPlaybackRate sets the rate. Values outside [MinRate, MaxRate] are clamped.
func (r *Resampler) SetPlaybackRate(rate float64) {
	r.rateBits.Store(math.Float64bits(ClampRate(rate)))
}

// PlaybackRate returns the current rate
func (r *Resampler) PlaybackRate() float64 {
	return ClampRate(math.Float64frombits(r.rateBits.Load()))
}

// Consumed returns the number of source frames the cursor has moved past
func (r *Resampler) Consumed() uint64 {
	return r.consumed.Load()
}

// Produced returns the number of output frames emitted
func (r *Resampler) Produced() uint64 {
	return r.produced.Load()
}

// Padded returns how many of the produced frames were silence because the
// source ran dry
func (r *Resampler) Padded() uint64 {
	return r.padded.Load()
}

// Reset discards buffered input and rewinds the cursor
func (r *Resampler) Reset() {
	r.frames = 0
	r.pos = 0
}

// Read fills out completely and returns len(out). Missing input becomes silence.
func (r *Resampler) Read(out []float32) int {
	ch := r.channels
	outFrames := len(out) / ch
	rate := r.PlaybackRate()

	var written int
	if math.Abs(rate-1.0) < bypassEpsilon {
		written = r.copyThrough(out[:outFrames*ch])
	} else {
		written = r.interpolate(out[:outFrames*ch], rate)
	}

	clear(out[written:])

	r.produced.Add(uint64(outFrames))
	r.padded.Add(uint64(outFrames - written/ch))
	r.consumed.Store(r.shifted + uint64(r.pos))
	return len(out)
}

// copyThrough drains any buffered frames then reads the source straight into out
func (r *Resampler) copyThrough(out []float32) int {
	ch := r.channels
	written := 0

	idx := int(r.pos)
	if idx < r.frames {
		n := copy(out, r.buf[idx*ch:r.frames*ch])
		written = n
		idx += n / ch
	}
	r.discard(idx)
	r.pos = 0

	for written < len(out) {
		n := r.src.Read(out[written:])
		if n <= 0 {
			break
		}
		n -= n % ch
		written += n
		r.shifted += uint64(n / ch)
	}
	return written
}

func (r *Resampler) interpolate(out []float32, rate float64) int {
	ch := r.channels
	outFrames := len(out) / ch

	for f := 0; f < outFrames; f++ {
		idx := int(r.pos)
		if idx+1 >= r.frames {
			r.refill()
			idx = int(r.pos)
			if idx+1 >= r.frames {
				return f * ch
			}
		}

		frac := float32(r.pos - float64(idx))
		a := r.buf[idx*ch : idx*ch+ch]
		b := r.buf[(idx+1)*ch : (idx+1)*ch+ch]
		o := out[f*ch : f*ch+ch]
		for c := 0; c < ch; c++ {
			o[c] = a[c] + (b[c]-a[c])*frac
		}

		r.pos += rate
	}
	return len(out)
}

// refill shifts the unread tail to the start of buf and tops it up
func (r *Resampler) refill() {
	ch := r.channels
	r.discard(int(r.pos))

	capFrames := len(r.buf) / ch
	for r.frames < capFrames {
		n := r.src.Read(r.buf[r.frames*ch:])
		if n <= 0 {
			return
		}
		r.frames += n / ch
	}
}

// discard drops the first n frames of buf and moves the cursor with them
func (r *Resampler) discard(n int) {
	if n <= 0 {
		return
	}
	if n > r.frames {
		n = r.frames
	}
	ch := r.channels
	copy(r.buf, r.buf[n*ch:r.frames*ch])
	r.frames -= n
	r.pos -= float64(n)
	if r.pos < 0 {
		r.pos = 0
	}
	r.shifted += uint64(n)
}
