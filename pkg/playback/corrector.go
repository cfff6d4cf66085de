// ABOUTME: Drop/insert sync correction over a timestamped source
// ABOUTME: Always fills the requested buffer, averaging or interpolating frames to steer sync error to zero
package playback

import (
	"github.com/Sendspin/sendspin-playback/pkg/audio"
)

// DefaultMaxReadFrames sizes the working buffer. Larger reads grow it once.
const DefaultMaxReadFrames = 8192

// SyncCorrector presents a source as a fixed-demand reader. Outside the
// deadband it drops a frame (two input frames averaged into one) when behind
// and inserts one (last output averaged with the next input) when ahead.
// Input read but not yet played is carried to the next call.
type SyncCorrector struct {
	src      Source
	channels int
	policy   CorrectionPolicy

	session *Session
	diag    *Diagnostics

	in   []float32 // working input buffer
	head int       // first unplayed sample in in
	tail int       // end of valid samples in in
}

// NewSyncCorrector creates a drop/insert corrector. maxReadFrames sizes the
// working buffer; 0 means DefaultMaxReadFrames.
func NewSyncCorrector(src Source, channels int, policy CorrectionPolicy, maxReadFrames int) (*SyncCorrector, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if channels < 1 {
		return nil, audio.ErrInvalidFormat
	}
	if maxReadFrames <= 0 {
		maxReadFrames = DefaultMaxReadFrames
	}

	// room for one extra input frame per correction interval when dropping
	frames := maxReadFrames + maxReadFrames/int(policy.MinIntervalFrames) + 1
	return &SyncCorrector{
		src:      src,
		channels: channels,
		policy:   policy,
		session:  NewSession(channels),
		diag:     newDiagnostics(src),
		in:       make([]float32, frames*channels),
	}, nil
}

func (c *SyncCorrector) Name() string { return StrategyDropInsert }

// Session returns the correction state. Only safe on the playback goroutine.
func (c *SyncCorrector) Session() *Session { return c.session }

func (c *SyncCorrector) Diagnostics() *Diagnostics { return c.diag }

// Reset discards carried input and starts a new session
func (c *SyncCorrector) Reset() {
	c.head, c.tail = 0, 0
	c.session.Reset()
}

// Read fills out completely and returns len(out)
func (c *SyncCorrector) Read(out []float32, nowMicros int64) int {
	ch := c.channels
	outFrames := len(out) / ch
	c.diag.checkOverflow()

	e := clampSyncError(c.src.SmoothedSyncErrorMicros())
	absErr := e
	if absErr < 0 {
		absErr = -absErr
	}
	correcting := absErr >= c.policy.DeadbandMicros

	interval := 0
	want := outFrames
	if correcting {
		interval = c.policy.Interval(absErr)
		if e > 0 {
			want += outFrames/interval + 1
		}
	}
	c.fill(want*ch, nowMicros)

	in := c.in[c.head:c.tail]
	avail := len(in) / ch
	sess := c.session
	ip, o := 0, 0
	var dropped, inserted uint64

	if !correcting {
		n := min(avail, outFrames)
		copy(out, in[:n*ch])
		ip, o = n, n
		sess.FramesSinceLastCorrection = 0
		if n > 0 {
			copy(sess.LastOutputFrame, out[(n-1)*ch:n*ch])
		}
	} else {
		// the corrected frame is the interval-th since the last one
		due := uint32(interval) - 1
	walk:
		for o < outFrames {
			frame := out[o*ch : (o+1)*ch]
			isDue := sess.FramesSinceLastCorrection >= due

			switch {
			case isDue && e > 0 && avail-ip >= 2:
				a := in[ip*ch : (ip+1)*ch]
				b := in[(ip+1)*ch : (ip+2)*ch]
				for k := range frame {
					frame[k] = (a[k] + b[k]) * 0.5
				}
				ip += 2
				dropped += uint64(ch)
				sess.FramesSinceLastCorrection = 0

			case isDue && e < 0:
				last := sess.LastOutputFrame
				if ip < avail {
					next := in[ip*ch : (ip+1)*ch]
					for k := range frame {
						frame[k] = (last[k] + next[k]) * 0.5
					}
				} else {
					copy(frame, last)
				}
				inserted += uint64(ch)
				sess.FramesSinceLastCorrection = 0

			case ip < avail:
				copy(frame, in[ip*ch:(ip+1)*ch])
				ip++
				sess.FramesSinceLastCorrection++

			default:
				break walk
			}

			copy(sess.LastOutputFrame, frame)
			o++
		}
	}

	// starvation: the rest is silence
	if o < outFrames {
		clear(sess.LastOutputFrame)
		c.diag.recordSilence((outFrames - o) * ch)
	}
	clear(out[o*ch:])

	c.head += ip * ch
	if c.head >= c.tail {
		c.head, c.tail = 0, 0
	}

	if dropped > 0 || inserted > 0 {
		sess.TotalDropped += dropped
		sess.TotalInserted += inserted
		c.diag.recordCorrection(dropped, inserted)
		c.src.NotifyExternalCorrection(dropped, inserted)
	}
	return len(out)
}

// fill tops the working buffer up to want samples from the source
func (c *SyncCorrector) fill(want int, nowMicros int64) {
	if c.head > 0 {
		n := copy(c.in, c.in[c.head:c.tail])
		c.head, c.tail = 0, n
	}
	if want > len(c.in) {
		grown := make([]float32, want)
		copy(grown, c.in[:c.tail])
		c.in = grown
	}
	if c.tail >= want {
		c.diag.recordRead(0, false)
		return
	}

	got := 0
	for c.tail < want {
		n := c.src.Read(c.in[c.tail:want], nowMicros)
		if n <= 0 {
			break
		}
		n = min(n, want-c.tail)
		c.tail += n
		got += n
	}
	c.diag.recordRead(got, true)
}
