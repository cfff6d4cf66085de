// ABOUTME: Read and correction counters shared between the playback goroutine and observers
// ABOUTME: Detects sustained upstream overflow and logs it with rate limiting
package playback

import (
	"log"
	"sync/atomic"
	"time"
)

// overflowLogInterval limits repeated upstream overflow logs
const overflowLogInterval = 5 * time.Second

// Diagnostics counts reads and corrections. Counters are written by the
// playback goroutine and may be read from any goroutine.
type Diagnostics struct {
	totalReads      atomic.Uint64
	zeroReads       atomic.Uint64
	successfulReads atomic.Uint64
	firstRead       atomic.Int64 // unix nanos
	firstSuccess    atomic.Int64 // unix nanos

	dropped         atomic.Uint64
	inserted        atomic.Uint64
	silence         atomic.Uint64
	upstreamDropped atomic.Uint64

	// overflow tracking, playback goroutine only
	counter         DroppedSampleCounter
	lastUpstream    uint64
	overflowLogged  bool
	lastOverflowLog time.Time

	now func() time.Time
}

// DiagnosticsSnapshot is a point-in-time copy of Diagnostics
type DiagnosticsSnapshot struct {
	TotalReads          uint64
	ZeroReads           uint64
	SuccessfulReads     uint64
	FirstRead           time.Time
	FirstSuccessfulRead time.Time

	// Dropped, Inserted and Silence count samples
	Dropped         uint64
	Inserted        uint64
	Silence         uint64
	UpstreamDropped uint64
}

func newDiagnostics(src Source) *Diagnostics {
	d := &Diagnostics{now: time.Now}
	if c, ok := src.(DroppedSampleCounter); ok {
		d.counter = c
		d.lastUpstream = c.DroppedSamples()
	}
	return d
}

// recordRead counts one strategy read. got is the number of samples the
// source delivered; attempted is false when buffered input already covered
// the demand and the source was not asked.
func (d *Diagnostics) recordRead(got int, attempted bool) {
	d.totalReads.Add(1)
	if d.firstRead.Load() == 0 {
		d.firstRead.CompareAndSwap(0, d.now().UnixNano())
	}
	if !attempted {
		return
	}
	if got <= 0 {
		d.zeroReads.Add(1)
		return
	}
	if d.successfulReads.Add(1) == 1 {
		now := d.now()
		d.firstSuccess.Store(now.UnixNano())
		log.Printf("First audio read from source after %v", now.Sub(time.Unix(0, d.firstRead.Load())))
	}
}

func (d *Diagnostics) recordCorrection(dropped, inserted uint64) {
	if dropped > 0 {
		d.dropped.Add(dropped)
	}
	if inserted > 0 {
		d.inserted.Add(inserted)
	}
}

func (d *Diagnostics) recordSilence(samples int) {
	if samples > 0 {
		d.silence.Add(uint64(samples))
	}
}

// checkOverflow looks for a rising dropped-sample count on the source. The
// first rise is logged immediately, later ones at most every overflowLogInterval.
func (d *Diagnostics) checkOverflow() {
	if d.counter == nil {
		return
	}
	n := d.counter.DroppedSamples()
	if n == d.lastUpstream {
		return
	}
	if n < d.lastUpstream {
		// counter reset by the source
		d.lastUpstream = n
		return
	}
	d.lastUpstream = n
	d.upstreamDropped.Store(n)

	now := d.now()
	if !d.overflowLogged {
		d.overflowLogged = true
		d.lastOverflowLog = now
		log.Printf("ERROR: source is dropping samples (%d so far); playback is not draining it, was the scheduled start ever reached?", n)
		return
	}
	if now.Sub(d.lastOverflowLog) >= overflowLogInterval {
		d.lastOverflowLog = now
		log.Printf("ERROR: source still dropping samples (%d total)", n)
	}
}

// Snapshot returns the current counters
func (d *Diagnostics) Snapshot() DiagnosticsSnapshot {
	s := DiagnosticsSnapshot{
		TotalReads:      d.totalReads.Load(),
		ZeroReads:       d.zeroReads.Load(),
		SuccessfulReads: d.successfulReads.Load(),
		Dropped:         d.dropped.Load(),
		Inserted:        d.inserted.Load(),
		Silence:         d.silence.Load(),
		UpstreamDropped: d.upstreamDropped.Load(),
	}
	if ns := d.firstRead.Load(); ns != 0 {
		s.FirstRead = time.Unix(0, ns)
	}
	if ns := d.firstSuccess.Load(); ns != 0 {
		s.FirstSuccessfulRead = time.Unix(0, ns)
	}
	return s
}
