// ABOUTME: Sync error tracking with exponential smoothing and drift estimation
// ABOUTME: Turns raw playback-position error samples into the smoothed value the playback pipeline consumes
package sync

import (
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultSmoothing is the weight given to each new sample
	DefaultSmoothing = 0.1

	// outlierMicros rejects samples this far from the prediction
	outlierMicros = 50_000

	// maxOutliers consecutive rejections re-anchor the estimate on the raw value
	maxOutliers = 5

	// lostAfter without samples marks the estimate as lost
	lostAfter = 5 * time.Second
)

// Quality represents tracking quality
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

// ErrorTracker smooths sync error measurements. Observe and Adjust may be
// called from the control goroutine while the playback goroutine reads
// Smoothed; the smoothed value is published atomically.
type ErrorTracker struct {
	mu         sync.Mutex
	smoothing  float64
	estimate   float64 // μs
	drift      float64 // μs of error per μs of time
	lastMicros int64   // sample time of the last accepted measurement
	samples    int
	outliers   int
	lastSample time.Time
	now        func() time.Time
	discards   *LogLimiter

	smoothed atomic.Int64
}

// NewErrorTracker creates a tracker. smoothing outside (0, 1] uses DefaultSmoothing.
func NewErrorTracker(smoothing float64) *ErrorTracker {
	if smoothing <= 0 || smoothing > 1 {
		smoothing = DefaultSmoothing
	}
	t := &ErrorTracker{smoothing: smoothing, now: time.Now, discards: NewLogLimiter(DefaultLogInterval)}
	t.discards.now = func() time.Time { return t.now() }
	return t
}

// Observe records a raw error measurement taken at atMicros. Positive means
// playback is behind schedule.
func (t *ErrorTracker) Observe(rawMicros, atMicros int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastSample = t.now()
	raw := float64(rawMicros)

	if t.samples == 0 {
		t.anchor(raw, atMicros)
		return
	}

	dt := float64(atMicros - t.lastMicros)
	if dt <= 0 {
		t.logDiscard("non-monotonic time")
		return
	}

	residual := raw - t.estimate
	if math.Abs(residual) > outlierMicros {
		t.outliers++
		if t.outliers < maxOutliers {
			t.logDiscard(fmt.Sprintf("residual %.0fμs", residual))
			return
		}
		if ok, held := t.discards.Allow(); ok {
			log.Printf("Warning: %d consecutive outliers, re-anchoring sync error at %dμs (%d similar messages suppressed)", t.outliers, rawMicros, held)
		}
		t.anchor(raw, atMicros)
		return
	}

	t.outliers = 0
	prev := t.estimate
	t.estimate += t.smoothing * residual
	t.drift += t.smoothing * ((t.estimate-prev)/dt - t.drift)
	t.lastMicros = atMicros
	t.samples++
	t.publish()
}

// logDiscard reports a rejected sample, at most once per DefaultLogInterval
func (t *ErrorTracker) logDiscard(reason string) {
	if ok, held := t.discards.Allow(); ok {
		log.Printf("Discarding sync error sample: %s (%d similar messages suppressed)", reason, held)
	}
}

func (t *ErrorTracker) anchor(raw float64, atMicros int64) {
	t.estimate = raw
	t.drift = 0
	t.lastMicros = atMicros
	t.samples = 1
	t.outliers = 0
	t.publish()
}

func (t *ErrorTracker) publish() {
	t.smoothed.Store(int64(math.Round(t.estimate)))
}

// Adjust shifts the estimate by a correction the pipeline already applied,
// so the next measurement is not mistaken for a jump. Negative delta means
// playback caught up.
func (t *ErrorTracker) Adjust(deltaMicros int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.estimate += float64(deltaMicros)
	t.publish()
}

// Smoothed returns the current smoothed error in microseconds
func (t *ErrorTracker) Smoothed() int64 {
	return t.smoothed.Load()
}

// Drift returns the estimated error change per second, in microseconds
func (t *ErrorTracker) Drift() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.drift * 1e6
}

// Quality reports whether samples are arriving and agree with each other
func (t *ErrorTracker) Quality() Quality {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.samples == 0 || t.now().Sub(t.lastSample) > lostAfter:
		return QualityLost
	case t.outliers > 0:
		return QualityDegraded
	default:
		return QualityGood
	}
}

// Reset forgets all state, for example on re-anchor
func (t *ErrorTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.estimate = 0
	t.drift = 0
	t.samples = 0
	t.outliers = 0
	t.lastMicros = 0
	t.lastSample = time.Time{}
	t.publish()
}
