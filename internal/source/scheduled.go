// ABOUTME: Timestamp-scheduled sample source for the playback pipeline
// ABOUTME: Gates playback start, measures sync error and absorbs corrections applied downstream
package source

import (
	"container/heap"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	isync "github.com/Sendspin/sendspin-playback/internal/sync"
	"github.com/Sendspin/sendspin-playback/pkg/audio"
	"github.com/Sendspin/sendspin-playback/pkg/playback"
)

const (
	// DefaultMaxBuffered is how much audio may queue before the oldest is dropped
	DefaultMaxBuffered = 5 * time.Second

	// chunks closer than this to the previous one are treated as contiguous
	maxGapMicros = 5_000

	lateLogLimit = 5
)

// ErrChannelMismatch is returned when a pushed chunk has the wrong layout
var ErrChannelMismatch = errors.New("chunk channel count does not match source")

var (
	_ playback.Source               = (*Scheduled)(nil)
	_ playback.DroppedSampleCounter = (*Scheduled)(nil)
)

// Stats tracks scheduled source metrics
type Stats struct {
	Received        int64
	Played          int64
	Late            int64 // chunks dropped because their time had passed
	Overflowed      int64 // chunks dropped because the queue was full
	SkippedFrames   int64 // frames skipped to start on time
	Buffered        time.Duration
	Started         bool
	SyncErrorMicros int64
	Quality         isync.Quality
}

// Scheduled plays chunks at their timestamps. Push is called by the feeding
// goroutine, Read by the playback goroutine.
type Scheduled struct {
	mu         sync.Mutex
	rate       int
	channels   int
	maxSamples int

	queue        *ChunkQueue
	cur          audio.Buffer
	pos          int   // samples of cur already handed out
	loaded       bool  // cur holds unplayed samples
	nextTs       int64 // expected timestamp of the chunk after cur
	started      bool
	lastObserved int64
	gapLog       *isync.LogLimiter

	tracker       *isync.ErrorTracker
	outputLatency atomic.Int64 // μs
	staticDelay   atomic.Int64 // μs
	dropped       atomic.Uint64

	stats Stats
}

// NewScheduled creates a source for interleaved float audio at rate and
// channels. maxBuffered <= 0 uses DefaultMaxBuffered; a nil tracker gets one
// with default smoothing.
func NewScheduled(rate, channels int, maxBuffered time.Duration, tracker *isync.ErrorTracker) (*Scheduled, error) {
	if rate <= 0 || channels < 1 {
		return nil, fmt.Errorf("%w: %d Hz, %d channels", audio.ErrInvalidFormat, rate, channels)
	}
	if maxBuffered <= 0 {
		maxBuffered = DefaultMaxBuffered
	}
	if tracker == nil {
		tracker = isync.NewErrorTracker(isync.DefaultSmoothing)
	}
	return &Scheduled{
		rate:         rate,
		channels:     channels,
		maxSamples:   int(int64(maxBuffered)*int64(rate)/int64(time.Second)) * channels,
		queue:        NewChunkQueue(),
		lastObserved: math.MinInt64,
		gapLog:       isync.NewLogLimiter(isync.DefaultLogInterval),
		tracker:      tracker,
	}, nil
}

func (s *Scheduled) SampleRate() int { return s.rate }
func (s *Scheduled) Channels() int   { return s.channels }

// Tracker returns the error tracker fed by Read
func (s *Scheduled) Tracker() *isync.ErrorTracker { return s.tracker }

// SetOutputLatency sets the delay between a sample being read and being
// heard. Use the latency the sink measured, not the one requested.
func (s *Scheduled) SetOutputLatency(d time.Duration) {
	s.outputLatency.Store(d.Microseconds())
}

// SetStaticDelay shifts the whole schedule later, for example to line up
// with other players behind slower hardware
func (s *Scheduled) SetStaticDelay(d time.Duration) {
	s.staticDelay.Store(d.Microseconds())
}

// Push queues a chunk. Chunks whose time has already passed are dropped, and
// if the queue is over its limit the oldest chunks are discarded.
func (s *Scheduled) Push(buf audio.Buffer) error {
	if buf.Channels != s.channels {
		return fmt.Errorf("%w: got %d, want %d", ErrChannelMismatch, buf.Channels, s.channels)
	}
	buf.Samples = buf.Samples[:len(buf.Samples)-len(buf.Samples)%s.channels]
	if len(buf.Samples) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Received++
	if s.started && s.loaded {
		end := buf.Timestamp + s.framesToMicros(buf.Frames())
		if end <= s.cursor() {
			s.stats.Late++
			s.dropped.Add(uint64(len(buf.Samples)))
			if s.stats.Late <= lateLogLimit {
				log.Printf("Dropped late chunk: %dμs behind playback", s.cursor()-end)
			}
			return nil
		}
	}

	heap.Push(s.queue, buf)
	for s.queue.Samples() > s.maxSamples && s.queue.Len() > 1 {
		old := heap.Pop(s.queue).(audio.Buffer)
		s.stats.Overflowed++
		s.dropped.Add(uint64(len(old.Samples)))
	}
	return nil
}

// Read copies due samples into buf. It returns 0 until the first chunk is
// due and after the queue runs dry.
func (s *Scheduled) Read(buf []float32, nowMicros int64) int {
	want := len(buf) - len(buf)%s.channels
	if want == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	heard := nowMicros + s.outputLatency.Load()
	delay := s.staticDelay.Load()

	n := 0
	for n < want {
		if !s.loaded && !s.load() {
			break
		}
		if !s.started && !s.begin(heard, delay) {
			break
		}
		if n == 0 {
			s.observe(heard-delay-s.cursor(), nowMicros)
		}
		c := copy(buf[n:want], s.cur.Samples[s.pos:])
		s.pos += c
		n += c
		if s.pos >= len(s.cur.Samples) {
			s.loaded = false
			s.stats.Played++
		}
	}
	return n
}

// load makes the earliest queued chunk current
func (s *Scheduled) load() bool {
	if s.queue.Len() == 0 {
		return false
	}
	next := heap.Pop(s.queue).(audio.Buffer)
	if s.started {
		if gap := next.Timestamp - s.nextTs; gap > maxGapMicros {
			if ok, held := s.gapLog.Allow(); ok {
				log.Printf("Warning: %dμs gap in schedule, waiting for next chunk (%d similar messages suppressed)", gap, held)
			}
			s.started = false
		}
	}
	s.cur = next
	s.pos = 0
	s.loaded = true
	s.nextTs = next.Timestamp + s.framesToMicros(next.Frames())
	return true
}

// begin starts playback once the current chunk is due, skipping whatever
// has already gone by
func (s *Scheduled) begin(heard, delay int64) bool {
	late := heard - (s.cursor() + delay)
	if late < 0 {
		return false
	}

	skip := int(late * int64(s.rate) / 1_000_000)
	skipped := 0
	for {
		remaining := (len(s.cur.Samples) - s.pos) / s.channels
		if skip-skipped < remaining {
			s.pos += (skip - skipped) * s.channels
			skipped = skip
			break
		}
		skipped += remaining
		s.loaded = false
		if !s.load() {
			s.stats.SkippedFrames += int64(skipped)
			return false
		}
	}

	s.stats.SkippedFrames += int64(skipped)
	s.started = true
	log.Printf("Playback start reached %dμs late, skipped %d frames", late, skipped)
	return true
}

// observe feeds one error sample per distinct read time
func (s *Scheduled) observe(errMicros, nowMicros int64) {
	if nowMicros <= s.lastObserved {
		return
	}
	s.lastObserved = nowMicros
	s.tracker.Observe(errMicros, nowMicros)
}

// cursor is the scheduled time of the next sample to hand out
func (s *Scheduled) cursor() int64 {
	return s.cur.Timestamp + s.framesToMicros(s.pos/s.channels)
}

func (s *Scheduled) framesToMicros(frames int) int64 {
	return int64(frames) * 1_000_000 / int64(s.rate)
}

// SmoothedSyncErrorMicros is positive when playback is behind schedule
func (s *Scheduled) SmoothedSyncErrorMicros() int64 {
	return s.tracker.Smoothed()
}

// NotifyExternalCorrection moves the error estimate by the net number of
// frames the pipeline dropped or inserted, so the correction is not applied
// twice while the smoothed value catches up.
func (s *Scheduled) NotifyExternalCorrection(dropped, inserted uint64) {
	net := float64(int64(dropped)-int64(inserted)) / float64(s.channels)
	s.tracker.Adjust(int64(math.Round(-net * 1e6 / float64(s.rate))))
}

// DroppedSamples counts samples discarded because they arrived late or the
// queue overflowed
func (s *Scheduled) DroppedSamples() uint64 {
	return s.dropped.Load()
}

// Buffered returns the duration of audio not yet handed out
func (s *Scheduled) Buffered() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffered()
}

func (s *Scheduled) buffered() time.Duration {
	samples := s.queue.Samples()
	if s.loaded {
		samples += len(s.cur.Samples) - s.pos
	}
	return time.Duration(s.framesToMicros(samples/s.channels)) * time.Microsecond
}

// Stats returns a snapshot of the source metrics
func (s *Scheduled) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Buffered = s.buffered()
	st.Started = s.started
	st.SyncErrorMicros = s.tracker.Smoothed()
	st.Quality = s.tracker.Quality()
	return st
}

// Reanchor forgets the sync state and waits for the schedule again, keeping
// queued audio. Whatever is late by then is skipped.
func (s *Scheduled) Reanchor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.lastObserved = math.MinInt64
	s.tracker.Reset()
	log.Printf("Re-anchoring playback to schedule")
}

// Reset discards queued audio and waits for a new start
func (s *Scheduled) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.Clear()
	s.cur = audio.Buffer{}
	s.pos = 0
	s.loaded = false
	s.started = false
	s.lastObserved = math.MinInt64
	s.tracker.Reset()
}
