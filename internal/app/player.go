// ABOUTME: Main player application orchestration
// ABOUTME: Wires decoder, scheduled source, output sink and pipeline, reopening the device when it is lost
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/Sendspin/sendspin-playback/internal/config"
	"github.com/Sendspin/sendspin-playback/internal/source"
	isync "github.com/Sendspin/sendspin-playback/internal/sync"
	"github.com/Sendspin/sendspin-playback/internal/ui"
	"github.com/Sendspin/sendspin-playback/pkg/audio"
	"github.com/Sendspin/sendspin-playback/pkg/audio/output"
	"github.com/Sendspin/sendspin-playback/pkg/playback"
)

const (
	// DefaultReopenDelay is the pause before reopening a lost device
	DefaultReopenDelay = time.Second

	rateInterval  = 100 * time.Millisecond
	logStatsEvery = 10 // stats ticks between log lines without a TUI
)

// Player plays one decoder through the configured output
type Player struct {
	cfg    *config.Config
	update func(ui.StatusMsg)

	// NewDevice creates the output device; defaults to output.New
	NewDevice func(backend string) (output.Device, error)
	// ReopenDelay is the pause before reopening a lost device
	ReopenDelay time.Duration

	mu    sync.Mutex
	src   *source.Scheduled
	pipe  *playback.Pipeline
	opens int

	feedErr error
}

// New creates a player. update receives TUI status messages and may be nil,
// in which case stats are logged instead.
func New(cfg *config.Config, update func(ui.StatusMsg)) *Player {
	return &Player{
		cfg:         cfg,
		update:      update,
		NewDevice:   output.New,
		ReopenDelay: DefaultReopenDelay,
	}
}

// Start plays until ctx is cancelled or a non-looping source has been played
// out. A device that fails mid-stream is closed and reopened; once a device
// has played, failures to reopen it are retried too.
func (p *Player) Start(ctx context.Context) error {
	dec, err := p.openDecoder()
	if err != nil {
		return err
	}
	defer dec.Close()

	src, err := source.NewScheduled(dec.SampleRate(), dec.Channels(), source.DefaultMaxBuffered, isync.NewErrorTracker(isync.DefaultSmoothing))
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}
	src.SetStaticDelay(time.Duration(p.cfg.StaticDelayMs) * time.Millisecond)

	p.mu.Lock()
	p.src = src
	p.mu.Unlock()

	title, artist, album := dec.Metadata()
	p.publish(ui.StatusMsg{
		Backend: p.cfg.Backend,
		Device:  p.cfg.Device,
		Title:   title,
		Artist:  artist,
		Album:   album,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lead := time.Duration(p.cfg.BufferMs) * time.Millisecond
	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		if err := source.Feed(ctx, dec, src, time.Now().Add(lead), 0, lead); err != nil {
			log.Printf("ERROR: feeding source: %v", err)
			p.mu.Lock()
			p.feedErr = err
			p.mu.Unlock()
		}
	}()
	go p.statsLoop(ctx)

	for {
		err := p.session(ctx, src, feedDone)
		switch {
		case ctx.Err() != nil:
			return err
		case err == nil:
			p.mu.Lock()
			defer p.mu.Unlock()
			return p.feedErr
		case !output.IsFatal(err) && !errors.Is(err, playback.ErrShutdownTimeout) && p.Opens() == 0:
			// never played; the configuration or device is wrong
			return err
		}

		log.Printf("Warning: output lost (%v), reopening in %v", err, p.ReopenDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.ReopenDelay):
		}
		src.Reanchor()
	}
}

func (p *Player) openDecoder() (source.Decoder, error) {
	if p.cfg.Source == "" {
		return source.NewTone(p.cfg.ToneHz, p.cfg.SampleRate, p.cfg.Channels), nil
	}
	return source.Open(p.cfg.Source, p.cfg.SampleRate, p.cfg.Channels, p.cfg.Loop)
}

// session opens the device and plays until the pipeline stops or fails
func (p *Player) session(ctx context.Context, src *source.Scheduled, feedDone <-chan struct{}) error {
	dev, err := p.NewDevice(p.cfg.Backend)
	if err != nil {
		return err
	}
	sink := output.NewSink(dev)
	if err := sink.Open(p.cfg.Device); err != nil {
		return err
	}
	closeSink := func() {
		if err := sink.Close(); err != nil {
			log.Printf("Warning: %v", err)
		}
	}

	// once Run has started, the device belongs to the playback goroutine
	var pipe *playback.Pipeline
	defer func() {
		if pipe == nil {
			closeSink()
			return
		}
		select {
		case <-pipe.Done():
			closeSink()
		default:
			log.Printf("Warning: output still busy, closing it once playback returns")
			go func() {
				<-pipe.Done()
				closeSink()
			}()
		}
	}()

	p.mu.Lock()
	p.opens++
	p.mu.Unlock()

	format := p.cfg.Format()
	if format.Channels != src.Channels() {
		log.Printf("Warning: source has %d channels, opening %d instead of %d", src.Channels(), src.Channels(), format.Channels)
		format.Channels = src.Channels()
	}

	lat, err := sink.Configure(format, output.AccessInterleaved, p.cfg.LatencyMs*1000, p.cfg.SoftResample)
	if err != nil {
		return err
	}
	src.SetOutputLatency(time.Duration(lat.ActualLatencyMs * float64(time.Millisecond)))

	pipe, err = playback.NewPipeline(playback.PipelineConfig{
		Source:       src,
		Sink:         sink,
		StrategyName: p.cfg.Strategy,
		Policy:       p.cfg.Correction.Policy(),
		StreamFormat: audio.Format{SampleRate: src.SampleRate(), Channels: src.Channels(), BitDepth: format.BitDepth},
		PeriodFrames: p.cfg.PeriodFrames,
		OnStateChange: func(s playback.Status) {
			log.Printf("Playback status: %s", s)
		},
	})
	if err != nil {
		pipe = nil
		return err
	}

	p.mu.Lock()
	p.pipe = pipe
	p.mu.Unlock()

	runErr := make(chan error, 1)
	go func() { runErr <- pipe.Run(context.Background()) }()

	var rateTick <-chan time.Time
	rc := isync.NewRateController()
	if pipe.Strategy().Name() == playback.StrategyRate {
		t := time.NewTicker(rateInterval)
		defer t.Stop()
		rateTick = t.C
	}

	var drainTick <-chan time.Time
	feed := feedDone
	for {
		select {
		case err := <-runErr:
			return err
		case <-ctx.Done():
			return p.stop(pipe, playback.StopDrop, runErr)
		case <-rateTick:
			pipe.SetPlaybackRate(rc.Update(src.SmoothedSyncErrorMicros()))
		case <-feed:
			feed = nil
			t := time.NewTicker(10 * time.Millisecond)
			defer t.Stop()
			drainTick = t.C
		case <-drainTick:
			if src.Buffered() == 0 {
				log.Printf("Source played out, draining output")
				return p.stop(pipe, playback.StopDrain, runErr)
			}
		}
	}
}

// stop ends the pipeline and waits for Run to return
func (p *Player) stop(pipe *playback.Pipeline, mode playback.StopMode, runErr <-chan error) error {
	if err := pipe.Stop(mode, p.cfg.ShutdownTimeout); err != nil {
		return err
	}
	return <-runErr
}

// Reanchor drops the sync state and jumps back onto the schedule
func (p *Player) Reanchor() {
	p.mu.Lock()
	src := p.src
	p.mu.Unlock()
	if src != nil {
		src.Reanchor()
	}
}

// Opens returns how many times the output device has been opened
func (p *Player) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

// Status returns the current pipeline and source stats
func (p *Player) Status() ui.StatusMsg {
	p.mu.Lock()
	src, pipe := p.src, p.pipe
	p.mu.Unlock()

	var msg ui.StatusMsg
	if pipe != nil {
		st := pipe.Stats()
		msg.Pipeline = &st
	}
	if src != nil {
		st := src.Stats()
		msg.Source = &st
	}
	return msg
}

func (p *Player) publish(msg ui.StatusMsg) {
	if p.update != nil {
		p.update(msg)
	}
}

// statsLoop periodically publishes playback statistics
func (p *Player) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	// Use a slower ticker for expensive runtime stats to avoid GC pauses
	runtimeStatsTicker := time.NewTicker(2 * time.Second)
	defer runtimeStatsTicker.Stop()

	var lastGoroutines int
	var lastMemAlloc, lastMemSys uint64
	ticks := 0

	for {
		select {
		case <-ctx.Done():
			return

		case <-runtimeStatsTicker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			lastGoroutines = runtime.NumGoroutine()
			lastMemAlloc = m.Alloc
			lastMemSys = m.Sys

		case <-ticker.C:
			msg := p.Status()
			msg.Goroutines = lastGoroutines
			msg.MemAlloc = lastMemAlloc
			msg.MemSys = lastMemSys

			if p.update != nil {
				p.update(msg)
				continue
			}
			ticks++
			if ticks%logStatsEvery == 0 && msg.Pipeline != nil && msg.Source != nil {
				logStats(*msg.Pipeline, *msg.Source)
			}
		}
	}
}

func logStats(ps playback.PipelineStats, ss source.Stats) {
	d := ps.Diagnostics
	log.Printf("Stats: %s, error %+.1fms (%s), buffered %v, dropped %d, inserted %d, silence %d, xruns %d, latency %.1fms",
		ps.Status, float64(ss.SyncErrorMicros)/1000, ss.Quality, ss.Buffered,
		d.Dropped, d.Inserted, d.Silence, ps.XRuns, ps.Latency.ActualLatencyMs)
}
