// ABOUTME: Offline renderer for the playback pipeline
// ABOUTME: Plays a source into a WAV file against a simulated drifting clock and reports the corrections
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Sendspin/sendspin-playback/internal/source"
	isync "github.com/Sendspin/sendspin-playback/internal/sync"
	"github.com/Sendspin/sendspin-playback/pkg/audio"
	"github.com/Sendspin/sendspin-playback/pkg/audio/output"
	"github.com/Sendspin/sendspin-playback/pkg/playback"
)

var (
	in        = flag.String("source", "", "Audio file to render (MP3, FLAC, WAV). If not specified, renders a test tone")
	out       = flag.String("out", "render.wav", "Output WAV file")
	rate      = flag.Int("rate", 48000, "Device sample rate")
	bitDepth  = flag.String("bit-depth", "16", "Output sample format: 16, 24, 24p, 32")
	duration  = flag.Duration("duration", 10*time.Second, "Maximum audio to render")
	driftPPM  = flag.Float64("drift-ppm", 500, "Simulated clock drift; positive means the device is slow")
	strategy  = flag.String("strategy", playback.StrategyDropInsert, "Sync correction: dropinsert or rate")
	latencyMs = flag.Int("latency-ms", 100, "Simulated device latency")
	logFile   = flag.String("log-file", "sendspin-render.log", "Log file path")
)

func main() {
	flag.Parse()

	// Set up logging (both file and console)
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(os.Stdout, f))

	depth, err := audio.ParseBitDepth(*bitDepth)
	if err != nil {
		log.Fatalf("%v", err)
	}

	dec, err := source.Open(*in, *rate, 2, false)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer dec.Close()

	log.Printf("Rendering to %s: %v at %+.0fppm drift, %s strategy", *out, *duration, *driftPPM, *strategy)

	if err := render(dec, depth); err != nil {
		log.Fatalf("Render failed: %v", err)
	}
}

func render(dec source.Decoder, depth audio.BitDepth) error {
	sink := output.NewSink(output.NewWAV(false))
	if err := sink.Open(*out); err != nil {
		return err
	}
	defer sink.Close()

	format := audio.Format{SampleRate: *rate, Channels: dec.Channels(), BitDepth: depth}
	lat, err := sink.Configure(format, output.AccessInterleaved, *latencyMs*1000, true)
	if err != nil {
		return err
	}

	src, err := source.NewScheduled(dec.SampleRate(), dec.Channels(), *duration+time.Second, isync.NewErrorTracker(isync.DefaultSmoothing))
	if err != nil {
		return err
	}
	latency := time.Duration(lat.ActualLatencyMs * float64(time.Millisecond))
	src.SetOutputLatency(latency)

	// the schedule starts as soon as the first sample can be heard
	frames, err := preload(dec, src, latency.Microseconds())
	if err != nil {
		return err
	}
	log.Printf("Loaded %d frames (%v)", frames, time.Duration(frames)*time.Second/time.Duration(dec.SampleRate()))

	// device time runs off frames written; the simulated wall clock drifts from it
	scale := 1 + *driftPPM/1e6
	now := func() int64 {
		written := float64(sink.FramesWritten()) * 1e6 / float64(sink.Format().SampleRate)
		return int64(written * scale)
	}

	rs := &renderSource{Scheduled: src, empty: make(chan struct{}), rc: isync.NewRateController()}
	pipe, err := playback.NewPipeline(playback.PipelineConfig{
		Source:       rs,
		Sink:         sink,
		StrategyName: *strategy,
		Policy:       playback.DefaultCorrectionPolicy(),
		StreamFormat: audio.Format{SampleRate: dec.SampleRate(), Channels: dec.Channels(), BitDepth: depth},
		Now:          now,
	})
	if err != nil {
		return err
	}
	rs.pipe = pipe

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() { runErr <- pipe.Run(context.Background()) }()

	select {
	case err := <-runErr:
		return err
	case sig := <-sigChan:
		log.Printf("Received %v signal, stopping", sig)
		return stop(pipe, playback.StopDrop, runErr)
	case <-rs.empty:
		if err := stop(pipe, playback.StopDrain, runErr); err != nil {
			return err
		}
		report(pipe.Stats(), src.Stats())
		return nil
	}
}

// renderSource drives the rate controller off simulated time and signals
// once everything queued has been played
type renderSource struct {
	*source.Scheduled
	pipe *playback.Pipeline
	rc   *isync.RateController

	lastAdjust int64
	empty      chan struct{}
	once       sync.Once
}

func (r *renderSource) Read(buf []float32, nowMicros int64) int {
	if nowMicros-r.lastAdjust >= 100_000 {
		r.lastAdjust = nowMicros
		r.pipe.SetPlaybackRate(r.rc.Update(r.SmoothedSyncErrorMicros()))
	}
	n := r.Scheduled.Read(buf, nowMicros)
	if n < len(buf) && r.Buffered() == 0 {
		r.once.Do(func() { close(r.empty) })
	}
	return n
}

// preload decodes up to -duration into src, stamping chunks from start
func preload(dec source.Decoder, src *source.Scheduled, start int64) (int, error) {
	ch := dec.Channels()
	limit := int(duration.Seconds() * float64(dec.SampleRate()))
	chunk := make([]float32, source.DefaultChunkFrames*ch)

	frames := 0
	for frames < limit {
		want := min(source.DefaultChunkFrames, limit-frames) * ch
		n, err := dec.Read(chunk[:want])
		if n > 0 {
			ts := start + int64(frames)*1_000_000/int64(dec.SampleRate())
			samples := make([]float32, n)
			copy(samples, chunk[:n])
			if err := src.Push(audio.Buffer{Timestamp: ts, Samples: samples, Channels: ch}); err != nil {
				return frames, err
			}
			frames += n / ch
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return frames, err
		}
	}
	if frames == 0 {
		return 0, fmt.Errorf("source produced no audio")
	}
	return frames, nil
}

func stop(pipe *playback.Pipeline, mode playback.StopMode, runErr <-chan error) error {
	if err := pipe.Stop(mode, 5*time.Second); err != nil {
		return err
	}
	return <-runErr
}

func report(ps playback.PipelineStats, ss source.Stats) {
	d := ps.Diagnostics
	log.Printf("Rendered %d frames at %s", ps.FramesWritten, ps.DeviceFormat)
	log.Printf("Corrections: dropped %d, inserted %d, silence %d samples; final rate %.5fx",
		d.Dropped, d.Inserted, d.Silence, ps.PlaybackRate)
	log.Printf("Sync error: %+.2fms (%s), %d chunks played, %d frames skipped at start",
		float64(ss.SyncErrorMicros)/1000, ss.Quality, ss.Played, ss.SkippedFrames)
}
