// ABOUTME: End-to-end tests for the playback pipeline over the mock device
// ABOUTME: Covers the reference tone, starvation silence, xrun handling and bounded shutdown
package playback

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sendspin/sendspin-playback/pkg/audio"
	"github.com/Sendspin/sendspin-playback/pkg/audio/decode"
	"github.com/Sendspin/sendspin-playback/pkg/audio/output"
)

var cdStereo = audio.Format{SampleRate: 48000, Channels: 2, BitDepth: audio.Depth16}

func configuredSink(t *testing.T, dev *output.Mock, format audio.Format) *output.Sink {
	t.Helper()
	sink := output.NewSink(dev)
	if err := sink.Open("mock:0"); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := sink.Configure(format, output.AccessInterleaved, 40_000, false); err != nil {
		t.Fatalf("Configure() failed: %v", err)
	}
	return sink
}

func newTestPipeline(t *testing.T, cfg PipelineConfig) *Pipeline {
	t.Helper()
	if cfg.PeriodFrames == 0 {
		cfg.PeriodFrames = 480
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(1, 2))
	}
	if cfg.Now == nil {
		cfg.Now = func() int64 { return 0 }
	}
	p, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("NewPipeline() failed: %v", err)
	}
	return p
}

func runUntilDone(t *testing.T, p *Pipeline, ctx context.Context) error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()
	select {
	case err := <-errc:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not finish")
		return nil
	}
}

func TestPipelineReferenceTone(t *testing.T) {
	const frames = 48000
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newTestSource(2)
	src.gen = toneGen(1000, 48000, 0.5)
	src.limit = frames
	src.afterRead = func(read, got int) {
		if src.frame >= frames {
			cancel()
		}
	}

	dev := output.NewMock()
	sink := configuredSink(t, dev, cdStereo)
	p := newTestPipeline(t, PipelineConfig{Source: src, Sink: sink})

	if err := runUntilDone(t, p, ctx); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	dec, _ := decode.NewPCM(cdStereo)
	got, err := dec.DecodeInts(dev.Data())
	if err != nil {
		t.Fatalf("failed to decode output: %v", err)
	}
	if len(got) != frames*2 {
		t.Fatalf("expected %d samples, got %d", frames*2, len(got))
	}

	gen := toneGen(1000, 48000, 0.5)
	for f := 0; f < frames; f++ {
		for ch := 0; ch < 2; ch++ {
			want := math.Round(float64(gen(f, ch)) * audio.Max16Bit)
			if diff := math.Abs(float64(got[f*2+ch]) - want); diff > 1 {
				t.Fatalf("frame %d ch %d: expected %v, got %d", f, ch, want, got[f*2+ch])
			}
		}
	}

	stats := p.Stats()
	if stats.Diagnostics.Dropped != 0 || stats.Diagnostics.Inserted != 0 || src.notifications != 0 {
		t.Errorf("expected no corrections, got %d dropped, %d inserted", stats.Diagnostics.Dropped, stats.Diagnostics.Inserted)
	}
	if stats.FramesWritten != frames {
		t.Errorf("expected %d frames written, got %d", frames, stats.FramesWritten)
	}
	if stats.Status != StatusStopped {
		t.Errorf("expected stopped, got %s", stats.Status)
	}
	if _, drops, _, _ := dev.Counts(); drops != 1 {
		t.Errorf("expected context cancel to drop the device buffer, got %d drops", drops)
	}
}

func TestPipelineStarvationWindowIsSilent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newTestSource(2)
	src.gen = toneGen(1000, 48000, 0.5)
	// reads 11-20 of 480 frames are a 100ms gap
	src.starve = func(read int) bool { return read > 10 && read <= 20 }
	src.afterRead = func(read, got int) {
		if read == 30 {
			cancel()
		}
	}

	dev := output.NewMock()
	sink := configuredSink(t, dev, cdStereo)
	p := newTestPipeline(t, PipelineConfig{Source: src, Sink: sink})

	if err := runUntilDone(t, p, ctx); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	data := dev.Data()
	frameBytes := cdStereo.FrameSize()
	if len(data) != 30*480*frameBytes {
		t.Fatalf("expected 30 full writes, got %d bytes", len(data))
	}

	window := data[10*480*frameBytes : 20*480*frameBytes]
	for i, b := range window {
		if b != 0 {
			t.Fatalf("byte %d of the starved window: expected 0, got %#x", i, b)
		}
	}

	after := data[20*480*frameBytes:]
	silent := true
	for _, b := range after {
		if b != 0 {
			silent = false
			break
		}
	}
	if silent {
		t.Error("expected audio after the starved window")
	}
}

func TestPipelineRecoversFromSingleXRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newTestSource(2)
	src.afterRead = func(read, got int) {
		if read == 5 {
			cancel()
		}
	}

	dev := output.NewMock()
	dev.InjectWriteErrors(nil, output.ErrXRun)
	sink := configuredSink(t, dev, cdStereo)
	p := newTestPipeline(t, PipelineConfig{Source: src, Sink: sink})

	if err := runUntilDone(t, p, ctx); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if sink.XRuns() != 1 || sink.Recoveries() != 1 {
		t.Errorf("expected 1 xrun and 1 recovery, got %d/%d", sink.XRuns(), sink.Recoveries())
	}
	// the period hit by the xrun is rewritten after recovery
	if got := dev.Frames(); got != 5*480 {
		t.Errorf("expected %d frames, got %d", 5*480, got)
	}
}

func TestPipelineRepeatedXRunIsFatal(t *testing.T) {
	src := newTestSource(2)
	dev := output.NewMock()
	dev.InjectWriteErrors(output.ErrXRun, output.ErrXRun)
	sink := configuredSink(t, dev, cdStereo)

	var reported atomic.Value
	var statuses []Status
	p := newTestPipeline(t, PipelineConfig{
		Source:        src,
		Sink:          sink,
		OnError:       func(err error) { reported.Store(err) },
		OnStateChange: func(s Status) { statuses = append(statuses, s) },
	})

	err := runUntilDone(t, p, context.Background())
	if !output.IsFatal(err) {
		t.Fatalf("expected fatal device error, got %v", err)
	}
	if !errors.Is(err, output.ErrXRun) {
		t.Errorf("expected the xrun as cause, got %v", err)
	}
	if reported.Load() == nil {
		t.Error("expected OnError to be called")
	}
	if p.Status() != StatusDeviceError || p.Status().String() != "device error, reconnecting" {
		t.Errorf("expected device error status, got %s", p.Status())
	}
	if sink.State() != output.SinkBroken {
		t.Errorf("expected broken sink, got %s", sink.State())
	}
	if len(statuses) != 2 || statuses[0] != StatusPlaying || statuses[1] != StatusDeviceError {
		t.Errorf("expected playing then device error, got %v", statuses)
	}
}

func TestPipelineFailedRecoveryIsFatal(t *testing.T) {
	dev := output.NewMock()
	dev.RecoverErr = errors.New("snd_pcm_prepare failed")
	dev.InjectWriteErrors(output.ErrSuspended)
	sink := configuredSink(t, dev, cdStereo)
	p := newTestPipeline(t, PipelineConfig{Source: newTestSource(2), Sink: sink})

	err := runUntilDone(t, p, context.Background())
	var de *output.DeviceError
	if !errors.As(err, &de) || de.Op != "recover" {
		t.Fatalf("expected recover DeviceError, got %v", err)
	}
}

func TestPipelineDisconnectIsFatal(t *testing.T) {
	dev := output.NewMock()
	dev.InjectWriteErrors(output.ErrDeviceGone)
	sink := configuredSink(t, dev, cdStereo)
	p := newTestPipeline(t, PipelineConfig{Source: newTestSource(2), Sink: sink})

	err := runUntilDone(t, p, context.Background())
	if !output.IsFatal(err) || !errors.Is(err, output.ErrDeviceGone) {
		t.Fatalf("expected fatal ErrDeviceGone, got %v", err)
	}
	if _, _, recovers, _ := dev.Counts(); recovers != 0 {
		t.Errorf("expected no recovery attempt, got %d", recovers)
	}
}

func TestPipelineStopDrain(t *testing.T) {
	src := newTestSource(2)
	started := make(chan struct{})
	src.afterRead = func(read, got int) {
		if read == 1 {
			close(started)
		}
	}

	dev := output.NewMock()
	dev.Capture = false
	sink := configuredSink(t, dev, cdStereo)
	p := newTestPipeline(t, PipelineConfig{Source: src, Sink: sink})

	errc := make(chan error, 1)
	go func() { errc <- p.Run(context.Background()) }()
	<-started

	if err := p.Stop(StopDrain, 2*time.Second); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := <-errc; err != nil {
		t.Errorf("Run() returned %v", err)
	}
	if drains, drops, _, _ := dev.Counts(); drains != 1 || drops != 0 {
		t.Errorf("expected 1 drain and no drops, got %d/%d", drains, drops)
	}
	if p.Status() != StatusStopped {
		t.Errorf("expected stopped, got %s", p.Status())
	}
	if err := p.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestPipelineStopTimeout(t *testing.T) {
	src := newTestSource(2)
	started := make(chan struct{})
	src.afterRead = func(read, got int) {
		if read == 1 {
			close(started)
		}
	}

	dev := output.NewMock()
	dev.Block()
	sink := configuredSink(t, dev, cdStereo)

	var reported atomic.Value
	p := newTestPipeline(t, PipelineConfig{
		Source:  src,
		Sink:    sink,
		OnError: func(err error) { reported.Store(err) },
	})

	go p.Run(context.Background())
	<-started

	err := p.Stop(StopDrop, 50*time.Millisecond)
	if !errors.Is(err, ErrShutdownTimeout) {
		t.Fatalf("expected ErrShutdownTimeout, got %v", err)
	}
	if p.Status() != StatusDeviceError {
		t.Errorf("expected device error status, got %s", p.Status())
	}
	if sink.State() != output.SinkBroken {
		t.Errorf("expected broken sink, got %s", sink.State())
	}
	if err, _ := reported.Load().(error); !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("expected OnError with ErrShutdownTimeout, got %v", err)
	}

	// the wedged write returns eventually; the session stays broken
	dev.Unblock()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not exit after unblock")
	}
	if sink.State() != output.SinkBroken || p.Status() != StatusDeviceError {
		t.Errorf("expected broken session after late return, got %s / %s", sink.State(), p.Status())
	}
}

func TestPipelineStopBeforeRun(t *testing.T) {
	dev := output.NewMock()
	sink := configuredSink(t, dev, cdStereo)
	p := newTestPipeline(t, PipelineConfig{Source: newTestSource(2), Sink: sink})

	if err := p.Stop(StopDrop, time.Second); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if p.Status() != StatusStopped {
		t.Errorf("expected stopped, got %s", p.Status())
	}
}

func TestPipelineRateStrategy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newTestSource(2)
	src.gen = toneGen(440, 48000, 0.5)
	src.afterRead = func(read, got int) {
		if read == 20 {
			cancel()
		}
	}

	dev := output.NewMock()
	sink := configuredSink(t, dev, cdStereo)
	p := newTestPipeline(t, PipelineConfig{Source: src, Sink: sink, StrategyName: StrategyRate})

	if !p.SetPlaybackRate(1.03) {
		t.Fatal("expected rate strategy to accept a rate")
	}
	if got := p.Stats().PlaybackRate; math.Abs(got-1.03) > 1e-12 {
		t.Errorf("expected rate 1.03, got %v", got)
	}

	if err := runUntilDone(t, p, ctx); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if p.Stats().Diagnostics.Dropped == 0 {
		t.Error("expected dropped samples at rate 1.03")
	}
}

func TestPipelineDropInsertIgnoresRate(t *testing.T) {
	sink := configuredSink(t, output.NewMock(), cdStereo)
	p := newTestPipeline(t, PipelineConfig{Source: newTestSource(2), Sink: sink})
	if p.SetPlaybackRate(1.01) {
		t.Error("dropinsert should not accept a playback rate")
	}
	if p.Stats().PlaybackRate != 1.0 {
		t.Errorf("expected rate 1.0, got %v", p.Stats().PlaybackRate)
	}
}

func TestPipelineConvertsStreamRate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newTestSource(2)
	src.rate = 44100
	src.gen = toneGen(1000, 44100, 0.5)
	src.afterRead = func(read, got int) {
		if read == 50 {
			cancel()
		}
	}

	dev := output.NewMock()
	sink := configuredSink(t, dev, cdStereo)
	p := newTestPipeline(t, PipelineConfig{
		Source:       src,
		Sink:         sink,
		StreamFormat: audio.Format{SampleRate: 44100, Channels: 2, BitDepth: audio.Depth16},
	})

	if err := runUntilDone(t, p, ctx); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	stats := p.Stats()
	if stats.StreamRate != 44100 || stats.DeviceFormat.SampleRate != 48000 {
		t.Errorf("expected 44100 -> 48000, got %d -> %d", stats.StreamRate, stats.DeviceFormat.SampleRate)
	}
	if dev.Frames() == 0 || dev.Frames()%480 != 0 {
		t.Errorf("expected whole periods written, got %d frames", dev.Frames())
	}
}

func TestNewPipelineRejectsBadConfig(t *testing.T) {
	unconfigured := output.NewSink(output.NewMock())
	if _, err := NewPipeline(PipelineConfig{Source: newTestSource(2), Sink: unconfigured}); !errors.Is(err, ErrSinkNotConfigured) {
		t.Errorf("expected ErrSinkNotConfigured, got %v", err)
	}

	sink := configuredSink(t, output.NewMock(), cdStereo)
	if _, err := NewPipeline(PipelineConfig{
		Source:       newTestSource(1),
		Sink:         sink,
		StreamFormat: audio.Format{SampleRate: 48000, Channels: 1, BitDepth: audio.Depth16},
	}); err == nil {
		t.Error("expected error for channel mismatch")
	}

	if _, err := NewPipeline(PipelineConfig{Source: newTestSource(2), Sink: sink, StrategyName: "bogus"}); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
