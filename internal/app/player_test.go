// ABOUTME: Tests for player application orchestration
// ABOUTME: Plays through file and mock devices, covering reopen, play-out and startup failures
package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Sendspin/sendspin-playback/internal/config"
	"github.com/Sendspin/sendspin-playback/internal/ui"
	"github.com/Sendspin/sendspin-playback/pkg/audio/output"
	"github.com/Sendspin/sendspin-playback/pkg/playback"
)

func testConfig(backend, device string) *config.Config {
	policy := playback.DefaultCorrectionPolicy()
	return &config.Config{
		Backend:      backend,
		Device:       device,
		SampleRate:   48000,
		Channels:     2,
		BitDepth:     "16",
		LatencyMs:    40,
		SoftResample: true,
		Strategy:     playback.StrategyDropInsert,
		Correction: config.Correction{
			DeadbandMicros:    policy.DeadbandMicros,
			MinIntervalFrames: policy.MinIntervalFrames,
			MaxIntervalFrames: policy.MaxIntervalFrames,
		},
		BufferMs:        100,
		ShutdownTimeout: time.Second,
		ToneHz:          440,
		Loop:            true,
	}
}

// mocks hands out a fresh mock per open and remembers them
type mocks struct {
	mu      sync.Mutex
	devices []*output.Mock
	setup   func(n int, m *output.Mock)
}

func (f *mocks) New(string) (output.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := output.NewMock()
	m.Capture = false
	if f.setup != nil {
		f.setup(len(f.devices), m)
	}
	f.devices = append(f.devices, m)
	return m, nil
}

func (f *mocks) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.devices)
}

type recorder struct {
	mu   sync.Mutex
	msgs []ui.StatusMsg
}

func (r *recorder) update(msg ui.StatusMsg) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) all() []ui.StatusMsg {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ui.StatusMsg(nil), r.msgs...)
}

func TestPlayerPlaysToneToWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	rec := &recorder{}
	player := New(testConfig("wav", path), rec.update)

	ctx, cancel := context.WithTimeout(context.Background(), 1200*time.Millisecond)
	defer cancel()

	if err := player.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if player.Opens() != 1 {
		t.Errorf("expected 1 open, got %d", player.Opens())
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	if info.Size() <= 44 {
		t.Errorf("expected audio after the header, got %d bytes", info.Size())
	}

	msgs := rec.all()
	if len(msgs) == 0 || msgs[0].Title != "Test Tone" {
		t.Fatalf("expected track info first, got %+v", msgs)
	}
	var sawPipeline bool
	for _, m := range msgs {
		if m.Pipeline != nil && m.Source != nil {
			sawPipeline = true
		}
	}
	if !sawPipeline {
		t.Error("expected periodic pipeline stats")
	}

	st := player.Status()
	if st.Source == nil || st.Source.Played == 0 {
		t.Errorf("expected played chunks, got %+v", st.Source)
	}
}

func TestPlayerReopensLostDevice(t *testing.T) {
	factory := &mocks{setup: func(n int, m *output.Mock) {
		if n == 0 {
			m.InjectWriteErrors(output.ErrDeviceGone)
		}
	}}
	player := New(testConfig("mock", "default"), nil)
	player.NewDevice = factory.New
	player.ReopenDelay = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()

	if err := player.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if factory.count() < 2 {
		t.Fatalf("expected device to be reopened, got %d opens", factory.count())
	}
	if _, _, _, closes := factory.devices[0].Counts(); closes != 1 {
		t.Errorf("expected lost device closed once, got %d", closes)
	}
}

func TestPlayerFinishesShortSource(t *testing.T) {
	// 100ms of stereo audio
	data := make([]int, 4800*2)
	for i := range data {
		data[i] = 1000
	}
	src := writeWAV(t, 48000, 2, data)

	cfg := testConfig("mock", "default")
	cfg.Source = src
	cfg.Loop = false

	factory := &mocks{}
	player := New(cfg, nil)
	player.NewDevice = factory.New

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := player.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("expected playback to finish before the deadline")
	}

	drains, _, _, _ := factory.devices[0].Counts()
	if drains != 1 {
		t.Errorf("expected output drained once, got %d", drains)
	}
	st := player.Status()
	if st.Pipeline.Status != playback.StatusStopped {
		t.Errorf("expected stopped, got %s", st.Pipeline.Status)
	}
	if st.Source.Played == 0 || st.Pipeline.FramesWritten == 0 {
		t.Errorf("expected audio played, got source %+v", st.Source)
	}
}

func TestPlayerClosesWedgedDeviceAfterWrite(t *testing.T) {
	factory := &mocks{setup: func(_ int, m *output.Mock) { m.Block() }}
	cfg := testConfig("mock", "default")
	cfg.ShutdownTimeout = 50 * time.Millisecond

	player := New(cfg, nil)
	player.NewDevice = factory.New

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := player.Start(ctx)
	if !errors.Is(err, playback.ErrShutdownTimeout) {
		t.Fatalf("expected ErrShutdownTimeout, got %v", err)
	}

	dev := factory.devices[0]
	if _, _, _, closes := dev.Counts(); closes != 0 {
		t.Fatalf("device closed while a write was still blocked")
	}

	dev.Unblock()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, _, _, closes := dev.Counts(); closes == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("device never closed after the write returned")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if dev.ClosedDuringWrite() {
		t.Error("Close ran concurrently with Write")
	}
}

func TestPlayerRateStrategy(t *testing.T) {
	cfg := testConfig("mock", "default")
	cfg.Strategy = playback.StrategyRate

	player := New(cfg, nil)
	player.NewDevice = (&mocks{}).New

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := player.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	st := player.Status()
	if st.Pipeline == nil || st.Pipeline.Strategy != playback.StrategyRate {
		t.Fatalf("expected rate strategy, got %+v", st.Pipeline)
	}
}

func TestPlayerStartupErrors(t *testing.T) {
	busy := errors.New("device busy")

	tests := []struct {
		name   string
		source string
		setup  func(n int, m *output.Mock)
		want   error
	}{
		{
			name:  "open fails",
			setup: func(_ int, m *output.Mock) { m.OpenErr = busy },
			want:  busy,
		},
		{
			name:   "missing source",
			source: "/nonexistent/track.flac",
			want:   os.ErrNotExist,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("mock", "default")
			cfg.Source = tt.source
			player := New(cfg, nil)
			player.NewDevice = (&mocks{setup: tt.setup}).New

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			err := player.Start(ctx)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if ctx.Err() != nil {
				t.Error("expected an immediate failure")
			}
		})
	}
}

func TestReanchorBeforeStart(t *testing.T) {
	player := New(testConfig("mock", "default"), nil)
	player.Reanchor()
	if st := player.Status(); st.Pipeline != nil || st.Source != nil {
		t.Errorf("expected empty status, got %+v", st)
	}
}

func writeWAV(t *testing.T, rate, channels int, data []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create wav: %v", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("failed to write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("failed to close wav: %v", err)
	}
	return path
}
