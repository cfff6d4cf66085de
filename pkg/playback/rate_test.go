// ABOUTME: Tests for the rate correction strategy
// ABOUTME: Covers passthrough, net correction reporting and starvation handling
package playback

import (
	"testing"

	"github.com/Sendspin/sendspin-playback/pkg/audio/resample"
)

func newRateCorrector(t *testing.T, src Source, channels int) *RateCorrector {
	t.Helper()
	c, err := NewRateCorrector(src, channels, 0)
	if err != nil {
		t.Fatalf("NewRateCorrector() failed: %v", err)
	}
	return c
}

func TestRateCorrectorPassthroughAtUnity(t *testing.T) {
	src := newTestSource(2)
	c := newRateCorrector(t, src, 2)

	out := make([]float32, 300*2)
	frame := 0
	for read := 0; read < 10; read++ {
		c.Read(out, 0)
		for f := 0; f < 300; f++ {
			if out[f*2] != rampSample(frame, 0) || out[f*2+1] != rampSample(frame, 1) {
				t.Fatalf("frame %d: expected passthrough, got %v", frame, out[f*2:f*2+2])
			}
			frame++
		}
	}
	if src.notifications != 0 {
		t.Errorf("expected no corrections at rate 1.0, got %d", src.notifications)
	}
}

func TestRateCorrectorReportsNetCorrection(t *testing.T) {
	tests := []struct {
		name         string
		rate         float64
		wantDropped  bool
		wantInserted bool
	}{
		{"faster", 1.04, true, false},
		{"slower", 0.96, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newTestSource(2)
			src.gen = toneGen(440, 48000, 0.5)
			c := newRateCorrector(t, src, 2)
			c.SetPlaybackRate(tt.rate)

			out := make([]float32, 500*2)
			for read := 0; read < 20; read++ {
				c.Read(out, 0)
			}

			// 10000 frames at +-4% moves about 400 frames
			dropped, inserted := src.dropped/2, src.inserted/2
			if tt.wantDropped && (dropped < 398 || dropped > 402) {
				t.Errorf("expected about 400 dropped frames, got %d", dropped)
			}
			if tt.wantInserted && (inserted < 398 || inserted > 402) {
				t.Errorf("expected about 400 inserted frames, got %d", inserted)
			}
			if !tt.wantDropped && dropped != 0 {
				t.Errorf("expected no dropped frames, got %d", dropped)
			}
			if !tt.wantInserted && inserted != 0 {
				t.Errorf("expected no inserted frames, got %d", inserted)
			}

			sess := c.Session()
			if sess.TotalDropped != src.dropped || sess.TotalInserted != src.inserted {
				t.Errorf("session %d/%d does not match source %d/%d",
					sess.TotalDropped, sess.TotalInserted, src.dropped, src.inserted)
			}
		})
	}
}

func TestRateCorrectorStarvationIsNotCorrection(t *testing.T) {
	src := newTestSource(1)
	src.starve = func(int) bool { return true }
	c := newRateCorrector(t, src, 1)
	c.SetPlaybackRate(1.02)

	out := make([]float32, 256)
	for i := 0; i < 4; i++ {
		if n := c.Read(out, 0); n != len(out) {
			t.Fatalf("expected %d, got %d", len(out), n)
		}
		for j, v := range out {
			if v != 0 {
				t.Fatalf("sample %d: expected silence, got %v", j, v)
			}
		}
	}

	if src.notifications != 0 {
		t.Errorf("expected no corrections while starved, got %d", src.notifications)
	}
	snap := c.Diagnostics().Snapshot()
	if snap.Silence != 4*256 || snap.ZeroReads != 4 {
		t.Errorf("expected %d silent samples and 4 zero reads, got %d and %d", 4*256, snap.Silence, snap.ZeroReads)
	}
}

func TestRateCorrectorClampsRate(t *testing.T) {
	c := newRateCorrector(t, newTestSource(1), 1)

	c.SetPlaybackRate(2.0)
	if got := c.PlaybackRate(); got != resample.MaxRate {
		t.Errorf("expected %v, got %v", resample.MaxRate, got)
	}
	c.SetPlaybackRate(0.5)
	if got := c.PlaybackRate(); got != resample.MinRate {
		t.Errorf("expected %v, got %v", resample.MinRate, got)
	}
}

func TestStrategiesShareTheInterface(t *testing.T) {
	var _ CorrectionStrategy = (*SyncCorrector)(nil)
	var _ CorrectionStrategy = (*RateCorrector)(nil)
	var _ RateSetter = (*RateCorrector)(nil)
}
