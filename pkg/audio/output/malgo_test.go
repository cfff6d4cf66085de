// ABOUTME: Malgo buffer accounting tests
// ABOUTME: Checks latency is sized from the period miniaudio calls back with
package output

import "testing"

func TestMalgoBuffer(t *testing.T) {
	tests := []struct {
		name       string
		ring       int
		requested  int
		observed   uint32
		wantBuffer int
		wantPeriod int
	}{
		{"no callback yet", 4800, 1200, 0, 4800 + 4*1200, 1200},
		{"backend uses larger period", 4800, 1200, 2048, 4800 + 4*2048, 2048},
		{"backend uses smaller period", 4800, 1200, 480, 4800 + 4*480, 480},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buffer, period := malgoBuffer(tt.ring, tt.requested, tt.observed)
			if buffer != tt.wantBuffer || period != tt.wantPeriod {
				t.Errorf("malgoBuffer = %d/%d, want %d/%d", buffer, period, tt.wantBuffer, tt.wantPeriod)
			}
		})
	}
}

func TestMalgoParamsBeforeSetup(t *testing.T) {
	m := NewMalgo()
	if _, _, err := m.GetParams(); err != ErrNotOpen {
		t.Errorf("expected ErrNotOpen, got %v", err)
	}
}
