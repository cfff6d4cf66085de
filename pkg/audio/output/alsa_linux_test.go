//go:build linux

// ABOUTME: ALSA capability conversion tests
// ABOUTME: Feeds fake refined parameter spaces through the conversion and checks the resulting capabilities
package output

import (
	"errors"
	"slices"
	"testing"

	"github.com/Sendspin/sendspin-playback/pkg/audio"
	"github.com/gen2brain/alsa"
)

type fakeParams struct {
	ranges  map[alsa.PcmParam][2]uint32
	formats []alsa.PcmFormat
	err     error
}

func (f fakeParams) RangeMin(p alsa.PcmParam) (uint32, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.ranges[p][0], nil
}

func (f fakeParams) RangeMax(p alsa.PcmParam) (uint32, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.ranges[p][1], nil
}

func (f fakeParams) FormatIsSupported(format alsa.PcmFormat) bool {
	return slices.Contains(f.formats, format)
}

func TestCapsFromParams(t *testing.T) {
	tests := []struct {
		name      string
		params    fakeParams
		want      Capabilities
		wantRates []int
		wantErr   bool
	}{
		{
			name: "usb dac with continuous range",
			params: fakeParams{
				ranges: map[alsa.PcmParam][2]uint32{
					alsa.PCM_PARAM_RATE:     {44100, 192000},
					alsa.PCM_PARAM_CHANNELS: {2, 2},
				},
				formats: []alsa.PcmFormat{alsa.PCM_FORMAT_S16_LE, alsa.PCM_FORMAT_S24_3LE, alsa.PCM_FORMAT_S32_LE},
			},
			want: Capabilities{
				MinRate: 44100, MaxRate: 192000, MinChannels: 2, MaxChannels: 2,
				Formats: []audio.BitDepth{audio.Depth16, audio.Depth24Packed, audio.Depth32},
			},
			wantRates: []int{44100, 48000, 88200, 96000, 176400, 192000},
		},
		{
			name: "fixed rate codec",
			params: fakeParams{
				ranges: map[alsa.PcmParam][2]uint32{
					alsa.PCM_PARAM_RATE:     {48000, 48000},
					alsa.PCM_PARAM_CHANNELS: {1, 8},
				},
				formats: []alsa.PcmFormat{alsa.PCM_FORMAT_S24_LE, alsa.PCM_FORMAT_U8},
			},
			want: Capabilities{
				Rates:   []int{48000},
				MinRate: 48000, MaxRate: 48000, MinChannels: 1, MaxChannels: 8,
				Formats: []audio.BitDepth{audio.Depth24},
			},
			wantRates: []int{48000},
		},
		{
			name: "no usable format",
			params: fakeParams{
				ranges: map[alsa.PcmParam][2]uint32{
					alsa.PCM_PARAM_RATE:     {8000, 48000},
					alsa.PCM_PARAM_CHANNELS: {1, 2},
				},
				formats: []alsa.PcmFormat{alsa.PCM_FORMAT_U8, alsa.PCM_FORMAT_S16_BE},
			},
			wantErr: true,
		},
		{
			name: "empty rate range",
			params: fakeParams{
				ranges: map[alsa.PcmParam][2]uint32{
					alsa.PCM_PARAM_RATE:     {48000, 44100},
					alsa.PCM_PARAM_CHANNELS: {2, 2},
				},
				formats: []alsa.PcmFormat{alsa.PCM_FORMAT_S16_LE},
			},
			wantErr: true,
		},
		{
			name: "range query fails",
			params: fakeParams{
				formats: []alsa.PcmFormat{alsa.PCM_FORMAT_S16_LE},
				err:     errors.New("params not initialized"),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := capsFromParams(tt.params)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("capsFromParams failed: %v", err)
			}
			if got.MinRate != tt.want.MinRate || got.MaxRate != tt.want.MaxRate {
				t.Errorf("rate range = %d-%d, want %d-%d", got.MinRate, got.MaxRate, tt.want.MinRate, tt.want.MaxRate)
			}
			if got.MinChannels != tt.want.MinChannels || got.MaxChannels != tt.want.MaxChannels {
				t.Errorf("channels = %d-%d, want %d-%d", got.MinChannels, got.MaxChannels, tt.want.MinChannels, tt.want.MaxChannels)
			}
			if !slices.Equal(got.Rates, tt.want.Rates) {
				t.Errorf("Rates = %v, want %v", got.Rates, tt.want.Rates)
			}
			if !slices.Equal(got.Formats, tt.want.Formats) {
				t.Errorf("Formats = %v, want %v", got.Formats, tt.want.Formats)
			}
			if rates := got.candidateRates(); !slices.Equal(rates, tt.wantRates) {
				t.Errorf("candidateRates = %v, want %v", rates, tt.wantRates)
			}
		})
	}
}

func TestProbeALSARejectsBadName(t *testing.T) {
	_, err := ProbeALSA("hw:zero")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestNearestRate(t *testing.T) {
	rates := []int{44100, 48000, 96000}
	tests := []struct {
		want, expected int
	}{
		{48000, 48000},
		{44000, 44100},
		{88200, 96000},
		{8000, 44100},
	}
	for _, tt := range tests {
		if got := nearestRate(rates, tt.want); got != tt.expected {
			t.Errorf("nearestRate(%d) = %d, want %d", tt.want, got, tt.expected)
		}
	}
	if got := nearestRate(nil, 48000); got != 0 {
		t.Errorf("nearestRate with no rates = %d, want 0", got)
	}
}
