// ABOUTME: Tests for PCM decoder
// ABOUTME: Tests 16/24/32-bit PCM decoding and length checks
package decode

import (
	"testing"

	"github.com/Sendspin/sendspin-playback/pkg/audio"
)

func TestNewPCM(t *testing.T) {
	decoder, err := NewPCM(audio.Format{SampleRate: 48000, Channels: 2, BitDepth: audio.Depth16})
	if err != nil {
		t.Fatalf("failed to create decoder: %v", err)
	}
	if decoder == nil {
		t.Fatal("expected decoder to be created")
	}

	if _, err := NewPCM(audio.Format{SampleRate: 48000, Channels: 2}); err == nil {
		t.Error("expected error for missing bit depth")
	}
}

func TestDecodeInts(t *testing.T) {
	tests := []struct {
		name     string
		depth    audio.BitDepth
		data     []byte
		expected []int32
	}{
		{
			name:     "16-bit",
			depth:    audio.Depth16,
			data:     []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80},
			expected: []int32{0, 32767, -32768},
		},
		{
			name:     "24-bit padded",
			depth:    audio.Depth24,
			data:     []byte{0x56, 0x34, 0x12, 0x00, 0x00, 0x00, 0x80, 0x00},
			expected: []int32{0x123456, audio.Min24Bit},
		},
		{
			name:     "24-bit packed",
			depth:    audio.Depth24Packed,
			data:     []byte{0xFF, 0xFF, 0x7F, 0x00, 0xFF, 0xFF},
			expected: []int32{audio.Max24Bit, -256},
		},
		{
			name:     "32-bit",
			depth:    audio.Depth32,
			data:     []byte{0xFF, 0xFF, 0xFF, 0x7F, 0xFE, 0xFF, 0xFF, 0xFF},
			expected: []int32{audio.Max32Bit, -2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoder, err := NewPCM(audio.Format{SampleRate: 48000, Channels: 1, BitDepth: tt.depth})
			if err != nil {
				t.Fatalf("NewPCM() failed: %v", err)
			}

			result, err := decoder.DecodeInts(tt.data)
			if err != nil {
				t.Fatalf("DecodeInts() failed: %v", err)
			}
			if len(result) != len(tt.expected) {
				t.Fatalf("expected %d samples, got %d", len(tt.expected), len(result))
			}
			for i := range result {
				if result[i] != tt.expected[i] {
					t.Errorf("sample %d: expected %d, got %d", i, tt.expected[i], result[i])
				}
			}
		})
	}
}

func TestDecodeFloat(t *testing.T) {
	decoder, err := NewPCM(audio.Format{SampleRate: 48000, Channels: 1, BitDepth: audio.Depth16})
	if err != nil {
		t.Fatalf("NewPCM() failed: %v", err)
	}

	samples, err := decoder.Decode([]byte{0xFF, 0x7F, 0x01, 0x80, 0x00, 0x00})
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}

	expected := []float32{1, -1, 0}
	for i := range expected {
		if samples[i] != expected[i] {
			t.Errorf("sample %d: expected %v, got %v", i, expected[i], samples[i])
		}
	}
}

func TestDecodePartialSample(t *testing.T) {
	decoder, err := NewPCM(audio.Format{SampleRate: 48000, Channels: 1, BitDepth: audio.Depth24Packed})
	if err != nil {
		t.Fatalf("NewPCM() failed: %v", err)
	}

	if _, err := decoder.Decode([]byte{0x01, 0x02, 0x03, 0x04}); err == nil {
		t.Error("expected error for trailing partial sample")
	}
}
