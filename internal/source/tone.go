// ABOUTME: Test tone generator
// ABOUTME: Generates a sine wave at half scale on every channel
package source

import (
	"math"
	"sync"
)

// DefaultToneFrequency is A4
const DefaultToneFrequency = 440.0

// Tone generates an endless sine wave
type Tone struct {
	mu         sync.Mutex
	frameIndex uint64
	frequency  float64
	rate       int
	channels   int
}

// NewTone creates a tone generator
func NewTone(frequency float64, rate, channels int) *Tone {
	return &Tone{frequency: frequency, rate: rate, channels: channels}
}

func (t *Tone) Read(samples []float32) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	frames := len(samples) / t.channels
	for i := 0; i < frames; i++ {
		pos := float64(t.frameIndex+uint64(i)) / float64(t.rate)
		v := float32(0.5 * math.Sin(2*math.Pi*t.frequency*pos)) // 50% volume
		for c := 0; c < t.channels; c++ {
			samples[i*t.channels+c] = v
		}
	}
	t.frameIndex += uint64(frames)

	return frames * t.channels, nil
}

func (t *Tone) SampleRate() int { return t.rate }
func (t *Tone) Channels() int   { return t.channels }
func (t *Tone) Metadata() (string, string, string) {
	return "Test Tone", "Sendspin", "Reference Signal"
}
func (t *Tone) Close() error { return nil }
