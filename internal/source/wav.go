// ABOUTME: WAV file decoder
// ABOUTME: Loads integer PCM with go-audio/wav and serves it as floats
package source

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/wav"
)

// WAV holds a decoded WAV file in memory
type WAV struct {
	data       []int
	pos        int
	loop       bool
	sampleRate int
	channels   int
	scale      float32
	title      string
}

// NewWAV decodes a whole integer PCM WAV file
func NewWAV(path string, loop bool) (*WAV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, errors.New("error while decoding WAV file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV data: %w", err)
	}

	depth := int(decoder.BitDepth)
	if depth != 16 && depth != 24 && depth != 32 {
		return nil, fmt.Errorf("unsupported WAV bit depth: %d", depth)
	}
	channels := int(decoder.NumChans)
	if channels < 1 {
		return nil, fmt.Errorf("invalid WAV channel count: %d", channels)
	}

	return &WAV{
		data:       buf.Data[:len(buf.Data)-len(buf.Data)%channels],
		loop:       loop,
		sampleRate: int(decoder.SampleRate),
		channels:   channels,
		scale:      1 / float32(int64(1)<<(depth-1)),
		title:      titleFromPath(path),
	}, nil
}

func (s *WAV) Read(samples []float32) (int, error) {
	want := len(samples) - len(samples)%s.channels
	written := 0

	for written < want {
		if s.pos >= len(s.data) {
			if !s.loop || len(s.data) == 0 {
				return written, io.EOF
			}
			s.pos = 0
		}
		n := min(want-written, len(s.data)-s.pos)
		for i := 0; i < n; i++ {
			samples[written+i] = float32(s.data[s.pos+i]) * s.scale
		}
		s.pos += n
		written += n
	}

	return written, nil
}

func (s *WAV) SampleRate() int { return s.sampleRate }
func (s *WAV) Channels() int   { return s.channels }
func (s *WAV) Metadata() (string, string, string) {
	return s.title, "Unknown Artist", "Unknown Album"
}
func (s *WAV) Close() error { return nil }
