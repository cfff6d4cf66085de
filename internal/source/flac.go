// ABOUTME: FLAC file decoder
// ABOUTME: Scales mewkiz/flac subframe samples by bit depth into floats
package source

import (
	"fmt"
	"io"
	"os"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
)

// FLAC reads from a FLAC file, keeping the unplayed part of the last parsed
// frame between reads
type FLAC struct {
	file       *os.File
	stream     *flac.Stream
	loop       bool
	sampleRate int
	channels   int
	bitDepth   int
	scale      float32
	title      string

	pending *frame.Frame
	offset  int // next sample index within pending
}

// NewFLAC opens a FLAC file
func NewFLAC(path string, loop bool) (*FLAC, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}

	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	bitDepth := int(info.BitsPerSample)
	if bitDepth < 4 || bitDepth > 32 {
		f.Close()
		return nil, fmt.Errorf("unsupported FLAC bit depth: %d", bitDepth)
	}

	return &FLAC{
		file:       f,
		stream:     stream,
		loop:       loop,
		sampleRate: int(info.SampleRate),
		channels:   int(info.NChannels),
		bitDepth:   bitDepth,
		scale:      1 / float32(int64(1)<<(bitDepth-1)),
		title:      titleFromPath(path),
	}, nil
}

func (s *FLAC) Read(samples []float32) (int, error) {
	written := 0
	frames := len(samples) / s.channels

	for written < frames*s.channels {
		if s.pending == nil {
			fr, err := s.stream.ParseNext()
			if err == io.EOF {
				if !s.loop {
					return written, io.EOF
				}
				if err := s.rewind(); err != nil {
					return written, err
				}
				continue
			}
			if err != nil {
				return written, err
			}
			s.pending, s.offset = fr, 0
		}

		block := int(s.pending.BlockSize)
		for ; s.offset < block && written < frames*s.channels; s.offset++ {
			for ch := 0; ch < s.channels; ch++ {
				samples[written] = float32(s.pending.Subframes[ch].Samples[s.offset]) * s.scale
				written++
			}
		}
		if s.offset >= block {
			s.pending = nil
		}
	}

	return written, nil
}

func (s *FLAC) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}
	stream, err := flac.New(s.file)
	if err != nil {
		return fmt.Errorf("failed to create new stream: %w", err)
	}
	s.stream = stream
	return nil
}

func (s *FLAC) SampleRate() int { return s.sampleRate }
func (s *FLAC) Channels() int   { return s.channels }
func (s *FLAC) Metadata() (string, string, string) {
	return s.title, "Unknown Artist", "Unknown Album"
}
func (s *FLAC) Close() error {
	return s.file.Close()
}
