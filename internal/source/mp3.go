// ABOUTME: MP3 file decoder
// ABOUTME: Converts go-mp3's 16-bit stereo output to float samples
package source

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"
)

// MP3 reads from an MP3 file. go-mp3 always produces stereo.
type MP3 struct {
	file    *os.File
	decoder *mp3.Decoder
	loop    bool
	title   string
	raw     []byte
}

// NewMP3 opens an MP3 file
func NewMP3(path string, loop bool) (*MP3, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	return &MP3{
		file:    f,
		decoder: decoder,
		loop:    loop,
		title:   titleFromPath(path),
	}, nil
}

func (s *MP3) Read(samples []float32) (int, error) {
	// 2 bytes per int16 sample, whole frames only
	need := (len(samples) / 2) * 4
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	buf := s.raw[:need]

	n, err := io.ReadFull(s.decoder, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return 0, err
	}

	numSamples := n / 2
	for i := 0; i < numSamples; i++ {
		v := int16(binary.LittleEndian.Uint16(buf[i*2:]))
		samples[i] = float32(v) / 32768
	}

	if err == nil {
		return numSamples, nil
	}
	if !s.loop {
		return numSamples, io.EOF
	}

	// Loop the audio - seek back to start
	if _, seekErr := s.file.Seek(0, io.SeekStart); seekErr != nil {
		return numSamples, fmt.Errorf("failed to seek to start: %w", seekErr)
	}
	decoder, decErr := mp3.NewDecoder(s.file)
	if decErr != nil {
		return numSamples, fmt.Errorf("failed to create new decoder: %w", decErr)
	}
	s.decoder = decoder
	return numSamples, nil
}

func (s *MP3) SampleRate() int { return s.decoder.SampleRate() }
func (s *MP3) Channels() int   { return 2 }
func (s *MP3) Metadata() (string, string, string) {
	return s.title, "Unknown Artist", "Unknown Album"
}
func (s *MP3) Close() error {
	return s.file.Close()
}
