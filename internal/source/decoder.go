// ABOUTME: Audio decoder abstraction for files and generated tones
// ABOUTME: Picks MP3, FLAC or WAV decoding from the file extension
package source

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Decoder provides interleaved float samples in [-1, 1]
type Decoder interface {
	// Read fills samples and returns how many were written. io.EOF marks the
	// end of a non-looping source.
	Read(samples []float32) (int, error)
	// SampleRate returns the sample rate of the audio
	SampleRate() int
	// Channels returns the number of channels
	Channels() int
	// Metadata returns title, artist, album
	Metadata() (title, artist, album string)
	// Close closes the decoder
	Close() error
}

// Open creates a decoder for path. An empty path returns the 440Hz test tone
// at rate and channels. Files loop back to the start when loop is set.
func Open(path string, rate, channels int, loop bool) (Decoder, error) {
	if path == "" {
		return NewTone(DefaultToneFrequency, rate, channels), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("audio file not found: %s: %w", path, os.ErrNotExist)
	}

	var (
		dec Decoder
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		dec, err = NewMP3(path, loop)
	case ".flac":
		dec, err = NewFLAC(path, loop)
	case ".wav":
		dec, err = NewWAV(path, loop)
	default:
		return nil, fmt.Errorf("unsupported audio format: %s (supported: .mp3, .flac, .wav)", ext)
	}
	if err != nil {
		return nil, err
	}

	title, _, _ := dec.Metadata()
	log.Printf("Loaded %s: %d Hz, %d channels", title, dec.SampleRate(), dec.Channels())
	return dec, nil
}

func titleFromPath(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
