// ABOUTME: WAV file PCM device
// ABOUTME: Renders playback to a file with go-audio/wav, optionally paced at real time
package output

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/Sendspin/sendspin-playback/pkg/audio"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAV writes frames to a WAV file. When paced, Write blocks like a device
// with a buffer of the requested latency would.
type WAV struct {
	paced bool

	path    string
	file    *os.File
	encoder *wav.Encoder
	buf     *goaudio.IntBuffer

	params       Params
	bufferFrames int
	start        time.Time
	frames       int64
	state        DeviceState
}

// NewWAV creates a WAV file device
func NewWAV(paced bool) *WAV {
	return &WAV{paced: paced}
}

// Open records the output path; the file is created by SetParams
func (w *WAV) Open(name string) error {
	if name == "" || name == "default" {
		name = "playback.wav"
	}
	w.path = name
	w.state = StateOpen
	return nil
}

// SetParams creates the file and WAV encoder
func (w *WAV) SetParams(p Params) error {
	if w.state == StateClosed {
		return ErrNotOpen
	}
	if err := w.closeFile(); err != nil {
		return err
	}

	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", w.path, err)
	}

	bits := p.Format.BitDepth.Bits()
	w.file = f
	w.encoder = wav.NewEncoder(f, p.Format.SampleRate, bits, p.Format.Channels, 1)
	w.buf = &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: p.Format.Channels,
			SampleRate:  p.Format.SampleRate,
		},
		SourceBitDepth: bits,
	}
	w.params = p
	w.bufferFrames = max(p.LatencyFrames(), 1)
	w.frames = 0
	w.start = time.Time{}
	w.state = StatePrepared
	return nil
}

// Write converts device bytes back to integers for the encoder
func (w *WAV) Write(data []byte, frames int) (int, error) {
	if w.encoder == nil {
		return 0, ErrNotOpen
	}

	f := w.params.Format
	width := f.BitDepth.BytesPerSample()
	n := frames * f.Channels
	if cap(w.buf.Data) < n {
		w.buf.Data = make([]int, n)
	}
	w.buf.Data = w.buf.Data[:n]

	for i := 0; i < n; i++ {
		o := i * width
		switch f.BitDepth {
		case audio.Depth16:
			w.buf.Data[i] = int(int16(binary.LittleEndian.Uint16(data[o:])))
		case audio.Depth24, audio.Depth24Packed:
			w.buf.Data[i] = int(audio.SampleFrom24Bit([3]byte{data[o], data[o+1], data[o+2]}))
		case audio.Depth32:
			w.buf.Data[i] = int(int32(binary.LittleEndian.Uint32(data[o:])))
		}
	}

	if err := w.encoder.Write(w.buf); err != nil {
		return 0, fmt.Errorf("%w: wav write failed: %v", ErrDeviceGone, err)
	}

	if w.start.IsZero() {
		w.start = time.Now()
	}
	w.frames += int64(frames)
	w.state = StateRunning

	if w.paced {
		// block until the written audio fits within one buffer of the play position
		ahead := w.frames - int64(w.bufferFrames)
		if ahead > 0 {
			time.Sleep(time.Until(w.start.Add(w.framesDuration(ahead))))
		}
	}
	return frames, nil
}

func (w *WAV) framesDuration(frames int64) time.Duration {
	return time.Duration(frames * int64(time.Second) / int64(w.params.Format.SampleRate))
}

func (w *WAV) GetParams() (int, int, error) {
	if w.encoder == nil {
		return 0, 0, ErrNotOpen
	}
	return w.bufferFrames, max(w.bufferFrames/4, 1), nil
}

// Recover has nothing to recover; files do not underrun
func (w *WAV) Recover(err error) error {
	if w.encoder == nil {
		return ErrNotOpen
	}
	w.state = StatePrepared
	return nil
}

// Drain waits out the simulated buffer when paced
func (w *WAV) Drain() error {
	if w.encoder == nil {
		return ErrNotOpen
	}
	if w.paced && !w.start.IsZero() {
		time.Sleep(time.Until(w.start.Add(w.framesDuration(w.frames))))
	}
	w.state = StatePrepared
	return nil
}

// Drop cannot unwrite the file; it only resets pacing
func (w *WAV) Drop() error {
	if w.encoder == nil {
		return ErrNotOpen
	}
	w.start = time.Time{}
	w.frames = 0
	w.state = StatePrepared
	return nil
}

func (w *WAV) State() DeviceState {
	return w.state
}

func (w *WAV) Capabilities() (Capabilities, error) {
	return Capabilities{
		MinRate:     8000,
		MaxRate:     384000,
		MinChannels: 1,
		MaxChannels: 8,
		Formats:     []audio.BitDepth{audio.Depth16, audio.Depth24, audio.Depth24Packed, audio.Depth32},
	}, nil
}

func (w *WAV) closeFile() error {
	if w.encoder != nil {
		if err := w.encoder.Close(); err != nil {
			return fmt.Errorf("failed to finalize %s: %w", w.path, err)
		}
		w.encoder = nil
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close %s: %w", w.path, err)
		}
		w.file = nil
	}
	return nil
}

// Close finalizes the WAV header and closes the file
func (w *WAV) Close() error {
	w.state = StateClosed
	return w.closeFile()
}
