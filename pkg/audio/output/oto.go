// ABOUTME: Oto-based PCM device
// ABOUTME: Streams 16-bit PCM through a pipe into a persistent oto player
package output

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/Sendspin/sendspin-playback/pkg/audio"
	"github.com/ebitengine/oto/v3"
)

// oto allows one context per process
var (
	otoOnce    sync.Once
	otoContext *oto.Context
	otoFormat  audio.Format
	otoErr     error
)

// Oto output implementation using oto library
type Oto struct {
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter

	params      Params
	bufferBytes int
	state       DeviceState
}

// NewOto creates a new Oto device
func NewOto() *Oto {
	return &Oto{}
}

// Open accepts only the default device; oto has no device selection
func (o *Oto) Open(name string) error {
	if name != "" && name != "default" {
		return fmt.Errorf("%w: oto only plays to the default device, got %q", ErrDeviceNotFound, name)
	}
	o.state = StateOpen
	return nil
}

// SetParams creates (or reuses) the process-wide oto context and starts a player
func (o *Oto) SetParams(p Params) error {
	if o.state == StateClosed {
		return ErrNotOpen
	}
	if p.Format.BitDepth != audio.Depth16 {
		return fmt.Errorf("%w: oto only supports S16_LE, got %s", ErrUnsupportedFormat, p.Format.BitDepth)
	}
	if p.Format.Channels > 2 {
		return fmt.Errorf("%w: oto supports 1 or 2 channels, got %d", ErrUnsupportedChannels, p.Format.Channels)
	}

	latency := time.Duration(p.LatencyMicros) * time.Microsecond
	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   p.Format.SampleRate,
			ChannelCount: p.Format.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   latency,
		}
		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			otoErr = fmt.Errorf("failed to create oto context: %w", err)
			return
		}
		<-readyChan
		otoContext = ctx
		otoFormat = p.Format
	})
	if otoErr != nil {
		return otoErr
	}
	if otoFormat.SampleRate != p.Format.SampleRate || otoFormat.Channels != p.Format.Channels {
		return fmt.Errorf("%w: oto context already running at %s", ErrUnsupportedRate, otoFormat)
	}

	o.closePlayer()
	o.params = p
	o.bufferBytes = p.LatencyFrames() * p.Format.FrameSize()
	o.startPlayer()
	o.state = StatePrepared

	log.Printf("Audio output initialized: %dHz, %d channels (oto)", p.Format.SampleRate, p.Format.Channels)
	return nil
}

func (o *Oto) startPlayer() {
	o.pipeReader, o.pipeWriter = io.Pipe()
	o.player = otoContext.NewPlayer(o.pipeReader)
	if o.bufferBytes > 0 {
		o.player.SetBufferSize(o.bufferBytes)
	}
	o.player.Play()
}

// Write blocks until the player has taken data from the pipe
func (o *Oto) Write(data []byte, frames int) (int, error) {
	if o.player == nil {
		return 0, ErrNotOpen
	}

	frameSize := o.params.Format.FrameSize()
	n, err := o.pipeWriter.Write(data[:frames*frameSize])
	if err != nil {
		return n / frameSize, fmt.Errorf("%w: pipe write failed: %v", ErrDeviceGone, err)
	}
	o.state = StateRunning
	return frames, nil
}

// GetParams reports the player buffer; oto does not expose the driver buffer
func (o *Oto) GetParams() (int, int, error) {
	if o.player == nil {
		return 0, 0, ErrNotOpen
	}
	frames := o.bufferBytes / o.params.Format.FrameSize()
	return frames, frames / 4, nil
}

// Recover restarts playback if the player reported an error
func (o *Oto) Recover(err error) error {
	if o.player == nil {
		return ErrNotOpen
	}
	if perr := o.player.Err(); perr != nil {
		o.closePlayer()
		o.startPlayer()
	}
	o.state = StatePrepared
	return nil
}

// Drain waits for the player to empty its buffer
func (o *Oto) Drain() error {
	if o.player == nil {
		return ErrNotOpen
	}
	o.state = StateDraining
	for o.player.IsPlaying() && o.player.BufferedSize() > 0 {
		time.Sleep(5 * time.Millisecond)
	}
	o.state = StatePrepared
	return nil
}

// Drop replaces the player, discarding whatever it buffered
func (o *Oto) Drop() error {
	if o.player == nil {
		return ErrNotOpen
	}
	o.player.Pause()
	o.closePlayer()
	o.startPlayer()
	o.state = StatePrepared
	return nil
}

func (o *Oto) State() DeviceState {
	return o.state
}

func (o *Oto) Capabilities() (Capabilities, error) {
	return Capabilities{
		MinRate:     8000,
		MaxRate:     192000,
		MinChannels: 1,
		MaxChannels: 2,
		Formats:     []audio.BitDepth{audio.Depth16},
	}, nil
}

func (o *Oto) closePlayer() {
	if o.pipeWriter != nil {
		o.pipeWriter.Close()
		o.pipeWriter = nil
	}
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.pipeReader != nil {
		o.pipeReader.Close()
		o.pipeReader = nil
	}
}

// Close releases output resources; the shared context stays alive
func (o *Oto) Close() error {
	o.closePlayer()
	o.state = StateClosed
	return nil
}
