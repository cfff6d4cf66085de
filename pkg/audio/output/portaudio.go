//go:build portaudio

// ABOUTME: PortAudio PCM device
// ABOUTME: Blocking-stream playback with latency read back from the opened stream
package output

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/Sendspin/sendspin-playback/pkg/audio"
	"github.com/gordonklaus/portaudio"
)

// PortAudio output implementation
type PortAudio struct {
	device *portaudio.DeviceInfo
	stream *portaudio.Stream
	params Params

	buf16   []int16
	buf32   []int32
	fill    int // frames staged in the buffer
	period  int
	latency time.Duration
	state   DeviceState
}

// NewPortAudio creates a new PortAudio device
func NewPortAudio() *PortAudio {
	return &PortAudio{}
}

// Open initializes PortAudio and finds the named device
func (p *PortAudio) Open(name string) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	if name == "" || name == "default" {
		dev, err := portaudio.DefaultOutputDevice()
		if err != nil {
			portaudio.Terminate()
			return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
		}
		p.device = dev
	} else {
		devices, err := portaudio.Devices()
		if err != nil {
			portaudio.Terminate()
			return fmt.Errorf("failed to enumerate devices: %w", err)
		}
		for _, d := range devices {
			if d.Name == name && d.MaxOutputChannels > 0 {
				p.device = d
				break
			}
		}
		if p.device == nil {
			portaudio.Terminate()
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
		}
	}

	p.state = StateOpen
	return nil
}

func (p *PortAudio) streamParams(f audio.Format, latency time.Duration, period int) portaudio.StreamParameters {
	return portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   p.device,
			Channels: f.Channels,
			Latency:  latency,
		},
		SampleRate:      float64(f.SampleRate),
		FramesPerBuffer: period,
	}
}

// SetParams opens a blocking stream
func (p *PortAudio) SetParams(params Params) error {
	if p.device == nil {
		return ErrNotOpen
	}
	if p.stream != nil {
		p.stream.Close()
		p.stream = nil
	}

	f := params.Format
	period := params.PeriodFrames
	if period <= 0 {
		period = max(params.LatencyFrames()/4, 64)
	}
	sp := p.streamParams(f, time.Duration(params.LatencyMicros)*time.Microsecond, period)

	var (
		stream *portaudio.Stream
		err    error
	)
	switch f.BitDepth {
	case audio.Depth16:
		p.buf16 = make([]int16, period*f.Channels)
		stream, err = portaudio.OpenStream(sp, &p.buf16)
	case audio.Depth32:
		p.buf32 = make([]int32, period*f.Channels)
		stream, err = portaudio.OpenStream(sp, &p.buf32)
	default:
		return fmt.Errorf("%w: %s (supported: S16_LE, S32_LE)", ErrUnsupportedFormat, f.BitDepth)
	}
	if err != nil {
		if errors.Is(err, portaudio.InvalidSampleRate) {
			return fmt.Errorf("%w: %v", ErrUnsupportedRate, err)
		}
		if errors.Is(err, portaudio.InvalidChannelCount) {
			return fmt.Errorf("%w: %v", ErrUnsupportedChannels, err)
		}
		return fmt.Errorf("failed to open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start stream: %w", err)
	}

	p.stream = stream
	p.params = params
	p.period = period
	p.fill = 0
	p.latency = stream.Info().OutputLatency
	p.state = StatePrepared
	return nil
}

// Write stages frames into the stream buffer and writes each full period
func (p *PortAudio) Write(data []byte, frames int) (int, error) {
	if p.stream == nil {
		return 0, ErrNotOpen
	}

	ch := p.params.Format.Channels
	width := p.params.Format.BitDepth.BytesPerSample()
	for i := 0; i < frames; i++ {
		for c := 0; c < ch; c++ {
			o := (i*ch + c) * width
			idx := p.fill*ch + c
			if p.buf16 != nil {
				p.buf16[idx] = int16(binary.LittleEndian.Uint16(data[o:]))
			} else {
				p.buf32[idx] = int32(binary.LittleEndian.Uint32(data[o:]))
			}
		}
		p.fill++
		if p.fill == p.period {
			p.fill = 0
			if err := p.stream.Write(); err != nil {
				if errors.Is(err, portaudio.OutputUnderflowed) {
					p.state = StateXRun
					return i + 1, fmt.Errorf("%w: %v", ErrXRun, err)
				}
				return i + 1, fmt.Errorf("%w: %v", ErrDeviceGone, err)
			}
		}
	}
	p.state = StateRunning
	return frames, nil
}

// GetParams reports the stream's output latency in frames
func (p *PortAudio) GetParams() (int, int, error) {
	if p.stream == nil {
		return 0, 0, ErrNotOpen
	}
	buffer := int(p.latency.Seconds()*float64(p.params.Format.SampleRate)) + p.period
	return buffer, p.period, nil
}

// Recover continues after an output underflow, which PortAudio only reports
func (p *PortAudio) Recover(err error) error {
	if p.stream == nil {
		return ErrNotOpen
	}
	p.state = StatePrepared
	return nil
}

// Drain stops the stream after queued buffers play, then restarts it
func (p *PortAudio) Drain() error {
	if p.stream == nil {
		return ErrNotOpen
	}
	if err := p.stream.Stop(); err != nil {
		return err
	}
	p.fill = 0
	return p.stream.Start()
}

// Drop aborts the stream discarding queued buffers, then restarts it
func (p *PortAudio) Drop() error {
	if p.stream == nil {
		return ErrNotOpen
	}
	if err := p.stream.Abort(); err != nil {
		return err
	}
	p.fill = 0
	return p.stream.Start()
}

func (p *PortAudio) State() DeviceState {
	return p.state
}

// Capabilities probes standard rates against the device
func (p *PortAudio) Capabilities() (Capabilities, error) {
	if p.device == nil {
		return Capabilities{}, ErrNotOpen
	}

	caps := Capabilities{
		MinChannels: 1,
		MaxChannels: p.device.MaxOutputChannels,
		Formats:     []audio.BitDepth{audio.Depth16, audio.Depth32},
	}
	for _, rate := range StandardRates {
		f := audio.Format{SampleRate: rate, Channels: min(2, p.device.MaxOutputChannels), BitDepth: audio.Depth16}
		sp := p.streamParams(f, p.device.DefaultLowOutputLatency, 0)
		if portaudio.IsFormatSupported(sp, []int16{}) == nil {
			caps.Rates = append(caps.Rates, rate)
		}
	}
	return caps, nil
}

// Close releases resources
func (p *PortAudio) Close() error {
	if p.stream != nil {
		if err := p.stream.Stop(); err != nil {
			return err
		}
		if err := p.stream.Close(); err != nil {
			return err
		}
		p.stream = nil
	}
	p.state = StateClosed
	if p.device == nil {
		return nil
	}
	p.device = nil
	return portaudio.Terminate()
}
