// ABOUTME: Malgo-based PCM device using miniaudio
// ABOUTME: Bridges blocking writes to miniaudio's pull callback through a byte ring buffer
package output

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sendspin/sendspin-playback/pkg/audio"
	"github.com/gen2brain/malgo"
)

const (
	malgoPeriods = 4

	// how long SetParams waits for the first callback to learn the device period
	malgoFirstCallbackTimeout = 500 * time.Millisecond
)

// Malgo output implementation using malgo/miniaudio library
type Malgo struct {
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	deviceID malgo.DeviceID
	hasID    bool
	name     string

	params       Params
	frameSize    int
	periodFrames int
	ringFrames   int
	ringBuffer   *RingBuffer

	// largest frame count miniaudio has asked for in one callback
	callbackFrames *atomic.Uint32

	state DeviceState
	mu    sync.Mutex
}

// NewMalgo creates a new Malgo device
func NewMalgo() *Malgo {
	return &Malgo{}
}

// Open initializes the miniaudio context and resolves the device name.
// An empty name or "default" selects the system default output.
func (m *Malgo) Open(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.malgoCtx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return fmt.Errorf("failed to initialize malgo context: %w", err)
		}
		m.malgoCtx = ctx
	}

	m.hasID = false
	if name != "" && name != "default" {
		infos, err := m.malgoCtx.Devices(malgo.Playback)
		if err != nil {
			return fmt.Errorf("failed to enumerate devices: %w", err)
		}
		for _, info := range infos {
			if info.Name() == name {
				m.deviceID = info.ID
				m.hasID = true
				break
			}
		}
		if !m.hasID {
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
		}
	}

	m.name = name
	m.state = StateOpen
	return nil
}

// SetParams creates and starts the playback device
func (m *Malgo) SetParams(p Params) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.malgoCtx == nil {
		return ErrNotOpen
	}

	var format malgo.FormatType
	switch p.Format.BitDepth {
	case audio.Depth16:
		format = malgo.FormatS16
	case audio.Depth24Packed:
		format = malgo.FormatS24
	case audio.Depth32:
		format = malgo.FormatS32
	default:
		return fmt.Errorf("%w: %s (supported: S16_LE, S24_3LE, S32_LE)", ErrUnsupportedFormat, p.Format.BitDepth)
	}

	if m.device != nil {
		m.closeDevice()
	}

	period := p.PeriodFrames
	if period <= 0 {
		period = max(p.LatencyFrames()/malgoPeriods, 64)
	}
	ringFrames := max(p.LatencyFrames(), period*2)

	m.params = p
	m.frameSize = p.Format.FrameSize()
	m.periodFrames = period
	m.ringFrames = ringFrames
	m.ringBuffer = NewRingBuffer(ringFrames * m.frameSize)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = format
	deviceConfig.Playback.Channels = uint32(p.Format.Channels)
	deviceConfig.SampleRate = uint32(p.Format.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(period)
	deviceConfig.Periods = malgoPeriods
	// callbacks then arrive at the backend's own period size
	deviceConfig.NoFixedSizedCallback = 1
	deviceConfig.Alsa.NoMMap = 1
	if p.Access == AccessMMapInterleaved {
		deviceConfig.Alsa.NoMMap = 0
	}
	if m.hasID {
		deviceConfig.Playback.DeviceID = m.deviceID.Pointer()
	}

	ring := m.ringBuffer
	frameSize := m.frameSize
	observed := &atomic.Uint32{}
	first := make(chan struct{})
	var once sync.Once
	deviceCallbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			if frameCount > observed.Load() {
				observed.Store(frameCount)
			}
			once.Do(func() { close(first) })
			ring.Read(pOutput[:int(frameCount)*frameSize])
		},
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, deviceCallbacks)
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start device: %w", err)
	}

	select {
	case <-first:
	case <-time.After(malgoFirstCallbackTimeout):
		log.Printf("Warning: no callback from %q within %v, reporting the requested period", m.name, malgoFirstCallbackTimeout)
	}

	m.device = device
	m.callbackFrames = observed
	m.state = StatePrepared

	log.Printf("Audio output initialized: %s (malgo/%s)", p.Format, formatName(format))
	return nil
}

// Write queues frames, blocking while the ring buffer is full
func (m *Malgo) Write(data []byte, frames int) (int, error) {
	m.mu.Lock()
	ring := m.ringBuffer
	ready := m.device != nil
	m.mu.Unlock()

	if !ready {
		return 0, ErrNotOpen
	}

	n := ring.Write(data[:frames*m.frameSize])
	written := n / m.frameSize
	if written < frames {
		return written, fmt.Errorf("%w: output closed during write", ErrDeviceGone)
	}

	m.mu.Lock()
	m.state = StateRunning
	m.mu.Unlock()
	return written, nil
}

// GetParams reports the ring buffer plus miniaudio's period buffers. The
// period is the one the backend calls back with; malgo does not expose the
// internal period count, so that stays at the requested value.
func (m *Malgo) GetParams() (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return 0, 0, ErrNotOpen
	}
	buffer, period := malgoBuffer(m.ringFrames, m.periodFrames, m.callbackFrames.Load())
	return buffer, period, nil
}

// malgoBuffer sizes the output path from the observed callback period,
// falling back to the requested one before any callback has run
func malgoBuffer(ringFrames, requestedPeriod int, observed uint32) (int, int) {
	period := requestedPeriod
	if observed > 0 {
		period = int(observed)
	}
	return ringFrames + period*malgoPeriods, period
}

// Recover is a no-op; miniaudio keeps its device running through underruns
func (m *Malgo) Recover(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return ErrNotOpen
	}
	m.state = StatePrepared
	return nil
}

// Drain waits until the callback has consumed everything queued
func (m *Malgo) Drain() error {
	m.mu.Lock()
	ring := m.ringBuffer
	m.mu.Unlock()
	if ring == nil {
		return ErrNotOpen
	}
	ring.WaitEmpty()
	return nil
}

// Drop discards queued audio
func (m *Malgo) Drop() error {
	m.mu.Lock()
	ring := m.ringBuffer
	m.mu.Unlock()
	if ring == nil {
		return ErrNotOpen
	}
	ring.Reset()
	return nil
}

func (m *Malgo) State() DeviceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Capabilities reports what miniaudio accepts; it converts to the hardware format itself
func (m *Malgo) Capabilities() (Capabilities, error) {
	return Capabilities{
		MinRate:     8000,
		MaxRate:     384000,
		MinChannels: 1,
		MaxChannels: 32,
		Formats:     []audio.BitDepth{audio.Depth16, audio.Depth24Packed, audio.Depth32},
	}, nil
}

// Underruns returns how many callbacks found the ring buffer short
func (m *Malgo) Underruns() uint64 {
	m.mu.Lock()
	ring := m.ringBuffer
	m.mu.Unlock()
	if ring == nil {
		return 0
	}
	return ring.Underruns()
}

// Close releases output resources
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeDevice()

	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			log.Printf("Warning: malgo context uninit error: %v", err)
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
	m.state = StateClosed
	return nil
}

// closeDevice stops and uninitializes the device (must hold m.mu)
func (m *Malgo) closeDevice() {
	if m.ringBuffer != nil {
		m.ringBuffer.Close()
	}
	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			log.Printf("Warning: device stop error: %v", err)
		}
		m.device.Uninit()
		m.device = nil
	}
}

// MalgoDevices lists playback device names known to miniaudio
func MalgoDevices() ([]string, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

// formatName returns human-readable format name
func formatName(format malgo.FormatType) string {
	switch format {
	case malgo.FormatS16:
		return "S16"
	case malgo.FormatS24:
		return "S24"
	case malgo.FormatS32:
		return "S32"
	default:
		return fmt.Sprintf("Unknown(%d)", format)
	}
}
