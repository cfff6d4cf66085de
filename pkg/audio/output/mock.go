// ABOUTME: In-memory PCM device for tests and dry runs
// ABOUTME: Records written frames and injects oversized buffers, xruns and recovery failures
package output

import (
	"fmt"
	"sync"

	"github.com/Sendspin/sendspin-playback/pkg/audio"
)

// Mock is an in-memory Device. Exported fields configure behaviour and must
// be set before use.
type Mock struct {
	// Caps is returned by Capabilities. ProbeErr, if set, is returned instead.
	Caps     Capabilities
	ProbeErr error

	// BufferFrames and PeriodFrames are reported by GetParams. Zero derives
	// them from the latency hint the way a driver rounding exactly would.
	BufferFrames int
	PeriodFrames int

	// OpenErr and RecoverErr make the corresponding call fail
	OpenErr    error
	RecoverErr error

	// Capture keeps every written byte; disable for long runs
	Capture bool

	mu       sync.Mutex
	name     string
	params   Params
	state    DeviceState
	data     []byte
	frames   int
	writeErr []error
	block    chan struct{}
	writing  int

	closedMidWrite bool

	drains   int
	drops    int
	recovers int
	closes   int
}

// NewMock creates a mock device that accepts common formats and captures writes
func NewMock() *Mock {
	return &Mock{
		Caps: Capabilities{
			Rates:       []int{44100, 48000, 88200, 96000, 192000},
			MinChannels: 1,
			MaxChannels: 8,
			Formats:     []audio.BitDepth{audio.Depth16, audio.Depth24, audio.Depth24Packed, audio.Depth32},
		},
		Capture: true,
	}
}

func (m *Mock) Open(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return m.OpenErr
	}
	m.name = name
	m.state = StateOpen
	return nil
}

func (m *Mock) SetParams(p Params) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return ErrNotOpen
	}
	m.params = p
	m.state = StatePrepared
	return nil
}

func (m *Mock) GetParams() (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return 0, 0, ErrNotOpen
	}

	period := m.PeriodFrames
	if period == 0 {
		period = m.params.LatencyFrames() / 4
	}
	buffer := m.BufferFrames
	if buffer == 0 {
		buffer = period * 4
	}
	return buffer, period, nil
}

// InjectWriteErrors queues errors returned by the next Write calls, one per call
func (m *Mock) InjectWriteErrors(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = append(m.writeErr, errs...)
}

// Block makes Write hang until Unblock, like a wedged driver
func (m *Mock) Block() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.block == nil {
		m.block = make(chan struct{})
	}
}

// Unblock releases writers held by Block
func (m *Mock) Unblock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.block != nil {
		close(m.block)
		m.block = nil
	}
}

func (m *Mock) Write(data []byte, frames int) (int, error) {
	m.mu.Lock()
	block := m.block
	m.writing++
	m.mu.Unlock()
	if block != nil {
		<-block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() { m.writing-- }()

	switch m.state {
	case StatePrepared, StateRunning:
	case StateXRun:
		return 0, fmt.Errorf("%w: stream not prepared", ErrXRun)
	default:
		return 0, fmt.Errorf("write in state %s: %w", m.state, ErrNotOpen)
	}

	if len(m.writeErr) > 0 {
		err := m.writeErr[0]
		m.writeErr = m.writeErr[1:]
		if err != nil {
			switch {
			case IsRecoverable(err):
				m.state = StateXRun
			default:
				m.state = StateDisconnected
			}
			return 0, err
		}
	}

	frameSize := m.params.Format.FrameSize()
	if frameSize > 0 && m.Capture {
		m.data = append(m.data, data[:frames*frameSize]...)
	}
	m.frames += frames
	m.state = StateRunning
	return frames, nil
}

func (m *Mock) Recover(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recovers++
	if m.RecoverErr != nil {
		return m.RecoverErr
	}
	m.state = StatePrepared
	return nil
}

func (m *Mock) Drain() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drains++
	m.state = StatePrepared
	return nil
}

func (m *Mock) Drop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drops++
	m.state = StatePrepared
	return nil
}

func (m *Mock) State() DeviceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Mock) Capabilities() (Capabilities, error) {
	if m.ProbeErr != nil {
		return Capabilities{}, m.ProbeErr
	}
	return m.Caps, nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	if m.writing > 0 {
		m.closedMidWrite = true
	}
	m.state = StateClosed
	return nil
}

// Data returns a copy of everything written so far
func (m *Mock) Data() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// Frames returns the number of frames written
func (m *Mock) Frames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

// Params returns the last applied configuration
func (m *Mock) Params() Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params
}

// ClosedDuringWrite reports whether Close ran while a Write was in progress
func (m *Mock) ClosedDuringWrite() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closedMidWrite
}

// Counts returns how often Drain, Drop, Recover and Close were called
func (m *Mock) Counts() (drains, drops, recovers, closes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drains, m.drops, m.recovers, m.closes
}
