//go:build !portaudio

// ABOUTME: PortAudio stub when library not available
// ABOUTME: Provides compile-time placeholder when PortAudio not installed
package output

import (
	"fmt"
)

var errPortAudio = fmt.Errorf("%w: PortAudio support not enabled (build with -tags portaudio)", ErrBackendUnavailable)

// PortAudio output implementation (stub)
type PortAudio struct{}

// NewPortAudio creates a new PortAudio device
func NewPortAudio() *PortAudio {
	return &PortAudio{}
}

func (p *PortAudio) Open(name string) error                     { return errPortAudio }
func (p *PortAudio) SetParams(params Params) error              { return errPortAudio }
func (p *PortAudio) Write(data []byte, frames int) (int, error) { return 0, errPortAudio }
func (p *PortAudio) GetParams() (int, int, error)               { return 0, 0, errPortAudio }
func (p *PortAudio) Recover(err error) error                    { return errPortAudio }
func (p *PortAudio) Drain() error                               { return errPortAudio }
func (p *PortAudio) Drop() error                                { return errPortAudio }
func (p *PortAudio) State() DeviceState                         { return StateClosed }
func (p *PortAudio) Capabilities() (Capabilities, error)        { return Capabilities{}, errPortAudio }
func (p *PortAudio) Close() error                               { return nil }
