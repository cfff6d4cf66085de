//go:build !linux

// ABOUTME: ALSA stub for platforms without ALSA
// ABOUTME: Keeps the backend selectable while reporting it as unavailable
package output

import "fmt"

var errALSA = fmt.Errorf("%w: ALSA is only available on linux", ErrBackendUnavailable)

// ALSA output implementation (stub)
type ALSA struct{}

// NewALSA creates a new ALSA device
func NewALSA() *ALSA {
	return &ALSA{}
}

// ALSADevices lists hw:C,D names; always empty here
func ALSADevices() ([]string, error) { return nil, errALSA }

// ProbeALSA enumerates device capabilities; unavailable here
func ProbeALSA(name string) (Capabilities, error) { return Capabilities{}, errALSA }

func (a *ALSA) Open(name string) error                     { return errALSA }
func (a *ALSA) SetParams(p Params) error                   { return errALSA }
func (a *ALSA) Write(data []byte, frames int) (int, error) { return 0, errALSA }
func (a *ALSA) GetParams() (int, int, error)               { return 0, 0, errALSA }
func (a *ALSA) Recover(err error) error                    { return errALSA }
func (a *ALSA) Drain() error                               { return errALSA }
func (a *ALSA) Drop() error                                { return errALSA }
func (a *ALSA) State() DeviceState                         { return StateClosed }
func (a *ALSA) Capabilities() (Capabilities, error)        { return Capabilities{}, errALSA }
func (a *ALSA) Close() error                               { return nil }
