//go:build linux

// ABOUTME: Native ALSA PCM device using direct kernel ioctls
// ABOUTME: Blocking interleaved writes, xrun/suspend recovery and capability probing for hw:C,D devices
package output

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/Sendspin/sendspin-playback/pkg/audio"
	"github.com/gen2brain/alsa"
)

const (
	alsaPeriods         = 4
	alsaMinPeriodFrames = 32

	// playback is the zero flag value
	alsaPlayback alsa.PcmFlag = 0
)

// ALSA output implementation using gen2brain/alsa
type ALSA struct {
	name       string
	pcm        *alsa.PCM
	params     Params
	frameSize  int
	actualRate int
	caps       *Capabilities
	state      DeviceState
}

// NewALSA creates a new ALSA device
func NewALSA() *ALSA {
	return &ALSA{}
}

// ParseALSAName accepts "hw:C,D", "C,D" or "default" and returns the hw name
func ParseALSAName(name string) (string, uint, uint, error) {
	if name == "" || name == "default" {
		return "hw:0,0", 0, 0, nil
	}
	parts := strings.Split(strings.TrimPrefix(name, "hw:"), ",")
	if len(parts) != 2 {
		return "", 0, 0, fmt.Errorf("%w: invalid ALSA name %q (expected hw:card,device)", ErrDeviceNotFound, name)
	}
	card, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: invalid card in %q", ErrDeviceNotFound, name)
	}
	dev, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: invalid device in %q", ErrDeviceNotFound, name)
	}
	return fmt.Sprintf("hw:%d,%d", card, dev), uint(card), uint(dev), nil
}

// Open checks that the playback node exists. The PCM itself is opened by
// SetParams because tinyalsa applies hardware parameters at open time.
func (a *ALSA) Open(name string) error {
	hw, card, dev, err := ParseALSAName(name)
	if err != nil {
		return err
	}
	node := fmt.Sprintf("/dev/snd/pcmC%dD%dp", card, dev)
	if _, err := os.Stat(node); err != nil {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, node)
	}
	a.name = hw
	a.caps = nil
	a.state = StateOpen
	return nil
}

func pcmFormat(d audio.BitDepth) (alsa.PcmFormat, error) {
	switch d {
	case audio.Depth16:
		return alsa.PCM_FORMAT_S16_LE, nil
	case audio.Depth24:
		return alsa.PCM_FORMAT_S24_LE, nil
	case audio.Depth24Packed:
		return alsa.PCM_FORMAT_S24_3LE, nil
	case audio.Depth32:
		return alsa.PCM_FORMAT_S32_LE, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, d)
	}
}

func (a *ALSA) config(p Params, rate int) (*alsa.Config, error) {
	format, err := pcmFormat(p.Format.BitDepth)
	if err != nil {
		return nil, err
	}
	period := p.PeriodFrames
	if period <= 0 {
		latencyFrames := rate * p.LatencyMicros / 1_000_000
		period = max(latencyFrames/alsaPeriods, alsaMinPeriodFrames)
	}
	return &alsa.Config{
		Channels:       uint32(p.Format.Channels),
		Rate:           uint32(rate),
		PeriodSize:     uint32(period),
		PeriodCount:    alsaPeriods,
		Format:         format,
		StartThreshold: uint32(period),
		AvailMin:       uint32(period),
	}, nil
}

func (a *ALSA) flags(p Params) alsa.PcmFlag {
	flags := alsaPlayback | alsa.PCM_NORESTART
	if p.Access == AccessMMapInterleaved {
		flags |= alsa.PCM_MMAP
	}
	return flags
}

// SetParams opens the PCM with the requested configuration. With
// SoftResample set, a refused rate falls back to the nearest probed rate.
func (a *ALSA) SetParams(p Params) error {
	if a.state == StateClosed {
		return ErrNotOpen
	}
	a.closePCM()

	rate := p.Format.SampleRate
	pcm, err := a.openPCM(p, rate)
	if err != nil && p.SoftResample && errors.Is(err, ErrUnsupportedRate) {
		caps, perr := a.Capabilities()
		if perr == nil {
			if nearest := nearestRate(caps.candidateRates(), rate); nearest > 0 {
				log.Printf("Warning: %s refused %dHz, falling back to %dHz", a.name, rate, nearest)
				rate = nearest
				pcm, err = a.openPCM(p, rate)
			}
		}
	}
	if err != nil {
		return err
	}

	a.pcm = pcm
	a.params = p
	a.actualRate = int(pcm.Rate())
	a.frameSize = int(pcm.FrameSize())
	a.state = StateSetup
	if err := pcm.Prepare(); err != nil {
		a.closePCM()
		return fmt.Errorf("failed to prepare %s: %w", a.name, err)
	}
	a.state = StatePrepared
	return nil
}

func (a *ALSA) openPCM(p Params, rate int) (*alsa.PCM, error) {
	cfg, err := a.config(p, rate)
	if err != nil {
		return nil, err
	}
	pcm, err := alsa.PcmOpenByName(a.name, a.flags(p), cfg)
	if err != nil {
		return nil, classifyOpenErr(a.name, err)
	}
	if int(pcm.Rate()) != rate {
		pcm.Close()
		return nil, fmt.Errorf("%w: %s runs at %dHz, not %dHz", ErrUnsupportedRate, a.name, pcm.Rate(), rate)
	}
	return pcm, nil
}

func classifyOpenErr(name string, err error) error {
	switch {
	case errors.Is(err, syscall.EBUSY):
		return fmt.Errorf("%w: %s: %v", ErrDeviceBusy, name, err)
	case errors.Is(err, syscall.ENOENT), errors.Is(err, syscall.ENODEV):
		return fmt.Errorf("%w: %s: %v", ErrDeviceNotFound, name, err)
	case errors.Is(err, syscall.EINVAL):
		return fmt.Errorf("%w: %s refused parameters: %v", ErrUnsupportedRate, name, err)
	default:
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
}

func classifyIOErr(err error) error {
	switch {
	case errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%w: %v", ErrXRun, err)
	case errors.Is(err, syscall.ESTRPIPE):
		return fmt.Errorf("%w: %v", ErrSuspended, err)
	case errors.Is(err, syscall.ENODEV):
		return fmt.Errorf("%w: %v", ErrDeviceGone, err)
	default:
		return err
	}
}

// ActualRate returns the rate the PCM was opened at
func (a *ALSA) ActualRate() int {
	return a.actualRate
}

// Write performs a blocking interleaved write
func (a *ALSA) Write(data []byte, frames int) (int, error) {
	if a.pcm == nil {
		return 0, ErrNotOpen
	}
	n, err := a.pcm.WriteI(data[:frames*a.frameSize], uint32(frames))
	if err != nil {
		ioErr := classifyIOErr(err)
		switch {
		case errors.Is(ioErr, ErrXRun):
			a.state = StateXRun
		case errors.Is(ioErr, ErrSuspended):
			a.state = StateSuspended
		case errors.Is(ioErr, ErrDeviceGone):
			a.state = StateDisconnected
		}
		return n, ioErr
	}
	a.state = StateRunning
	return n, nil
}

// GetParams returns the buffer and period sizes the driver refined
func (a *ALSA) GetParams() (int, int, error) {
	if a.pcm == nil {
		return 0, 0, ErrNotOpen
	}
	return int(a.pcm.BufferSize()), int(a.pcm.PeriodSize()), nil
}

// Recover prepares the stream after an xrun, resuming first after a suspend
func (a *ALSA) Recover(cause error) error {
	if a.pcm == nil {
		return ErrNotOpen
	}
	if errors.Is(cause, ErrSuspended) {
		if err := a.pcm.Resume(); err != nil {
			log.Printf("Warning: resume of %s failed, falling back to prepare: %v", a.name, err)
		}
	}
	if err := a.pcm.Prepare(); err != nil {
		return classifyIOErr(err)
	}
	a.state = StatePrepared
	return nil
}

// Drain blocks until queued frames have played
func (a *ALSA) Drain() error {
	if a.pcm == nil {
		return ErrNotOpen
	}
	a.state = StateDraining
	if err := a.pcm.Drain(); err != nil {
		return classifyIOErr(err)
	}
	return a.prepare()
}

// Drop discards queued frames
func (a *ALSA) Drop() error {
	if a.pcm == nil {
		return ErrNotOpen
	}
	if err := a.pcm.Stop(); err != nil {
		return classifyIOErr(err)
	}
	return a.prepare()
}

func (a *ALSA) prepare() error {
	if err := a.pcm.Prepare(); err != nil {
		return classifyIOErr(err)
	}
	a.state = StatePrepared
	return nil
}

// State returns the kernel's view of the stream
func (a *ALSA) State() DeviceState {
	if a.pcm == nil {
		return a.state
	}
	switch a.pcm.KernelState() {
	case alsa.PCM_STATE_OPEN:
		return StateOpen
	case alsa.PCM_STATE_SETUP:
		return StateSetup
	case alsa.PCM_STATE_PREPARED:
		return StatePrepared
	case alsa.PCM_STATE_RUNNING:
		return StateRunning
	case alsa.PCM_STATE_XRUN:
		return StateXRun
	case alsa.PCM_STATE_DRAINING:
		return StateDraining
	case alsa.PCM_STATE_PAUSED:
		return StatePaused
	case alsa.PCM_STATE_SUSPENDED:
		return StateSuspended
	case alsa.PCM_STATE_DISCONNECTED:
		return StateDisconnected
	default:
		return a.state
	}
}

// Capabilities asks the driver for its rate and channel ranges and format
// mask. The result is cached; probing needs the device to be free.
func (a *ALSA) Capabilities() (Capabilities, error) {
	if a.caps != nil {
		return *a.caps, nil
	}
	if a.name == "" {
		return Capabilities{}, ErrNotOpen
	}
	if a.pcm != nil {
		return Capabilities{}, fmt.Errorf("%w: cannot probe %s while streaming", ErrDeviceBusy, a.name)
	}

	caps, err := ProbeALSA(a.name)
	if err != nil {
		return Capabilities{}, err
	}
	a.caps = &caps
	return caps, nil
}

// ProbeALSA refines the full hardware parameter space of a hw:C,D playback
// device without configuring it.
func ProbeALSA(name string) (Capabilities, error) {
	hw, card, dev, err := ParseALSAName(name)
	if err != nil {
		return Capabilities{}, err
	}
	params, err := alsa.PcmParamsGet(card, dev, alsaPlayback)
	if err != nil {
		return Capabilities{}, classifyOpenErr(hw, err)
	}
	defer params.Free()
	return capsFromParams(params)
}

// paramSpace is the part of alsa.PcmParams the probe reads
type paramSpace interface {
	RangeMin(param alsa.PcmParam) (uint32, error)
	RangeMax(param alsa.PcmParam) (uint32, error)
	FormatIsSupported(format alsa.PcmFormat) bool
}

func capsFromParams(p paramSpace) (Capabilities, error) {
	var caps Capabilities
	for _, d := range []audio.BitDepth{audio.Depth16, audio.Depth24, audio.Depth24Packed, audio.Depth32} {
		format, _ := pcmFormat(d)
		if p.FormatIsSupported(format) {
			caps.Formats = append(caps.Formats, d)
		}
	}
	if len(caps.Formats) == 0 {
		return Capabilities{}, fmt.Errorf("%w: no supported sample format", ErrUnsupportedFormat)
	}

	minRate, maxRate, err := paramRange(p, alsa.PCM_PARAM_RATE)
	if err != nil {
		return Capabilities{}, err
	}
	minCh, maxCh, err := paramRange(p, alsa.PCM_PARAM_CHANNELS)
	if err != nil {
		return Capabilities{}, err
	}
	if minRate == 0 || maxRate < minRate || minCh == 0 || maxCh < minCh {
		return Capabilities{}, fmt.Errorf("driver reported empty ranges: rate %d-%d, channels %d-%d", minRate, maxRate, minCh, maxCh)
	}

	caps.MinRate, caps.MaxRate = int(minRate), int(maxRate)
	caps.MinChannels, caps.MaxChannels = int(minCh), int(maxCh)

	// a continuous range leaves Rates empty so SupportsRate checks the range
	if minRate != maxRate {
		return caps, nil
	}
	caps.Rates = []int{int(minRate)}
	return caps, nil
}

func paramRange(p paramSpace, param alsa.PcmParam) (uint32, uint32, error) {
	lo, err := p.RangeMin(param)
	if err != nil {
		return 0, 0, err
	}
	hi, err := p.RangeMax(param)
	if err != nil {
		return 0, 0, err
	}
	return lo, hi, nil
}

// ALSADevices lists hw:C,D names that have a playback node
func ALSADevices() ([]string, error) {
	entries, err := os.ReadDir("/dev/snd")
	if err != nil {
		return nil, fmt.Errorf("failed to read /dev/snd: %w", err)
	}
	var names []string
	for _, e := range entries {
		var card, dev int
		if _, err := fmt.Sscanf(e.Name(), "pcmC%dD%dp", &card, &dev); err == nil {
			names = append(names, fmt.Sprintf("hw:%d,%d", card, dev))
		}
	}
	return names, nil
}

// candidateRates lists the rates worth trying: the known list, or the
// standard rates inside the driver's range
func (c Capabilities) candidateRates() []int {
	if len(c.Rates) > 0 {
		return c.Rates
	}
	var rates []int
	for _, r := range StandardRates {
		if c.SupportsRate(r) {
			rates = append(rates, r)
		}
	}
	return rates
}

func nearestRate(rates []int, want int) int {
	best := 0
	for _, r := range rates {
		if best == 0 || abs(r-want) < abs(best-want) {
			best = r
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (a *ALSA) closePCM() {
	if a.pcm != nil {
		if err := a.pcm.Close(); err != nil {
			log.Printf("Warning: closing %s: %v", a.name, err)
		}
		a.pcm = nil
	}
}

// Close releases the PCM
func (a *ALSA) Close() error {
	a.closePCM()
	a.state = StateClosed
	return nil
}
