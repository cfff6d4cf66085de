// ABOUTME: Fixed-ratio sample rate converter for device rate mismatches
// ABOUTME: Wraps go-audio-resampler float32 engines, one per channel, behind a pull Reader
package resample

import (
	"fmt"
	"log"
	"time"

	resampler "github.com/tphakala/go-audio-resampler"
)

// converterChunkFrames is how many input frames are pulled per engine call
const converterChunkFrames = 256

// maxEmptyPulls bounds how many engine calls may return nothing before the
// converter gives up on the current Read and pads silence
const maxEmptyPulls = 64

// failureLogInterval limits repeated engine failure logs
const failureLogInterval = 5 * time.Second

type engine interface {
	Process(input []float32) ([]float32, error)
	Flush() ([]float32, error)
	Reset()
}

// Converter converts a stream from one fixed sample rate to another. It is
// used when the device grants a rate different from the stream rate.
type Converter struct {
	src        Reader
	channels   int
	inputRate  int
	outputRate int

	engines []engine
	input   []float32   // interleaved chunk from src
	planar  [][]float32 // per-channel input scratch
	pending [][]float32 // per-channel converted samples not yet emitted
	results [][]float32 // per-channel output of the current chunk

	failures    uint64
	lastFailLog time.Time
}

// NewConverter creates a converter from inputRate to outputRate
func NewConverter(src Reader, inputRate, outputRate, channels int) (*Converter, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: %d -> %d", inputRate, outputRate)
	}
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}

	c := &Converter{
		src:        src,
		channels:   channels,
		inputRate:  inputRate,
		outputRate: outputRate,
		input:      make([]float32, converterChunkFrames*channels),
		planar:     make([][]float32, channels),
		pending:    make([][]float32, channels),
		results:    make([][]float32, channels),
	}

	for ch := 0; ch < channels; ch++ {
		e, err := resampler.NewEngineFloat32(float64(inputRate), float64(outputRate), resampler.QualityHigh)
		if err != nil {
			return nil, fmt.Errorf("failed to create resampler for channel %d: %w", ch, err)
		}
		c.engines = append(c.engines, e)
		c.planar[ch] = make([]float32, converterChunkFrames)
		c.pending[ch] = make([]float32, 0, converterChunkFrames*2)
	}

	return c, nil
}

// InputRate returns the source sample rate
func (c *Converter) InputRate() int {
	return c.inputRate
}

// OutputRate returns the produced sample rate
func (c *Converter) OutputRate() int {
	return c.outputRate
}

// Read fills out with converted audio and returns len(out). The engines add
// filter delay at stream start, which is emitted as silence.
func (c *Converter) Read(out []float32) int {
	ch := c.channels
	want := len(out) / ch

	empty := 0
	for c.available() < want && empty < maxEmptyPulls {
		if !c.pull() {
			empty++
		}
	}

	n := c.available()
	if n > want {
		n = want
	}
	for f := 0; f < n; f++ {
		for k := 0; k < ch; k++ {
			out[f*ch+k] = c.pending[k][f]
		}
	}
	for k := 0; k < ch; k++ {
		rest := copy(c.pending[k], c.pending[k][n:])
		c.pending[k] = c.pending[k][:rest]
	}

	clear(out[n*ch:])
	return len(out)
}

// available returns the number of whole frames ready on every channel
func (c *Converter) available() int {
	n := len(c.pending[0])
	for _, p := range c.pending[1:] {
		if len(p) < n {
			n = len(p)
		}
	}
	return n
}

// pull converts one chunk and reports whether any output was produced
func (c *Converter) pull() bool {
	ch := c.channels
	got := c.src.Read(c.input) / ch
	if got == 0 {
		return false
	}

	for k := 0; k < ch; k++ {
		p := c.planar[k][:got]
		for f := 0; f < got; f++ {
			p[f] = c.input[f*ch+k]
		}
		converted, err := c.engines[k].Process(p)
		if err != nil {
			return c.resync(got, k, err) > 0
		}
		c.results[k] = converted
	}

	produced := false
	for k := 0; k < ch; k++ {
		if len(c.results[k]) > 0 {
			produced = true
		}
		c.pending[k] = append(c.pending[k], c.results[k]...)
		c.results[k] = nil
	}
	return produced
}

// resync restarts every engine after one fails so the channels stay frame
// aligned. The failed chunk is replaced by silence of the same duration,
// and the number of padded frames is returned.
func (c *Converter) resync(frames, channel int, err error) int {
	c.failures++
	now := time.Now()
	if c.failures == 1 || now.Sub(c.lastFailLog) >= failureLogInterval {
		c.lastFailLog = now
		log.Printf("Warning: resampler failed on channel %d (%d failures), restarting: %v", channel, c.failures, err)
	}

	for _, e := range c.engines {
		e.Reset()
	}
	n := c.available()
	pad := frames * c.outputRate / c.inputRate
	for k := range c.pending {
		c.pending[k] = c.pending[k][:n]
		for i := 0; i < pad; i++ {
			c.pending[k] = append(c.pending[k], 0)
		}
		c.results[k] = nil
	}
	return pad
}

// Close flushes the engines and drops anything still pending
func (c *Converter) Close() error {
	for _, e := range c.engines {
		if _, err := e.Flush(); err != nil {
			return fmt.Errorf("failed to flush resampler: %w", err)
		}
	}
	for k := range c.pending {
		c.pending[k] = c.pending[k][:0]
	}
	return nil
}
