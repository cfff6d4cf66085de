// ABOUTME: PCM sample format converter
// ABOUTME: Quantizes float samples to 16/24/32-bit little-endian device layouts with TPDF dither
package encode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/Sendspin/sendspin-playback/pkg/audio"
)

// ErrShortBuffer is returned by EncodeInto when dst cannot hold the output
var ErrShortBuffer = errors.New("destination buffer too small")

// PCMEncoder converts normalized float samples to device PCM bytes.
// It is not safe for concurrent use; the dither source is owned by the encoder.
type PCMEncoder struct {
	bitDepth audio.BitDepth
	rng      *rand.Rand
}

// NewPCM creates a new PCM encoder. rng drives the 16-bit dither; pass a
// seeded generator for reproducible output. A nil rng gets a private,
// time-seeded generator.
func NewPCM(format audio.Format, rng *rand.Rand) (*PCMEncoder, error) {
	if !format.BitDepth.Valid() {
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24, 24packed, 32)", int(format.BitDepth))
	}

	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}

	return &PCMEncoder{
		bitDepth: format.BitDepth,
		rng:      rng,
	}, nil
}

// BitDepth returns the configured output layout
func (e *PCMEncoder) BitDepth() audio.BitDepth {
	return e.bitDepth
}

// EncodedSize returns the byte length for n samples
func (e *PCMEncoder) EncodedSize(n int) int {
	return n * e.bitDepth.BytesPerSample()
}

// Encode converts float samples to PCM bytes in a freshly allocated slice
func (e *PCMEncoder) Encode(samples []float32) ([]byte, error) {
	out := make([]byte, e.EncodedSize(len(samples)))
	if _, err := e.EncodeInto(out, samples); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeInto writes the PCM bytes for samples into dst and returns the number
// of bytes written. It does not allocate.
func (e *PCMEncoder) EncodeInto(dst []byte, samples []float32) (int, error) {
	size := e.EncodedSize(len(samples))
	if len(dst) < size {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, size, len(dst))
	}

	switch e.bitDepth {
	case audio.Depth16:
		for i, s := range samples {
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(e.quantize16(s)))
		}
	case audio.Depth24:
		for i, s := range samples {
			b := audio.SampleTo24Bit(quantize24(s))
			o := i * 4
			dst[o] = b[0]
			dst[o+1] = b[1]
			dst[o+2] = b[2]
			dst[o+3] = 0
		}
	case audio.Depth24Packed:
		for i, s := range samples {
			b := audio.SampleTo24Bit(quantize24(s))
			o := i * 3
			dst[o] = b[0]
			dst[o+1] = b[1]
			dst[o+2] = b[2]
		}
	case audio.Depth32:
		for i, s := range samples {
			binary.LittleEndian.PutUint32(dst[i*4:], uint32(quantize32(s)))
		}
	}

	return size, nil
}

// Close releases resources
func (e *PCMEncoder) Close() error {
	return nil
}

// quantize16 adds triangular dither of +-1 LSB peak before rounding.
// Digital silence stays silent.
func (e *PCMEncoder) quantize16(s float32) int16 {
	if s == 0 {
		return 0
	}
	dither := ((e.rng.Float64() - 0.5) + (e.rng.Float64() - 0.5)) / 32768.0
	v := math.Round((sanitize(s) + dither) * audio.Max16Bit)
	return int16(clamp(v, audio.Min16Bit, audio.Max16Bit))
}

func quantize24(s float32) int32 {
	v := math.Round(sanitize(s) * audio.Max24Bit)
	return int32(clamp(v, audio.Min24Bit, audio.Max24Bit))
}

// quantize32 stays in float64 so full scale does not round past the int32 limit
func quantize32(s float32) int32 {
	v := math.Round(sanitize(s) * audio.Max32Bit)
	return int32(clamp(v, math.MinInt32, math.MaxInt32))
}

func sanitize(s float32) float64 {
	if s != s {
		return 0
	}
	return float64(s)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
