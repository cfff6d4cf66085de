// ABOUTME: PCM audio decoder
// ABOUTME: Decodes 16/24/32-bit little-endian device PCM back to integers or floats
package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/Sendspin/sendspin-playback/pkg/audio"
)

// PCMDecoder decodes device-layout PCM audio
type PCMDecoder struct {
	bitDepth audio.BitDepth
}

// NewPCM creates a new PCM decoder
func NewPCM(format audio.Format) (*PCMDecoder, error) {
	if !format.BitDepth.Valid() {
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24, 24packed, 32)", int(format.BitDepth))
	}

	return &PCMDecoder{
		bitDepth: format.BitDepth,
	}, nil
}

// DecodeInts returns the raw integer sample values. A trailing partial sample
// is an error.
func (d *PCMDecoder) DecodeInts(data []byte) ([]int32, error) {
	width := d.bitDepth.BytesPerSample()
	if len(data)%width != 0 {
		return nil, fmt.Errorf("data length %d is not a multiple of %d bytes", len(data), width)
	}

	numSamples := len(data) / width
	samples := make([]int32, numSamples)
	for i := 0; i < numSamples; i++ {
		o := i * width
		switch d.bitDepth {
		case audio.Depth16:
			samples[i] = int32(int16(binary.LittleEndian.Uint16(data[o:])))
		case audio.Depth24, audio.Depth24Packed:
			samples[i] = audio.SampleFrom24Bit([3]byte{data[o], data[o+1], data[o+2]})
		case audio.Depth32:
			samples[i] = int32(binary.LittleEndian.Uint32(data[o:]))
		}
	}
	return samples, nil
}

// Decode converts PCM bytes to normalized float samples
func (d *PCMDecoder) Decode(data []byte) ([]float32, error) {
	ints, err := d.DecodeInts(data)
	if err != nil {
		return nil, err
	}

	scale := d.fullScale()
	samples := make([]float32, len(ints))
	for i, v := range ints {
		samples[i] = float32(float64(v) / scale)
	}
	return samples, nil
}

// Close releases resources
func (d *PCMDecoder) Close() error {
	return nil
}

func (d *PCMDecoder) fullScale() float64 {
	switch d.bitDepth {
	case audio.Depth16:
		return audio.Max16Bit
	case audio.Depth32:
		return audio.Max32Bit
	default:
		return audio.Max24Bit
	}
}
