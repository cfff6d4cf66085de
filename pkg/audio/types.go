// ABOUTME: Audio type definitions
// ABOUTME: Defines device formats, bit depths and timestamped float buffers
package audio

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// 16-bit audio range constants
	Max16Bit = 32767  // 2^15 - 1
	Min16Bit = -32768 // -2^15

	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23

	// 32-bit full scale
	Max32Bit = 2147483647 // 2^31 - 1
)

// ErrInvalidFormat is returned by Format.Validate
var ErrInvalidFormat = errors.New("invalid audio format")

// BitDepth selects the device sample layout
type BitDepth int

const (
	// Depth16 is signed 16-bit little-endian
	Depth16 BitDepth = iota + 1
	// Depth24 is signed 24-bit little-endian in a 4-byte slot (upper byte zero)
	Depth24
	// Depth24Packed is signed 24-bit little-endian in 3 bytes
	Depth24Packed
	// Depth32 is signed 32-bit little-endian
	Depth32
)

// BytesPerSample returns the size of one sample on the wire
func (d BitDepth) BytesPerSample() int {
	switch d {
	case Depth16:
		return 2
	case Depth24Packed:
		return 3
	case Depth24, Depth32:
		return 4
	default:
		return 0
	}
}

// Bits returns the number of significant bits
func (d BitDepth) Bits() int {
	switch d {
	case Depth16:
		return 16
	case Depth24, Depth24Packed:
		return 24
	case Depth32:
		return 32
	default:
		return 0
	}
}

// Valid reports whether d is a known depth
func (d BitDepth) Valid() bool {
	return d >= Depth16 && d <= Depth32
}

func (d BitDepth) String() string {
	switch d {
	case Depth16:
		return "S16_LE"
	case Depth24:
		return "S24_LE"
	case Depth24Packed:
		return "S24_3LE"
	case Depth32:
		return "S32_LE"
	default:
		return fmt.Sprintf("BitDepth(%d)", int(d))
	}
}

// ParseBitDepth accepts "16", "24", "24packed" (or "24_3"), "32" and the
// ALSA format names returned by String.
func ParseBitDepth(s string) (BitDepth, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "16", "s16", "s16_le":
		return Depth16, nil
	case "24", "s24", "s24_le":
		return Depth24, nil
	case "24packed", "24_3", "s24_3le":
		return Depth24Packed, nil
	case "32", "s32", "s32_le":
		return Depth32, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth: %q (supported: 16, 24, 24packed, 32)", s)
	}
}

// Format describes the device-side audio format
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   BitDepth
}

// FrameSize returns bytes per interleaved frame
func (f Format) FrameSize() int {
	return f.Channels * f.BitDepth.BytesPerSample()
}

// Validate checks the format is usable by the pipeline
func (f Format) Validate() error {
	if f.Channels < 1 {
		return fmt.Errorf("%w: channels must be >= 1, got %d", ErrInvalidFormat, f.Channels)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be > 0, got %d", ErrInvalidFormat, f.SampleRate)
	}
	if !f.BitDepth.Valid() {
		return fmt.Errorf("%w: unknown bit depth %d", ErrInvalidFormat, int(f.BitDepth))
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%s", f.SampleRate, f.Channels, f.BitDepth)
}

// Buffer is a chunk of interleaved float samples in [-1, 1] stamped with the
// server time of its first frame.
type Buffer struct {
	Timestamp int64     // Server timestamp (microseconds)
	PlayAt    time.Time // Local play time
	Samples   []float32
	Channels  int
}

// Frames returns the number of whole frames in the buffer
func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}
