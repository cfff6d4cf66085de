// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, BitDepth, Buffer types and 24-bit packing helpers
// Package audio provides fundamental audio types shared by the playback pipeline.
//
// This package defines:
//   - Format: the device-side format (sample rate, channels, bit depth)
//   - BitDepth: 16, 24 (4-byte slot), 24 packed (3 bytes) and 32-bit layouts
//   - Buffer: interleaved float samples with a server timestamp
//
// Samples inside the pipeline are float32 in [-1, 1]. They are only turned
// into integers at the device boundary (see package encode).
//
// Example:
//
//	format := audio.Format{
//	    SampleRate: 48000,
//	    Channels:   2,
//	    BitDepth:   audio.Depth24Packed,
//	}
//	frameBytes := format.FrameSize() // 6
package audio
