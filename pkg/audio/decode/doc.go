// ABOUTME: Audio decoder package for device PCM layouts
// ABOUTME: Inverse of package encode, used for verification and capture
// Package decode turns device PCM bytes back into samples.
//
// Supports the same layouts as package encode: 16-bit, 24-bit padded,
// 24-bit packed and 32-bit, little-endian. Decoding applies no dither.
//
// Example:
//
//	decoder, err := decode.NewPCM(format)
//	samples, err := decoder.Decode(deviceBytes)
package decode
