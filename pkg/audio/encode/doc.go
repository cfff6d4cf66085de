// ABOUTME: Audio encoder package converting float samples to device PCM
// ABOUTME: Provides the Encoder interface and the dithering PCM implementation
// Package encode converts pipeline samples to the integer layout a device needs.
//
// Supports: 16-bit (TPDF dithered), 24-bit in a 4-byte slot, 24-bit packed, 32-bit.
// All outputs are little-endian.
//
// The 16-bit path takes an explicit random source so tests can seed it:
//
//	rng := rand.New(rand.NewPCG(1, 2))
//	encoder, err := encode.NewPCM(format, rng)
//	n, err := encoder.EncodeInto(buf, samples)
package encode
