// ABOUTME: Audio resampling package for drift correction and rate conversion
// ABOUTME: Provides the variable-rate Resampler and the fixed-ratio Converter
// Package resample provides two pull-based rate changers.
//
// Resampler plays a source at a rate in [0.96, 1.04] using a fractional
// cursor and linear interpolation. It is the smooth alternative to dropping
// and inserting frames. At a rate of exactly 1.0 it copies samples through
// untouched.
//
// Converter wraps a high-quality polyphase resampler for the case where the
// device runs at a different fixed rate than the stream.
//
// Example:
//
//	r := resample.New(source, 2, resample.DefaultBufferFrames)
//	r.SetPlaybackRate(1.002)
//	r.Read(out) // always fills out
package resample
