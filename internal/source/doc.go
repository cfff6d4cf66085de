// ABOUTME: Timestamped reference source for the playback pipeline
// ABOUTME: Schedules decoded chunks against a shared clock and reports sync error
// Package source supplies the pipeline with timestamped audio.
//
// Scheduled holds chunks stamped with the time their first frame should be
// heard. Its Read hands samples to the playback goroutine and measures how far
// playback is from that schedule, taking the calibrated output latency into
// account:
//
//	error = (now + outputLatency) - (chunk time + staticDelay)
//
// The error is smoothed by an internal/sync ErrorTracker and corrections the
// pipeline applies are fed back through NotifyExternalCorrection.
//
// Decoders turn files (MP3, FLAC, WAV) or a test tone into float samples and
// Feed paces them into a Scheduled source the way a network stream would
// arrive.
package source
