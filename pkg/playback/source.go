// ABOUTME: Contract for the timestamped sample source feeding playback
// ABOUTME: Defines Source, the optional overflow counter and the rate setter
package playback

// Source is the timestamped sample source. Read is called on the playback
// goroutine and must not block; it returns the number of samples written to
// buf, 0 if nothing is due yet. SmoothedSyncErrorMicros is positive when
// playback is behind schedule.
type Source interface {
	Read(buf []float32, nowMicros int64) int
	SmoothedSyncErrorMicros() int64
	NotifyExternalCorrection(dropped, inserted uint64)
}

// DroppedSampleCounter is implemented by sources that discard samples when
// the consumer falls behind. A rising count means the pipeline is not
// draining the source.
type DroppedSampleCounter interface {
	DroppedSamples() uint64
}

// RateSetter is implemented by strategies driven by rate-change events
type RateSetter interface {
	SetPlaybackRate(rate float64)
	PlaybackRate() float64
}
