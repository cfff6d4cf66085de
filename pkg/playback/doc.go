// ABOUTME: Real-time playback package
// ABOUTME: Bridges a timestamped source to an output sink with sync error correction
// Package playback drives a timestamped sample source into an output.Sink.
//
// A CorrectionStrategy turns the source into a fixed-demand pull interface
// that always fills the requested buffer, steering playback toward zero sync
// error. Two strategies exist:
//
//   - "dropinsert" (SyncCorrector): averages two input frames into one, or
//     inserts an interpolated frame, at an interval that shrinks as the error
//     grows.
//   - "rate" (RateCorrector): plays the source through a resample.Resampler
//     whose rate is set from outside with SetPlaybackRate.
//
// Both report the correction actually applied back to the source through
// NotifyExternalCorrection.
//
// Pipeline runs the playback goroutine: strategy read, optional sample rate
// conversion, PCM encoding and a blocking sink write.
//
// Example:
//
//	strategy, _ := playback.NewStrategy("dropinsert", src, 2, playback.DefaultCorrectionPolicy(), 0)
//	p, _ := playback.NewPipeline(playback.PipelineConfig{Source: src, Sink: sink, Strategy: strategy})
//	go p.Run(ctx)
//	...
//	err := p.Stop(playback.StopDrain, 2*time.Second)
package playback
