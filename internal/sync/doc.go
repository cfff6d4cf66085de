// ABOUTME: Sync error tracking package
// ABOUTME: Smooths playback position error and derives playback rates from it
// Package sync smooths the playback sync error and turns it into rate
// corrections.
//
// ErrorTracker keeps an exponentially smoothed error with outlier rejection.
// RateController maps the smoothed error to a playback rate in
// [0.96, 1.04] for the rate correction strategy.
//
// Example:
//
//	tracker := sync.NewErrorTracker(sync.DefaultSmoothing)
//	tracker.Observe(rawErrMicros, nowMicros)
//	rate := sync.NewRateController().Update(tracker.Smoothed())
package sync
