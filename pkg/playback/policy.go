// ABOUTME: Correction tuning and per-session correction state
// ABOUTME: CorrectionPolicy maps sync error to a correction interval; Session is owned by the playback goroutine
package playback

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	DefaultDeadbandMicros    = 5000
	DefaultMinIntervalFrames = 10
	DefaultMaxIntervalFrames = 500

	// intervalScale divided by |error| gives the frames between corrections
	intervalScale = 500_000

	// maxSyncErrorMicros bounds sync error values on use
	maxSyncErrorMicros = 10_000_000
)

var ErrInvalidPolicy = errors.New("invalid correction policy")

// CorrectionPolicy tunes the drop/insert correction
type CorrectionPolicy struct {
	// DeadbandMicros is the error magnitude below which nothing is corrected
	DeadbandMicros int64

	// MinIntervalFrames and MaxIntervalFrames bound the frames between corrections
	MinIntervalFrames uint32
	MaxIntervalFrames uint32
}

// DefaultCorrectionPolicy returns a 5ms deadband and a 10..500 frame interval
func DefaultCorrectionPolicy() CorrectionPolicy {
	return CorrectionPolicy{
		DeadbandMicros:    DefaultDeadbandMicros,
		MinIntervalFrames: DefaultMinIntervalFrames,
		MaxIntervalFrames: DefaultMaxIntervalFrames,
	}
}

// Validate checks the interval bounds
func (p CorrectionPolicy) Validate() error {
	if p.DeadbandMicros < 0 {
		return fmt.Errorf("%w: negative deadband %d", ErrInvalidPolicy, p.DeadbandMicros)
	}
	if p.MinIntervalFrames < 1 {
		return fmt.Errorf("%w: min interval must be at least 1 frame", ErrInvalidPolicy)
	}
	if p.MinIntervalFrames > p.MaxIntervalFrames {
		return fmt.Errorf("%w: min interval %d > max interval %d", ErrInvalidPolicy, p.MinIntervalFrames, p.MaxIntervalFrames)
	}
	return nil
}

// Interval returns the frames between corrections for an error magnitude.
// Larger errors correct more often.
func (p CorrectionPolicy) Interval(absErrMicros int64) int {
	if absErrMicros <= 0 {
		return int(p.MaxIntervalFrames)
	}
	interval := int64(intervalScale) / absErrMicros
	return int(max(int64(p.MinIntervalFrames), min(interval, int64(p.MaxIntervalFrames))))
}

// clampSyncError keeps a possibly stale or corrupt reading in range
func clampSyncError(e int64) int64 {
	return max(-maxSyncErrorMicros, min(e, maxSyncErrorMicros))
}

// Session is the correction state for one stream. It is only touched by the
// playback goroutine.
type Session struct {
	ID uuid.UUID

	FramesSinceLastCorrection uint32
	LastOutputFrame           []float32

	// TotalDropped and TotalInserted count samples, not frames
	TotalDropped  uint64
	TotalInserted uint64
}

// NewSession creates a session for the given channel count
func NewSession(channels int) *Session {
	return &Session{
		ID:              uuid.New(),
		LastOutputFrame: make([]float32, max(channels, 1)),
	}
}

// Reset starts a fresh session after a re-anchor or restart
func (s *Session) Reset() {
	s.ID = uuid.New()
	s.FramesSinceLastCorrection = 0
	clear(s.LastOutputFrame)
	s.TotalDropped = 0
	s.TotalInserted = 0
}
