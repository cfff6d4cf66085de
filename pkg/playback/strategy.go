// ABOUTME: CorrectionStrategy abstraction over the drop/insert and rate correctors
// ABOUTME: Selects a strategy by configuration name
package playback

import (
	"fmt"
	"strings"
)

const (
	StrategyDropInsert = "dropinsert"
	StrategyRate       = "rate"
)

// CorrectionStrategy turns a Source into a fixed-demand reader. Read always
// fills out and returns len(out); it runs on the playback goroutine only.
type CorrectionStrategy interface {
	Name() string
	Read(out []float32, nowMicros int64) int
	Reset()
	Session() *Session
	Diagnostics() *Diagnostics
}

// Strategies lists the names accepted by NewStrategy
func Strategies() []string {
	return []string{StrategyDropInsert, StrategyRate}
}

// NewStrategy creates the named strategy. maxReadFrames sizes working buffers.
func NewStrategy(name string, src Source, channels int, policy CorrectionPolicy, maxReadFrames int) (CorrectionStrategy, error) {
	if src == nil {
		return nil, fmt.Errorf("no source for %s strategy", name)
	}
	switch strings.ToLower(name) {
	case StrategyDropInsert, "":
		c, err := NewSyncCorrector(src, channels, policy, maxReadFrames)
		if err != nil {
			return nil, err
		}
		return c, nil
	case StrategyRate:
		c, err := NewRateCorrector(src, channels, 0)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown correction strategy %q (available: %s)", name, strings.Join(Strategies(), ", "))
	}
}
