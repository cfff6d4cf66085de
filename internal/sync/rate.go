// ABOUTME: Proportional playback rate controller
// ABOUTME: Maps smoothed sync error to a rate for the resampling correction strategy
package sync

import (
	"math"

	"github.com/Sendspin/sendspin-playback/pkg/audio/resample"
)

const (
	// DefaultRateGain is the rate change per microsecond of error (50ms -> 0.5%)
	DefaultRateGain = 1e-7

	// DefaultRateDeadband is the error below which the rate returns to 1.0
	DefaultRateDeadband = 2000

	// rateSmoothing limits how fast consecutive rates may move
	rateSmoothing = 0.25
)

// RateController turns sync error into a playback rate. It is used from a
// single control goroutine.
type RateController struct {
	Gain           float64
	DeadbandMicros int64

	rate float64
}

// NewRateController creates a controller with the default gain and deadband
func NewRateController() *RateController {
	return &RateController{
		Gain:           DefaultRateGain,
		DeadbandMicros: DefaultRateDeadband,
		rate:           1.0,
	}
}

// Update returns the next rate for errMicros. Behind schedule (positive error)
// plays faster.
func (c *RateController) Update(errMicros int64) float64 {
	target := 1.0
	if abs := int64(math.Abs(float64(errMicros))); abs >= c.DeadbandMicros {
		target = 1.0 + float64(errMicros)*c.Gain
	}
	target = resample.ClampRate(target)

	if c.rate == 0 {
		c.rate = 1.0
	}
	c.rate = resample.ClampRate(c.rate + rateSmoothing*(target-c.rate))
	return c.rate
}

// Rate returns the last computed rate
func (c *RateController) Rate() float64 {
	if c.rate == 0 {
		return 1.0
	}
	return c.rate
}
