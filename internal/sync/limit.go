// ABOUTME: Log rate limiting for warnings raised on the playback goroutine
// ABOUTME: Lets one line through per interval and counts what it held back
package sync

import "time"

// DefaultLogInterval is how often a repeating warning may be logged
const DefaultLogInterval = 5 * time.Second

// LogLimiter lets one log line through per interval. It is not safe for
// concurrent use; callers guard it with their own lock.
type LogLimiter struct {
	interval   time.Duration
	now        func() time.Time
	last       time.Time
	logged     bool
	suppressed int
}

// NewLogLimiter creates a limiter. interval <= 0 uses DefaultLogInterval.
func NewLogLimiter(interval time.Duration) *LogLimiter {
	if interval <= 0 {
		interval = DefaultLogInterval
	}
	return &LogLimiter{interval: interval, now: time.Now}
}

// Allow reports whether a line may be logged now and, if so, how many were
// held back since the last one
func (l *LogLimiter) Allow() (bool, int) {
	now := l.now()
	if l.logged && now.Sub(l.last) < l.interval {
		l.suppressed++
		return false, 0
	}
	held := l.suppressed
	l.logged, l.last, l.suppressed = true, now, 0
	return true, held
}
