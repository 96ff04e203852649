// Package ratelimit answers sliding-window questions over event timestamps.
package ratelimit

import (
	"sort"
	"time"

	"saledrop-pipeline/internal/config"
)

// Limiter allows at most MaxCount events inside any Window
type Limiter struct {
	MaxCount int
	Window   time.Duration
}

// New creates a limiter from configuration
func New(cfg config.RateLimitConfig) Limiter {
	return Limiter{MaxCount: cfg.MaxCount, Window: cfg.Window}
}

// WouldViolate reports whether adding candidate to existing puts more than
// MaxCount events inside a span strictly shorter than Window
func (l Limiter) WouldViolate(existing []time.Time, candidate time.Time) bool {
	return WouldViolate(existing, candidate, l.MaxCount, l.Window)
}

// Violated reports whether existing already exceeds the limit
func (l Limiter) Violated(existing []time.Time) bool {
	return dense(sorted(existing), l.MaxCount+1, l.Window)
}

// AtLimit reports whether existing already holds MaxCount events inside a
// span shorter than Window, so one more event near them would violate
func (l Limiter) AtLimit(existing []time.Time) bool {
	return dense(sorted(existing), l.MaxCount, l.Window)
}

// WouldViolate inserts candidate into existing and scans every run of
// maxCount+1 consecutive events for a span strictly less than window
func WouldViolate(existing []time.Time, candidate time.Time, maxCount int, window time.Duration) bool {
	all := make([]time.Time, 0, len(existing)+1)
	all = append(all, existing...)
	all = append(all, candidate)
	return dense(sorted(all), maxCount+1, window)
}

func sorted(ts []time.Time) []time.Time {
	out := make([]time.Time, len(ts))
	copy(out, ts)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// dense reports whether k consecutive sorted events span less than window
func dense(ts []time.Time, k int, window time.Duration) bool {
	if k < 1 {
		k = 1
	}
	for i := 0; i+k-1 < len(ts); i++ {
		if ts[i+k-1].Sub(ts[i]) < window {
			return true
		}
	}
	return false
}
