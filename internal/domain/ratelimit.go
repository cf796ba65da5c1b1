package domain

import "time"

// RateLimitCooldown is how long a client must stay quiet before its
// attempt counter is forgotten.
const RateLimitCooldown = 30 * time.Minute

// RetryDelays is the exponential backoff schedule for room creation,
// indexed by attempt count and clamped to the last entry.
var RetryDelays = []int64{0, 10, 30, 60, 180, 300}

// RetryDelayFor returns the required wait in seconds before the attempt
// numbered count is allowed.
func RetryDelayFor(count int) int64 {
	if count >= len(RetryDelays) {
		return RetryDelays[len(RetryDelays)-1]
	}
	if count < 0 {
		return RetryDelays[0]
	}
	return RetryDelays[count]
}

// RateLimitEntry tracks room-creation attempts for one client IP. Times
// are Unix seconds.
type RateLimitEntry struct {
	Count       int   `json:"count"`
	LastAttempt int64 `json:"last_attempt"`
}

// Stale reports whether the entry has aged past the inactivity cooldown.
func (e *RateLimitEntry) Stale(now time.Time) bool {
	return now.Unix()-e.LastAttempt > int64(RateLimitCooldown/time.Second)
}
