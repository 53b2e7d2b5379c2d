package utils

import "time"

// Due reports whether interval has elapsed since last. Components use
// it to gate opportunistic maintenance passes (cache cleanup, sample
// pruning) without running a timer of their own.
func Due(last time.Time, interval time.Duration, now time.Time) bool {

	if last.IsZero() {
		return true
	}

	return now.Sub(last) >= interval
}
