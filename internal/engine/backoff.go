package engine

import "time"

// Backoff defaults.
const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 5 * time.Minute
	DefaultMaxAttempts = 8
)

// BackoffDelay returns min(base * 2^attempts, max), where attempts is the
// number of failed attempts so far, including the one just made.
//
// The delay is derived from the persisted attempt count rather than kept in
// memory, so it survives restarts.
func BackoffDelay(base, max time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max < base {
		max = base
	}
	d := base
	for i := 0; i < attempts; i++ {
		if d >= max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}
