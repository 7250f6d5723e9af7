// ABOUTME: Exponential backoff for reconnect attempts.
// ABOUTME: 1s doubling to a 60s ceiling, reset to 1s after any successful connect.

package daemon

import "time"

const (
	backoffBase = time.Second
	backoffCap  = 60 * time.Second
)

// backoff yields min(60s, 2^(n-1)s) for the n-th consecutive failure.
type backoff struct {
	attempt int
}

// next returns the delay before the next reconnect attempt.
func (b *backoff) next() time.Duration {
	b.attempt++
	// 1<<6 seconds already exceeds the cap; avoid shifting further.
	if b.attempt > 7 {
		return backoffCap
	}
	d := backoffBase << (b.attempt - 1)
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// reset returns the schedule to 1s after a successful connect.
func (b *backoff) reset() {
	b.attempt = 0
}
