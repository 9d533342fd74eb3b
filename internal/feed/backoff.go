package feed

import (
	"math/rand"
	"time"
)

// Backoff computes reconnect delays with full jitter: the wait for attempt n
// is drawn uniformly from [0, min(Cap, Base*Factor^(n-1))]. Stale ticks are
// worse than missing ticks, so the defaults reconnect aggressively.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Factor float64
}

// DefaultBackoff provides the standard reconnect policy.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   time.Second,
		Cap:    30 * time.Second,
		Factor: 2.0,
	}
}

// Next returns the delay before the given reconnect attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	cap := b.Cap
	if cap <= 0 {
		cap = 30 * time.Second
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	ceiling := base
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(ceiling) * factor)
		if next > cap || next < ceiling {
			ceiling = cap
			break
		}
		ceiling = next
	}
	if ceiling > cap {
		ceiling = cap
	}
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}
