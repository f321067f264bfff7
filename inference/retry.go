package inference

import (
	"math/rand"
	"time"
)

// Backoff is a pure delay schedule. Delay computes how long to wait
// before re-attempting; the retry driver in Client decides whether to.
type Backoff struct {
	Base float64 // base delay in seconds
}

// DefaultBackoff returns the default schedule.
func DefaultBackoff() Backoff {
	return Backoff{Base: 1.0}
}

// Delay returns a uniformly jittered duration in [1.2, 1.5] x Base
// seconds. The schedule is flat across attempts; each attempt also
// rotates to a different model.
func (b Backoff) Delay(attempt int) time.Duration {
	_ = attempt
	base := b.Base
	if base <= 0 {
		base = 1.0
	}
	jittered := base * (1.2 + 0.3*rand.Float64())
	return time.Duration(jittered * float64(time.Second))
}
