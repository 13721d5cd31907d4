package queue

import (
	"math/rand"
	"time"
)

const (
	defaultBackoffBase = 30 * time.Second
	maxBackoff         = 60 * time.Minute
	minBackoff         = time.Second
	jitterFraction     = 0.2
)

// backoffDelay computes the wait before retry number attempt:
// base doubled per attempt, capped at an hour, then perturbed by up to
// ±20% so a provider outage does not re-release every failing invoice
// at once. The jitter straddles the cap; clamping the jittered value
// back down would pile every long-failing job onto the exact ceiling.
func backoffDelay(base time.Duration, attempt int32) time.Duration {
	if base <= 0 {
		base = defaultBackoffBase
	}

	delay := base
	for i := int32(0); i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			delay = maxBackoff
			break
		}
	}

	jitter := 1 + jitterFraction*(2*rand.Float64()-1)
	delay = time.Duration(float64(delay) * jitter)

	if delay < minBackoff {
		delay = minBackoff
	}
	return delay
}
