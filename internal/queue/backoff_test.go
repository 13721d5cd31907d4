package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayGrowsExponentially(t *testing.T) {
	base := 30 * time.Second

	for attempt := int32(0); attempt < 6; attempt++ {
		expected := base << attempt
		for i := 0; i < 50; i++ {
			delay := backoffDelay(base, attempt)
			assert.GreaterOrEqual(t, delay, time.Duration(float64(expected)*0.8)-time.Millisecond, "attempt %d", attempt)
			assert.LessOrEqual(t, delay, time.Duration(float64(expected)*1.2)+time.Millisecond, "attempt %d", attempt)
		}
	}
}

func TestBackoffDelayCappedWithJitterBand(t *testing.T) {
	var above, below int
	for i := 0; i < 200; i++ {
		delay := backoffDelay(30*time.Second, 30)
		assert.GreaterOrEqual(t, delay, time.Duration(float64(maxBackoff)*0.8)-time.Millisecond)
		assert.LessOrEqual(t, delay, time.Duration(float64(maxBackoff)*1.2)+time.Millisecond)
		if delay > maxBackoff {
			above++
		}
		if delay < maxBackoff {
			below++
		}
	}

	// Jobs parked at the ceiling must still spread out on both sides of
	// it, otherwise every long-failing invoice retries in lockstep.
	assert.Positive(t, above)
	assert.Positive(t, below)
}

func TestBackoffDelayFloor(t *testing.T) {
	for i := 0; i < 100; i++ {
		assert.GreaterOrEqual(t, backoffDelay(time.Millisecond, 0), minBackoff)
	}
}

func TestBackoffDelayDefaultBase(t *testing.T) {
	delay := backoffDelay(0, 0)
	assert.GreaterOrEqual(t, delay, time.Duration(float64(defaultBackoffBase)*0.8)-time.Millisecond)
	assert.LessOrEqual(t, delay, time.Duration(float64(defaultBackoffBase)*1.2)+time.Millisecond)
}
