package progress

import (
	"math"
	"time"
)

// EstimateRemaining computes the time left to reach 100% from an ordered
// sequence of samples. Velocity is the mean percent delta between consecutive
// samples divided by the mean sample duration (nanosecond ticks, floored to
// one tick). Non-positive velocity, or fewer than two samples, yields zero.
func EstimateRemaining(samples []Sample) time.Duration {
	if len(samples) < 2 {
		return 0
	}

	var (
		sumPercent float64
		sumTicks   float64
	)
	pairs := len(samples) - 1
	for i := 1; i < len(samples); i++ {
		sumPercent += samples[i].Percent - samples[i-1].Percent
		sumTicks += float64(samples[i].Duration)
	}
	avgPercent := sumPercent / float64(pairs)
	avgTicks := sumTicks / float64(pairs)
	if avgTicks < 1 {
		avgTicks = 1
	}

	velocity := avgPercent / avgTicks
	if velocity <= 0 || math.IsNaN(velocity) || math.IsInf(velocity, 0) {
		return 0
	}

	remainingTicks := (100 - samples[len(samples)-1].Percent) / velocity
	seconds := math.Floor(remainingTicks / float64(time.Second))
	if seconds <= 0 || math.IsNaN(seconds) {
		return 0
	}
	if seconds > math.MaxInt64/float64(time.Second) {
		return time.Duration(math.MaxInt64 / int64(time.Second) * int64(time.Second))
	}
	return time.Duration(seconds) * time.Second
}
