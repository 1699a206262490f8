package worker

import (
	"math"
	"time"
)

// nextRetryDelay computes the exponential backoff delay before a failed
// job's next attempt: base * multiplier^retryCount, where retryCount is
// the count the job is about to be retried at (post-increment).
func nextRetryDelay(base time.Duration, multiplier float64, retryCount int) time.Duration {
	return time.Duration(float64(base) * math.Pow(multiplier, float64(retryCount)))
}
