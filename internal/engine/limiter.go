package engine

import (
	"context"

	"golang.org/x/time/rate"
)

// byteLimiter throttles the combined byte rate of all workers of a
// task. A nil limiter never blocks.
type byteLimiter struct {
	limiter *rate.Limiter
}

func newByteLimiter(bytesPerSec int64) *byteLimiter {
	if bytesPerSec <= 0 {
		return nil
	}
	// Burst of one second of budget; wait splits larger reads.
	return &byteLimiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec)),
	}
}

// wait blocks until n bytes of budget are available or ctx is done.
// Reads larger than the burst are consumed in burst-sized pieces.
func (l *byteLimiter) wait(ctx context.Context, n int) error {
	if l == nil {
		return nil
	}
	for n > 0 {
		chunk := n
		if burst := l.limiter.Burst(); chunk > burst {
			chunk = burst
		}
		if err := l.limiter.WaitN(ctx, chunk); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		n -= chunk
	}
	return nil
}
