package ingest

import (
	"context"
	"math/rand"
	"time"
)

// withRetry runs fn with exponential backoff, up to maxRetries retries. Each
// delay carries up to 25% random jitter so parallel ingesters hitting the
// same flaky endpoint do not retry in lockstep.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries {
			return err
		}

		timer := time.NewTimer(delay + jitter(delay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}
}

func jitter(delay time.Duration) time.Duration {
	span := int64(delay / 4)
	if span <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(span))
}
