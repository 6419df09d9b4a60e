package snap

import (
	"context"
	"time"
)

// Backoff retries an operation with bounded exponential backoff. Only
// failures whose kind is retryable (TransientIO, Unreachable) are retried;
// Corruption and InvalidInput surface immediately.
type Backoff struct {
	// Tries is the total number of attempts, including the first.
	Tries int
	// Initial is the delay before the second attempt. Doubles per
	// attempt up to Max.
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff suits remote store and runtime calls.
var DefaultBackoff = Backoff{Tries: 4, Initial: time.Second, Max: 30 * time.Second}

// Do runs fn until it succeeds, fails with a non-retryable kind, exhausts
// the attempt budget, or ctx is done. The last error is returned.
func (b Backoff) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	tries := b.Tries
	if tries < 1 {
		tries = 1
	}
	delay := b.Initial

	var err error
	for attempt := 0; attempt < tries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return NewError(TransientIO, "retry wait", "", ctx.Err())
			}
			delay *= 2
			if b.Max > 0 && delay > b.Max {
				delay = b.Max
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
	}
	return err
}
