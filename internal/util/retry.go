package util

import (
	"context"
	"time"
)

// RetryWithBackoff calls fn up to maxRetries+1 times with exponential backoff
// starting at base (base, 2*base, 4*base, ...). fn receives the 0-indexed
// attempt number. If fn returns retry=false the last error is returned
// immediately without further attempts; the scrape path uses that to stop on
// non-transient failures. Context cancellation aborts between attempts.
func RetryWithBackoff(ctx context.Context, maxRetries int, base time.Duration, fn func(attempt int) (retry bool, err error)) error {
	if base <= 0 {
		base = time.Second
	}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		retry, err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == maxRetries {
			break
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		backoff := time.Duration(1<<attempt) * base
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}
