package retry

import (
	"context"
	"time"
)

// UntilSuccess retries the given function f for up to the given timeout,
// by separating each attempt by the given retryInterval.
//
// f is considered successful if it does not return an error.
// f always runs at least once. Once the timeout is reached or ctx is done,
// the error from the last attempt is returned.
func UntilSuccess(ctx context.Context, f func() error, timeout time.Duration, retryInterval time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for {
		lastErr = f()
		if lastErr == nil {
			return nil
		}

		retryTimer := time.NewTimer(retryInterval)
		select {
		case <-retryTimer.C:
		case <-ctx.Done():
			retryTimer.Stop()
			return lastErr
		}
	}
}
