// Package retry provides a fixed-interval, unbounded retry loop.
//
// There is no backoff and no attempt limit: the agent's startup gate and its
// sync loops are expected to keep trying for as long as the process lives.
// Only context cancellation stops a retry early.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Forever calls fn until it returns nil, sleeping interval between failures.
// onFailure, if non-nil, is called with the attempt number and error after each failure.
func Forever(ctx context.Context, interval time.Duration, fn func(ctx context.Context) error, onFailure func(attempt int, err error)) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt, err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if onFailure != nil {
			onFailure(attempt, err)
		}

		if err := Sleep(ctx, interval); err != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, err)
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
