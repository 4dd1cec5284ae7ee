// retry/retry.go
package retry

import (
	"context"
	"time"
)

type RetryManager struct {
	Policy RetryPolicy
}

func NewRetryManager(policy RetryPolicy) *RetryManager {
	if policy == nil {
		policy = Never{}
	}
	return &RetryManager{Policy: policy}
}

// Do runs fn until it succeeds, retryable reports false, the policy gives
// up, or ctx ends. It returns the last error from fn.
func (rm *RetryManager) Do(ctx context.Context, fn func() error, retryable func(error) bool) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		delay, ok := rm.Policy.NextRetry(attempt)
		if !ok {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
