package retry

import (
	"fmt"
	"time"
)

// Policy kinds accepted by NewPolicy.
const (
	PolicyExponential = "exponential"
	PolicyFixed       = "fixed"
	PolicyNone        = "none"
)

// RetryPolicy returns the wait before retry number attempt+1; false stops.
type RetryPolicy interface {
	NextRetry(attempt int) (time.Duration, bool)
}

// NewPolicy builds a policy by name. delay is the first wait for
// exponential backoff and the constant wait for fixed. Zero attempts
// disables retrying whatever the kind.
func NewPolicy(kind string, delay time.Duration, attempts int) (RetryPolicy, error) {
	if attempts < 0 {
		return nil, fmt.Errorf("retry: negative attempts %d", attempts)
	}
	switch kind {
	case PolicyNone:
		return Never{}, nil
	case PolicyExponential, PolicyFixed:
	default:
		return nil, fmt.Errorf("retry: unknown policy %q", kind)
	}
	if attempts == 0 {
		return Never{}, nil
	}
	if delay <= 0 {
		return nil, fmt.Errorf("retry: %s policy needs a positive delay", kind)
	}
	if kind == PolicyFixed {
		return &FixedInterval{Interval: delay, MaxAttempts: attempts}, nil
	}
	return &ExponentialBackoff{InitialDelay: delay, MaxDelay: 10 * delay, MaxAttempts: attempts}, nil
}

// ExponentialBackoff doubles the wait on every attempt up to MaxDelay.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

func (p *ExponentialBackoff) NextRetry(attempt int) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}

	delay := p.InitialDelay << uint(attempt)
	if delay <= 0 || (p.MaxDelay > 0 && delay > p.MaxDelay) {
		delay = p.MaxDelay
	}
	return delay, true
}

// FixedInterval waits the same Interval before each of MaxAttempts retries.
type FixedInterval struct {
	Interval    time.Duration
	MaxAttempts int
}

func (p *FixedInterval) NextRetry(attempt int) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	return p.Interval, true
}

// Never disables retries.
type Never struct{}

func (Never) NextRetry(int) (time.Duration, bool) { return 0, false }
