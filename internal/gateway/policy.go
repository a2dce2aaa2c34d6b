package gateway

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy parameterizes retries for every gateway call.
type RetryPolicy struct {
	MaxAttempts     int           // total attempts including the first
	InitialInterval time.Duration // delay before the first retry
	MaxInterval     time.Duration // cap on a single delay
	Multiplier      float64       // growth factor per retry
	Jitter          float64       // randomization factor in [0,1]
}

// DefaultRetryPolicy returns a policy of 3 attempts starting at 200ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		Jitter:          0.2,
	}
}

// NewBackOff returns a fresh backoff sequence for one logical call.
func (p RetryPolicy) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(b, uint64(retries))
}
