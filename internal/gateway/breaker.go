package gateway

import (
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"solana-token-analytics/internal/logger"
	"solana-token-analytics/internal/observability"
)

// BreakerState mirrors the circuit breaker state of an upstream host.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerHalfOpen BreakerState = "half_open"
	BreakerOpen     BreakerState = "open"
)

// upstream holds the per-host rate limiter and circuit breaker.
type upstream struct {
	host    string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func newUpstream(host string, cfg Config, log *logger.Logger) *upstream {
	threshold := uint32(cfg.BreakerThreshold)
	settings := gobreaker.Settings{
		Name:        host,
		MaxRequests: 1, // single probe while half-open
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("circuit breaker state change", "host", name, "from", from.String(), "to", to.String())
			observability.RecordBreakerState(name, int(to))
		},
	}
	return &upstream{
		host:    host,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (u *upstream) state() BreakerState {
	switch u.breaker.State() {
	case gobreaker.StateOpen:
		return BreakerOpen
	case gobreaker.StateHalfOpen:
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}
