package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/solana"
)

var (
	// ErrTokenNotFound is surfaced immediately and never retried.
	ErrTokenNotFound = domain.ErrTokenNotFound

	// ErrUpstreamUnavailable is returned after retries are exhausted or while the breaker is open.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrRateLimited is returned when a call could not obtain a rate limiter token in time.
	ErrRateLimited = errors.New("rate limited")

	// ErrPriceUnavailable is returned when no provider has a price for the token.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrWatchUnsupported is returned by Watch when no streaming client is configured.
	ErrWatchUnsupported = errors.New("account watch not configured")
)

// IncompleteError ends a transaction sequence that is missing records of the
// requested window. The records yielded before it are still valid.
type IncompleteError struct {
	Skipped int  // transactions whose lookup failed
	Capped  bool // the record cap was reached before the window start
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("incomplete transaction history: %d skipped, capped=%t", e.Skipped, e.Capped)
}

// IsDegradable reports errors that should null a field rather than fail a request.
func IsDegradable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrPriceUnavailable)
}

// transient is implemented by upstream errors that know whether a retry may help.
type transient interface {
	Transient() bool
}

// isTransient classifies an attempt error. Parent context cancellation is handled by the caller.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var t transient
	if errors.As(err, &t) {
		return t.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// isNotFound reports ledger errors meaning the mint does not exist.
func isNotFound(err error) bool {
	var rpcErr *solana.RPCError
	return errors.As(err, &rpcErr) && rpcErr.NotFound()
}
