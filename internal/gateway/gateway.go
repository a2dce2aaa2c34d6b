// Package gateway is the rate-limited, retrying facade over the ledger and price providers.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"solana-token-analytics/internal/address"
	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/logger"
	"solana-token-analytics/internal/observability"
	"solana-token-analytics/internal/solana"
)

// PriceSource returns spot prices in USD.
type PriceSource interface {
	GetPrice(ctx context.Context, mint string) (float64, error)
}

// AccountStream is the streaming subset of the ledger WebSocket client.
type AccountStream interface {
	SubscribeAccount(ctx context.Context, account string) (*solana.AccountSubscription, error)
	Unsubscribe(sub *solana.AccountSubscription)
}

// Config configures gateway call policy.
type Config struct {
	RateLimitRPS     float64
	RateLimitBurst   int
	QueueTimeout     time.Duration // max wait for a rate limiter token
	CallTimeout      time.Duration // per-attempt timeout
	Retry            RetryPolicy
	BreakerThreshold int           // consecutive failures that open the breaker
	BreakerCooldown  time.Duration // open → half-open delay
	PoolSize         int           // max concurrent upstream calls
	PageSize         int           // signatures per page
	MaxTransactions  int           // cap on transactions per sequence
}

// DefaultConfig returns conservative defaults for a public RPC endpoint.
func DefaultConfig() Config {
	return Config{
		RateLimitRPS:     10,
		RateLimitBurst:   20,
		QueueTimeout:     5 * time.Second,
		CallTimeout:      10 * time.Second,
		Retry:            DefaultRetryPolicy(),
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
		PoolSize:         8,
		PageSize:         100,
		MaxTransactions:  1000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = d.RateLimitRPS
	}
	if c.RateLimitBurst < 1 {
		c.RateLimitBurst = d.RateLimitBurst
	}
	if c.QueueTimeout <= 0 {
		c.QueueTimeout = d.QueueTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.Retry.MaxAttempts < 1 {
		c.Retry = d.Retry
	}
	if c.BreakerThreshold < 1 {
		c.BreakerThreshold = d.BreakerThreshold
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = d.BreakerCooldown
	}
	if c.PoolSize < 1 {
		c.PoolSize = d.PoolSize
	}
	if c.PageSize < 1 || c.PageSize > 1000 {
		c.PageSize = d.PageSize
	}
	if c.MaxTransactions < 1 {
		c.MaxTransactions = d.MaxTransactions
	}
	return c
}

// Gateway fetches typed ledger and market data under per-host rate limits,
// retries and circuit breakers.
type Gateway struct {
	ledger  solana.RPCClient
	prices  PriceSource
	watcher AccountStream
	cfg     Config
	log     *logger.Logger

	ledgerUp *upstream
	priceUp  *upstream
	pool     *semaphore.Weighted
	now      func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithWatcher enables change watches through a streaming client.
func WithWatcher(w AccountStream) Option {
	return func(g *Gateway) {
		g.watcher = w
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(g *Gateway) {
		g.log = l
	}
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// New creates a Gateway. Hosts are derived from the clients' endpoints when available.
func New(ledger solana.RPCClient, prices PriceSource, cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		ledger: ledger,
		prices: prices,
		cfg:    cfg.withDefaults(),
		log:    logger.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.ledgerUp = newUpstream(hostOf(ledger, "ledger"), g.cfg, g.log)
	g.priceUp = newUpstream(hostOf(prices, "price"), g.cfg, g.log)
	g.pool = semaphore.NewWeighted(int64(g.cfg.PoolSize))
	return g
}

func hostOf(client any, fallback string) string {
	e, ok := client.(interface{ Endpoint() string })
	if !ok {
		return fallback
	}
	u, err := url.Parse(e.Endpoint())
	if err != nil || u.Host == "" {
		return fallback
	}
	return u.Host
}

// BreakerStates returns the breaker state of each upstream host.
func (g *Gateway) BreakerStates() map[string]BreakerState {
	return map[string]BreakerState{
		g.ledgerUp.host: g.ledgerUp.state(),
		g.priceUp.host:  g.priceUp.state(),
	}
}

// call runs fn under the worker pool, rate limiter, breaker and retry policy of up.
func call[T any](ctx context.Context, g *Gateway, up *upstream, op string, fn func(context.Context) (T, error)) (T, error) {
	var result T
	start := time.Now()

	operation := func() error {
		if err := g.pool.Acquire(ctx, 1); err != nil {
			return backoff.Permanent(err)
		}
		defer g.pool.Release(1)

		if err := g.waitLimiter(ctx, up); err != nil {
			return backoff.Permanent(err)
		}

		res, err := up.breaker.Execute(func() (interface{}, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
			defer cancel()
			return fn(attemptCtx)
		})
		if err != nil {
			switch {
			case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
				return backoff.Permanent(fmt.Errorf("%w: %s circuit %v", ErrUpstreamUnavailable, up.host, err))
			case ctx.Err() != nil:
				return backoff.Permanent(ctx.Err())
			case isTransient(err):
				return err
			default:
				return backoff.Permanent(err)
			}
		}
		result, _ = res.(T)
		return nil
	}

	notify := func(err error, wait time.Duration) {
		observability.RecordUpstreamRetry(up.host, op)
		g.log.Warnw("upstream call failed, retrying", "host", up.host, "op", op, "error", err, "wait", wait)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(g.cfg.Retry.NewBackOff(), ctx), notify)
	observability.RecordUpstreamCall(up.host, op, time.Since(start), err)
	if err != nil {
		if isTransient(err) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %s %s: %v", ErrUpstreamUnavailable, up.host, op, err)
		}
		var zero T
		return zero, err
	}
	return result, nil
}

// waitLimiter blocks for a token from the host's bucket, bounded by the queue timeout.
func (g *Gateway) waitLimiter(ctx context.Context, up *upstream) error {
	waitCtx, cancel := context.WithTimeout(ctx, g.cfg.QueueTimeout)
	defer cancel()
	if err := up.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		observability.RecordRateLimited(up.host)
		return fmt.Errorf("%w: %s queue wait exceeded %s", ErrRateLimited, up.host, g.cfg.QueueTimeout)
	}
	return nil
}

func validate(mint string) error {
	if err := address.Validate(mint); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

// FetchMetadata returns supply, decimals and optional asset metadata for a mint.
func (g *Gateway) FetchMetadata(ctx context.Context, mint string) (*domain.Token, error) {
	if err := validate(mint); err != nil {
		return nil, err
	}

	supply, err := call(ctx, g, g.ledgerUp, "getTokenSupply", func(ctx context.Context) (*solana.TokenSupply, error) {
		return g.ledger.GetTokenSupply(ctx, mint)
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, mint)
		}
		return nil, fmt.Errorf("fetch supply: %w", err)
	}

	now := g.now().UnixMilli()
	token := &domain.Token{
		Address:   mint,
		Decimals:  supply.Decimals,
		Supply:    supply.UIAmount,
		UpdatedAt: now,
	}

	asset, err := call(ctx, g, g.ledgerUp, "getAsset", func(ctx context.Context) (*solana.Asset, error) {
		return g.ledger.GetAsset(ctx, mint)
	})
	if err != nil {
		g.log.Debugw("asset metadata unavailable", "token", mint, "error", err)
	} else if asset != nil {
		token.Name = nonEmpty(asset.Name)
		token.Symbol = nonEmpty(asset.Symbol)
		token.Description = nonEmpty(asset.Description)
		token.ImageURL = nonEmpty(asset.Image)
		token.TokenStandard = nonEmpty(asset.TokenStandard)
	}

	return token, nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// FetchLargestHolders returns the top-n holders sorted by balance, n clamped to [1, 20].
func (g *Gateway) FetchLargestHolders(ctx context.Context, mint string, n int) (*domain.HolderSnapshot, error) {
	if err := validate(mint); err != nil {
		return nil, err
	}
	if n < 1 {
		n = 1
	}
	if n > solana.MaxLargestAccounts {
		n = solana.MaxLargestAccounts
	}

	accounts, err := call(ctx, g, g.ledgerUp, "getTokenLargestAccounts", func(ctx context.Context) ([]solana.TokenAccountBalance, error) {
		return g.ledger.GetTokenLargestAccounts(ctx, mint)
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, mint)
		}
		return nil, fmt.Errorf("fetch largest holders: %w", err)
	}

	holders := make([]domain.Holder, 0, len(accounts))
	for _, a := range accounts {
		balance := a.UIAmount
		if balance < 0 {
			balance = 0
		}
		holders = append(holders, domain.Holder{Account: a.Address, Balance: balance})
	}
	sort.SliceStable(holders, func(i, j int) bool {
		return holders[i].Balance > holders[j].Balance
	})
	if len(holders) > n {
		holders = holders[:n]
	}
	for i := range holders {
		holders[i].Rank = i + 1
	}

	return &domain.HolderSnapshot{
		Token:   mint,
		Holders: holders,
		TakenAt: g.now().UnixMilli(),
	}, nil
}

// FetchPrice returns the USD spot price, falling back to asset price info
// when the aggregator has no quote.
func (g *Gateway) FetchPrice(ctx context.Context, mint string) (float64, error) {
	if err := validate(mint); err != nil {
		return 0, err
	}

	p, err := call(ctx, g, g.priceUp, "getPrice", func(ctx context.Context) (float64, error) {
		return g.prices.GetPrice(ctx, mint)
	})
	if err == nil {
		return p, nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	g.log.Debugw("aggregator price unavailable, trying asset price", "token", mint, "error", err)

	asset, assetErr := call(ctx, g, g.ledgerUp, "getAsset", func(ctx context.Context) (*solana.Asset, error) {
		return g.ledger.GetAsset(ctx, mint)
	})
	if assetErr == nil && asset != nil && asset.PricePerToken != nil {
		return *asset.PricePerToken, nil
	}
	return 0, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, mint, err)
}

// Health checks the ledger node.
func (g *Gateway) Health(ctx context.Context) error {
	_, err := call(ctx, g, g.ledgerUp, "getHealth", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.ledger.GetHealth(ctx)
	})
	return err
}
