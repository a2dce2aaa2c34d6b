// Package scheduler refreshes metrics of tokens with live sessions or recent
// request activity on a fixed interval, ahead of cache expiry.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"solana-token-analytics/internal/logger"
	"solana-token-analytics/internal/observability"
)

// ErrTickInProgress is returned by Tick while a previous tick is still running.
var ErrTickInProgress = errors.New("refresh tick already running")

// Refresher recomputes a token's metrics through the request path.
type Refresher interface {
	Refresh(ctx context.Context, token string) error
	InFlight(token string) bool
}

// TokenSource lists tokens with active live sessions.
type TokenSource interface {
	ActiveTokens() []string
}

// Sweeper drops expired cache entries.
type Sweeper interface {
	Sweep() int
}

// TickResult summarizes one tick.
type TickResult struct {
	Tokens    int
	Refreshed int
	Skipped   int
	Failed    int
	Swept     int
	Duration  time.Duration
}

// Options for creating Scheduler.
type Options struct {
	// Required
	Refresher Refresher
	Interval  time.Duration

	// Token sources; either may be nil
	Sessions TokenSource
	Activity *Activity

	Sweeper     Sweeper
	Concurrency int // tokens refreshed in parallel, default 4
	Logger      *logger.Logger
}

// Scheduler runs periodic refresh ticks.
type Scheduler struct {
	refresher   Refresher
	sessions    TokenSource
	activity    *Activity
	sweeper     Sweeper
	interval    time.Duration
	concurrency int
	log         *logger.Logger

	mu      sync.Mutex
	running bool
	lastRun time.Time
	runs    int
}

// New creates a new Scheduler.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		refresher:   opts.Refresher,
		sessions:    opts.Sessions,
		activity:    opts.Activity,
		sweeper:     opts.Sweeper,
		interval:    opts.Interval,
		concurrency: opts.Concurrency,
		log:         opts.Logger,
	}
	if s.interval <= 0 {
		s.interval = 30 * time.Second
	}
	if s.concurrency < 1 {
		s.concurrency = 4
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	return s
}

// Run ticks on the configured interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Infow("starting refresh scheduler", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Tick(ctx); errors.Is(err, ErrTickInProgress) {
				s.log.Debugw("refresh tick already running, skipping")
			}
		}
	}
}

// Tick refreshes every token with an active session or recent activity.
// Tokens with a computation in flight are skipped; a failed token is logged
// and picked up again on the next tick.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return TickResult{}, ErrTickInProgress
	}
	s.running = true
	s.mu.Unlock()

	start := time.Now()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.lastRun = time.Now()
		s.runs++
		s.mu.Unlock()
	}()

	tokens := s.tokens()
	var refreshed, skipped, failed atomic.Int64

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)
	for _, token := range tokens {
		eg.Go(func() error {
			if s.refresher.InFlight(token) {
				skipped.Add(1)
				observability.RecordRefreshSkipped()
				return nil
			}
			if err := s.refresher.Refresh(egCtx, token); err != nil {
				failed.Add(1)
				observability.RecordRefresh("error")
				s.log.Warnw("token refresh failed", "token", token, "error", err)
				return nil
			}
			refreshed.Add(1)
			observability.RecordRefresh("success")
			return nil
		})
	}
	_ = eg.Wait()

	res := TickResult{
		Tokens:    len(tokens),
		Refreshed: int(refreshed.Load()),
		Skipped:   int(skipped.Load()),
		Failed:    int(failed.Load()),
	}
	if s.sweeper != nil {
		res.Swept = s.sweeper.Sweep()
	}
	res.Duration = time.Since(start)
	observability.RecordRefreshTick(res.Duration)

	s.log.Debugw("refresh tick complete",
		"tokens", res.Tokens,
		"refreshed", res.Refreshed,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"swept", res.Swept,
		"duration", res.Duration,
	)
	return res, nil
}

// tokens returns the sorted union of session and recently requested tokens.
func (s *Scheduler) tokens() []string {
	set := make(map[string]struct{})
	if s.sessions != nil {
		for _, t := range s.sessions.ActiveTokens() {
			set[t] = struct{}{}
		}
	}
	if s.activity != nil {
		for _, t := range s.activity.Recent() {
			set[t] = struct{}{}
		}
	}
	tokens := make([]string, 0, len(set))
	for t := range set {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

// Runs returns the number of completed ticks and when the last one finished.
func (s *Scheduler) Runs() (int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs, s.lastRun
}
