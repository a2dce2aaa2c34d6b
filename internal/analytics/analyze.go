package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"solana-token-analytics/internal/address"
	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/observability"
)

// Request is one analytics request.
type Request struct {
	Token           string
	IncludeRealTime bool
	MaxAccounts     int // 0 selects DefaultAccountsToMonitor
}

// Validate normalizes the request and checks it before any upstream call.
func (r *Request) Validate() error {
	if err := validateToken(r.Token); err != nil {
		return err
	}
	if r.MaxAccounts == 0 {
		r.MaxAccounts = domain.DefaultAccountsToMonitor
	}
	return domain.ValidateMaxAccounts(r.MaxAccounts)
}

func validateToken(token string) error {
	if err := address.Validate(token); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

// outcome is the result of one metric group within a report.
type outcome struct {
	value any
	stale bool
	err   error
}

// Analyze returns the full report for a token. Metric groups that fail are
// served from their last good value when one exists, otherwise left nil and
// listed in meta.errors. Only validation and token-not-found fail the request.
func (s *Service) Analyze(ctx context.Context, req Request) (*domain.AnalyticsReport, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	s.touch(req.Token)

	report := &domain.AnalyticsReport{
		Token:     req.Token,
		Timestamp: s.now().UTC(),
	}

	info, err := s.metadata(ctx, req.Token)
	switch {
	case err == nil:
		report.TokenInfo = info
	case errors.Is(err, domain.ErrTokenNotFound), errors.Is(err, domain.ErrValidation):
		return nil, err
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		if v, _, ok := s.cache.Stale(key(req.Token, domain.KindMetadata)); ok {
			report.TokenInfo = v.(*domain.Token)
			report.Meta.Stale = append(report.Meta.Stale, domain.KindMetadata)
		} else {
			report.Meta.Errors = append(report.Meta.Errors, fmt.Sprintf("%s: %v", domain.KindMetadata, err))
		}
	}

	results := s.collect(ctx, req.Token, domain.MetricKinds)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	present := 0
	for _, kind := range domain.MetricKinds {
		res := results[kind]
		if res.err != nil {
			report.Meta.Errors = append(report.Meta.Errors, fmt.Sprintf("%s: %v", kind, res.err))
			continue
		}
		if res.stale {
			report.Meta.Stale = append(report.Meta.Stale, kind)
		}
		present++
		switch v := res.value.(type) {
		case *domain.MarketCapMetric:
			report.MarketCap = v
		case *domain.VelocityMetric:
			report.Velocity = v
		case *domain.ConcentrationMetric:
			report.Concentration = v
		case *domain.BehaviorMetric:
			report.Behavior = v
		}
	}

	report.Meta.SuccessRate = float64(present) / float64(len(domain.MetricKinds))
	report.Meta.PartialFailure = present < len(domain.MetricKinds) || len(report.Meta.Stale) > 0
	if s.refreshInterval > 0 {
		next := report.Timestamp.Add(s.refreshInterval)
		report.Meta.NextUpdate = &next
	}

	if req.IncludeRealTime {
		report.RealTime = &domain.RealTimeInfo{
			Enabled:              true,
			MaxAccountsToMonitor: req.MaxAccounts,
			Channel:              s.liveChannel(req.Token),
		}
	}
	return report, nil
}

// Report returns the full report for a token with default options.
func (s *Service) Report(ctx context.Context, token string) (*domain.AnalyticsReport, error) {
	return s.Analyze(ctx, Request{Token: token})
}

// collect computes the given metric kinds concurrently, falling back to the
// last good value of a failed kind.
func (s *Service) collect(ctx context.Context, token string, kinds []domain.MetricKind) map[domain.MetricKind]outcome {
	var (
		mu  sync.Mutex
		out = make(map[domain.MetricKind]outcome, len(kinds))
		eg  errgroup.Group
	)
	for _, kind := range kinds {
		eg.Go(func() error {
			res := s.compute(ctx, token, kind)
			mu.Lock()
			out[kind] = res
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

func (s *Service) compute(ctx context.Context, token string, kind domain.MetricKind) outcome {
	v, err := s.metric(ctx, token, kind)
	if err == nil {
		return outcome{value: v}
	}
	if ctx.Err() != nil {
		return outcome{err: ctx.Err()}
	}
	if last, computedAt, ok := s.cache.Stale(key(token, kind)); ok {
		observability.RecordStaleServed(string(kind))
		s.log.Errorw("metric failed, serving last good value",
			"token", token, "kind", kind, "computed_at", computedAt, "error", err)
		return outcome{value: last, stale: true}
	}
	s.log.Errorw("metric failed", "token", token, "kind", kind, "error", err)
	return outcome{err: err}
}

// AnalyzeBatch computes the requested metric kinds for up to MaxBatchTokens
// tokens. An empty kinds list selects every kind. Per-token failures are
// reported in the token's entry; only request validation fails the batch.
func (s *Service) AnalyzeBatch(ctx context.Context, tokens []string, kinds []domain.MetricKind) (map[string]domain.BatchResult, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: tokens must not be empty", domain.ErrValidation)
	}
	if len(tokens) > MaxBatchTokens {
		return nil, fmt.Errorf("%w: at most %d tokens per batch, got %d", domain.ErrValidation, MaxBatchTokens, len(tokens))
	}
	if len(kinds) == 0 {
		kinds = domain.MetricKinds
	}
	for _, k := range kinds {
		if _, ok := domain.ParseMetricKind(string(k)); !ok {
			return nil, fmt.Errorf("%w: unknown metric %q", domain.ErrValidation, k)
		}
	}

	var (
		mu      sync.Mutex
		results = make(map[string]domain.BatchResult, len(tokens))
		eg      errgroup.Group
	)
	seen := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}

		eg.Go(func() error {
			res := s.batchOne(ctx, token, kinds)
			mu.Lock()
			results[token] = res
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return results, nil
}

func (s *Service) batchOne(ctx context.Context, token string, kinds []domain.MetricKind) domain.BatchResult {
	if err := validateToken(token); err != nil {
		return domain.BatchResult{Error: err.Error()}
	}
	s.touch(token)

	if _, err := s.metadata(ctx, token); errors.Is(err, domain.ErrTokenNotFound) {
		return domain.BatchResult{Error: err.Error()}
	}

	res := domain.BatchResult{Metrics: make(map[domain.MetricKind]any, len(kinds))}
	var errs []error
	for kind, o := range s.collect(ctx, token, kinds) {
		if o.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, o.err))
			continue
		}
		res.Metrics[kind] = o.value
	}
	if len(res.Metrics) == 0 {
		res.Metrics = nil
		res.Error = errors.Join(errs...).Error()
	}
	return res
}

// Holders returns up to n of the token's largest holders.
func (s *Service) Holders(ctx context.Context, token string, n int) (*domain.HolderSnapshot, error) {
	snap, err := s.holders(ctx, token)
	if err != nil {
		return nil, err
	}
	out := snap.Clone()
	if n >= 0 && n < len(out.Holders) {
		out.Holders = out.Holders[:n]
	}
	return out, nil
}

// ConcentrationFor computes concentration over an explicit holder list,
// bypassing the cache. Used for incremental live updates.
func (s *Service) ConcentrationFor(ctx context.Context, token string, holders []domain.Holder) (*domain.ConcentrationMetric, error) {
	t, err := s.metadata(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.engine.Concentration(holders, t.Supply, s.now()), nil
}

func (s *Service) touch(token string) {
	if s.activity != nil {
		s.activity.Touch(token)
	}
}
