package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"solana-token-analytics/internal/cache"
	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/gateway"
	"solana-token-analytics/internal/storage"
)

// metric returns the cached value of a kind, computing it on miss.
func (s *Service) metric(ctx context.Context, token string, kind domain.MetricKind) (any, error) {
	return s.cache.GetOrCompute(ctx, key(token, kind), s.computeFunc(token, kind))
}

// computeFunc returns the cache compute function for a kind.
func (s *Service) computeFunc(token string, kind domain.MetricKind) cache.ComputeFunc {
	switch kind {
	case domain.KindMetadata:
		return func(ctx context.Context) (any, error) { return s.fetchMetadata(ctx, token) }
	case domain.KindHolders:
		return func(ctx context.Context) (any, error) { return s.fetchHolders(ctx, token) }
	case domain.KindPrice:
		return func(ctx context.Context) (any, error) { return s.source.FetchPrice(ctx, token) }
	case domain.KindMarketCap:
		return func(ctx context.Context) (any, error) { return s.computeMarketCap(ctx, token) }
	case domain.KindVelocity:
		return func(ctx context.Context) (any, error) { return s.computeVelocity(ctx, token) }
	case domain.KindConcentration:
		return func(ctx context.Context) (any, error) { return s.computeConcentration(ctx, token) }
	case domain.KindBehavior:
		return func(ctx context.Context) (any, error) { return s.computeBehavior(ctx, token) }
	case domain.KindTransactions:
		return func(ctx context.Context) (any, error) { return s.fetchTransactions(ctx, token) }
	}
	return func(context.Context) (any, error) {
		return nil, fmt.Errorf("unknown metric kind %q", kind)
	}
}

// Inputs

func (s *Service) metadata(ctx context.Context, token string) (*domain.Token, error) {
	v, err := s.metric(ctx, token, domain.KindMetadata)
	if err != nil {
		return nil, err
	}
	return v.(*domain.Token), nil
}

func (s *Service) fetchMetadata(ctx context.Context, token string) (*domain.Token, error) {
	t, err := s.source.FetchMetadata(ctx, token)
	if err != nil {
		return nil, err
	}
	s.saveToken(ctx, t)
	return t, nil
}

func (s *Service) price(ctx context.Context, token string) (*float64, error) {
	v, err := s.metric(ctx, token, domain.KindPrice)
	if err != nil {
		return nil, err
	}
	p := v.(float64)
	return &p, nil
}

// degradedPrice returns the price, or nil when no provider can quote it.
func (s *Service) degradedPrice(ctx context.Context, token string) (*float64, error) {
	p, err := s.price(ctx, token)
	if err != nil {
		if !gateway.IsDegradable(err) {
			return nil, err
		}
		s.log.Debugw("price unavailable", "token", token, "error", err)
		return nil, nil
	}
	return p, nil
}

func (s *Service) holders(ctx context.Context, token string) (*domain.HolderSnapshot, error) {
	v, err := s.metric(ctx, token, domain.KindHolders)
	if err != nil {
		return nil, err
	}
	return v.(*domain.HolderSnapshot), nil
}

func (s *Service) fetchHolders(ctx context.Context, token string) (*domain.HolderSnapshot, error) {
	snap, err := s.source.FetchLargestHolders(ctx, token, s.maxHolders)
	if err != nil {
		return nil, err
	}
	s.saveHolders(ctx, snap)
	return snap, nil
}

func (s *Service) transactions(ctx context.Context, token string) (domain.TransactionHistory, error) {
	v, err := s.metric(ctx, token, domain.KindTransactions)
	if err != nil {
		return domain.TransactionHistory{}, err
	}
	return v.(domain.TransactionHistory), nil
}

// fetchTransactions drains the transaction sequence for the widest metric window.
// A sequence ending in *gateway.IncompleteError yields a partial history.
func (s *Service) fetchTransactions(ctx context.Context, token string) (domain.TransactionHistory, error) {
	since := s.now().Add(-s.engine.TransactionWindow())
	h := domain.TransactionHistory{Records: make([]domain.TransactionRecord, 0)}
	for rec, err := range s.source.FetchTransactions(ctx, token, since) {
		var inc *gateway.IncompleteError
		if errors.As(err, &inc) {
			h.Skipped, h.Capped = inc.Skipped, inc.Capped
			s.log.Warnw("transaction history incomplete", "token", token, "skipped", inc.Skipped, "capped", inc.Capped)
			break
		}
		if err != nil {
			return domain.TransactionHistory{}, fmt.Errorf("fetch transactions: %w", err)
		}
		h.Records = append(h.Records, rec)
	}
	return h, nil
}

// Metrics

func (s *Service) computeMarketCap(ctx context.Context, token string) (*domain.MarketCapMetric, error) {
	t, err := s.metadata(ctx, token)
	if err != nil {
		return nil, err
	}
	p, err := s.degradedPrice(ctx, token)
	if err != nil {
		return nil, err
	}

	m := s.engine.MarketCap(t, p, s.now())
	s.persist(ctx, token, domain.KindMarketCap, m, m.Quality, m.ComputedAt)
	return m, nil
}

func (s *Service) computeVelocity(ctx context.Context, token string) (*domain.VelocityMetric, error) {
	history, err := s.transactions(ctx, token)
	if err != nil {
		return nil, err
	}
	p, err := s.degradedPrice(ctx, token)
	if err != nil {
		return nil, err
	}

	var marketCap *float64
	if v, err := s.metric(ctx, token, domain.KindMarketCap); err == nil {
		marketCap = v.(*domain.MarketCapMetric).MarketCapUSD
	} else {
		s.log.Debugw("market cap unavailable for velocity", "token", token, "error", err)
	}

	m := s.engine.Velocity(history, p, marketCap, s.now())
	s.persist(ctx, token, domain.KindVelocity, m, m.Quality, m.ComputedAt)
	return m, nil
}

func (s *Service) computeConcentration(ctx context.Context, token string) (*domain.ConcentrationMetric, error) {
	t, err := s.metadata(ctx, token)
	if err != nil {
		return nil, err
	}
	snap, err := s.holders(ctx, token)
	if err != nil {
		return nil, err
	}

	m := s.engine.Concentration(snap.Holders, t.Supply, s.now())
	s.persist(ctx, token, domain.KindConcentration, m, m.Quality, m.ComputedAt)
	return m, nil
}

func (s *Service) computeBehavior(ctx context.Context, token string) (*domain.BehaviorMetric, error) {
	history, err := s.transactions(ctx, token)
	if err != nil {
		return nil, err
	}
	t, err := s.metadata(ctx, token)
	if err != nil {
		return nil, err
	}

	m := s.engine.Behavior(history, t, s.now())
	s.persist(ctx, token, domain.KindBehavior, m, m.Quality, m.ComputedAt)
	return m, nil
}

// Persistence. Failures are logged and never fail the computation.

func (s *Service) saveToken(ctx context.Context, t *domain.Token) {
	if s.tokenStore == nil || t == nil {
		return
	}
	rec := *t
	if rec.FirstSeenAt == 0 {
		rec.FirstSeenAt = rec.UpdatedAt
	}
	if err := s.tokenStore.Upsert(ctx, &rec); err != nil {
		s.log.Warnw("failed to save token", "token", t.Address, "error", err)
	}
}

func (s *Service) saveHolders(ctx context.Context, snap *domain.HolderSnapshot) {
	if s.holderStore == nil || snap == nil {
		return
	}
	err := s.holderStore.Append(ctx, snap.Clone())
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		s.log.Warnw("failed to save holder snapshot", "token", snap.Token, "error", err)
	}
}

func (s *Service) persist(ctx context.Context, token string, kind domain.MetricKind, value any, quality domain.DataQuality, computedAt int64) {
	if s.snapshotStore == nil {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		s.log.Errorw("failed to encode metric snapshot", "token", token, "kind", kind, "error", err)
		return
	}
	snap := &domain.MetricSnapshot{
		Token:      token,
		Kind:       kind,
		Payload:    payload,
		Quality:    quality,
		ComputedAt: computedAt,
	}
	err = s.snapshotStore.AppendBulk(ctx, []*domain.MetricSnapshot{snap})
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		s.log.Warnw("failed to save metric snapshot", "token", token, "kind", kind, "error", err)
	}
}

// decodeMetric restores a persisted metric payload to its typed value.
func decodeMetric(kind domain.MetricKind, payload []byte) (any, error) {
	var v any
	switch kind {
	case domain.KindMarketCap:
		v = &domain.MarketCapMetric{}
	case domain.KindVelocity:
		v = &domain.VelocityMetric{}
	case domain.KindConcentration:
		v = &domain.ConcentrationMetric{}
	case domain.KindBehavior:
		v = &domain.BehaviorMetric{}
	default:
		return nil, fmt.Errorf("unknown metric kind %q", kind)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return nil, fmt.Errorf("decode %s snapshot: %w", kind, err)
	}
	return v, nil
}
