package analytics

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"solana-token-analytics/internal/domain"
)

// inputKinds are the upstream fetches metrics are computed from.
var inputKinds = []domain.MetricKind{domain.KindMetadata, domain.KindHolders, domain.KindPrice}

// inFlightKinds are checked before refreshing a token.
var inFlightKinds = slices.Concat(inputKinds, []domain.MetricKind{domain.KindTransactions}, domain.MetricKinds)

// InFlight reports whether any input or metric of token is being computed.
func (s *Service) InFlight(token string) bool {
	for _, kind := range inFlightKinds {
		if s.cache.InFlight(key(token, kind)) {
			return true
		}
	}
	return false
}

// Refresh fetches fresh inputs for token and recomputes its metrics ahead
// of expiry. Kinds with a computation already in flight are left alone.
// Returns the joined errors of the inputs and metrics that failed.
func (s *Service) Refresh(ctx context.Context, token string) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	eg, egCtx := errgroup.WithContext(ctx)
	for _, kind := range inputKinds {
		eg.Go(func() error {
			err := s.recompute(egCtx, token, kind)
			if errors.Is(err, domain.ErrTokenNotFound) {
				return err
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", kind, err))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	if s.cache.ExpiresWithin(key(token, domain.KindTransactions), s.refreshInterval) {
		if err := s.recompute(ctx, token, domain.KindTransactions); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", domain.KindTransactions, err))
		}
	}

	// Sequential: velocity reads the market cap recomputed before it.
	for _, kind := range domain.MetricKinds {
		if err := s.recompute(ctx, token, kind); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
	}
	return errors.Join(errs...)
}

// recompute replaces the cached value of kind unless a computation of it is
// already in flight.
func (s *Service) recompute(ctx context.Context, token string, kind domain.MetricKind) error {
	k := key(token, kind)
	if s.cache.InFlight(k) {
		s.log.Debugw("computation in flight, skipping", "token", token, "kind", kind)
		return nil
	}
	_, err := s.cache.Recompute(ctx, k, s.computeFunc(token, kind))
	return err
}

// WarmStart restores persisted values that are still within their TTL into
// the cache. Returns the number of entries restored.
func (s *Service) WarmStart(ctx context.Context) (int, error) {
	restored := 0

	if s.tokenStore != nil {
		tokens, err := s.tokenStore.List(ctx)
		if err != nil {
			return restored, fmt.Errorf("list tokens: %w", err)
		}
		for _, t := range tokens {
			if s.cache.Restore(key(t.Address, domain.KindMetadata), t, time.UnixMilli(t.UpdatedAt)) {
				restored++
			}
			if s.holderStore == nil {
				continue
			}
			snap, err := s.holderStore.Latest(ctx, t.Address)
			if err != nil {
				continue
			}
			if s.cache.Restore(key(t.Address, domain.KindHolders), snap, time.UnixMilli(snap.TakenAt)) {
				restored++
			}
		}
	}

	if s.snapshotStore != nil {
		var maxTTL time.Duration
		for _, kind := range domain.MetricKinds {
			maxTTL = max(maxTTL, s.cache.TTL(kind))
		}
		snaps, err := s.snapshotStore.LatestSince(ctx, s.now().Add(-maxTTL).UnixMilli())
		if err != nil {
			return restored, fmt.Errorf("load metric snapshots: %w", err)
		}
		for _, snap := range snaps {
			v, err := decodeMetric(snap.Kind, snap.Payload)
			if err != nil {
				s.log.Warnw("skipping metric snapshot", "token", snap.Token, "kind", snap.Kind, "error", err)
				continue
			}
			if s.cache.Restore(key(snap.Token, snap.Kind), v, time.UnixMilli(snap.ComputedAt)) {
				restored++
			}
		}
	}

	s.log.Infow("cache warm start complete", "restored", restored)
	return restored, nil
}
