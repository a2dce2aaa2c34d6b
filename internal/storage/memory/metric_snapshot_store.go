package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/storage"
)

// MetricSnapshotStore is an in-memory implementation of storage.MetricSnapshotStore.
type MetricSnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.MetricSnapshot // keyed by (token, kind, computed_at)
}

// NewMetricSnapshotStore creates a new in-memory metric snapshot store.
func NewMetricSnapshotStore() *MetricSnapshotStore {
	return &MetricSnapshotStore{
		data: make(map[string]*domain.MetricSnapshot),
	}
}

// snapshotKey generates a unique key for a snapshot.
func snapshotKey(token string, kind domain.MetricKind, computedAt int64) string {
	return fmt.Sprintf("%s|%s|%d", token, kind, computedAt)
}

func copySnapshot(m *domain.MetricSnapshot) *domain.MetricSnapshot {
	c := *m
	c.Payload = append([]byte(nil), m.Payload...)
	return &c
}

// AppendBulk adds snapshots. Fails entire batch on duplicate.
func (s *MetricSnapshotStore) AppendBulk(_ context.Context, snapshots []*domain.MetricSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// First pass: check for duplicates (existing + intra-batch)
	batchKeys := make(map[string]struct{}, len(snapshots))
	for _, m := range snapshots {
		if m == nil || m.Token == "" || m.Kind == "" {
			return storage.ErrInvalidInput
		}
		key := snapshotKey(m.Token, m.Kind, m.ComputedAt)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	for _, m := range snapshots {
		s.data[snapshotKey(m.Token, m.Kind, m.ComputedAt)] = copySnapshot(m)
	}
	return nil
}

// Latest returns the most recent snapshot of (token, kind). Returns ErrNotFound if none.
func (s *MetricSnapshotStore) Latest(_ context.Context, token string, kind domain.MetricKind) (*domain.MetricSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.MetricSnapshot
	for _, m := range s.data {
		if m.Token != token || m.Kind != kind {
			continue
		}
		if latest == nil || m.ComputedAt > latest.ComputedAt {
			latest = m
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return copySnapshot(latest), nil
}

// LatestSince returns the most recent snapshot of every (token, kind) computed at or after since.
func (s *MetricSnapshotStore) LatestSince(_ context.Context, since int64) ([]*domain.MetricSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type groupKey struct {
		token string
		kind  domain.MetricKind
	}
	latest := make(map[groupKey]*domain.MetricSnapshot)
	for _, m := range s.data {
		if m.ComputedAt < since {
			continue
		}
		k := groupKey{m.Token, m.Kind}
		if cur, ok := latest[k]; !ok || m.ComputedAt > cur.ComputedAt {
			latest[k] = m
		}
	}

	result := make([]*domain.MetricSnapshot, 0, len(latest))
	for _, m := range latest {
		result = append(result, copySnapshot(m))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Token != result[j].Token {
			return result[i].Token < result[j].Token
		}
		return result[i].Kind < result[j].Kind
	})
	return result, nil
}

// GetByTimeRange retrieves snapshots of (token, kind) within [start, end] (inclusive).
func (s *MetricSnapshotStore) GetByTimeRange(_ context.Context, token string, kind domain.MetricKind, start, end int64) ([]*domain.MetricSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.MetricSnapshot
	for _, m := range s.data {
		if m.Token == token && m.Kind == kind && m.ComputedAt >= start && m.ComputedAt <= end {
			result = append(result, copySnapshot(m))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ComputedAt < result[j].ComputedAt
	})
	return result, nil
}

var _ storage.MetricSnapshotStore = (*MetricSnapshotStore)(nil)
