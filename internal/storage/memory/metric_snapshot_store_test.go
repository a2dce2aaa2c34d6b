package memory

import (
	"context"
	"errors"
	"testing"

	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/storage"
)

func snapshot(token string, kind domain.MetricKind, at int64) *domain.MetricSnapshot {
	return &domain.MetricSnapshot{
		Token:      token,
		Kind:       kind,
		Payload:    []byte(`{"v":1}`),
		Quality:    domain.QualityOK,
		ComputedAt: at,
	}
}

func TestMetricSnapshotStore_AppendAndLatest(t *testing.T) {
	store := NewMetricSnapshotStore()
	ctx := context.Background()

	err := store.AppendBulk(ctx, []*domain.MetricSnapshot{
		snapshot("mint1", domain.KindVelocity, 1000),
		snapshot("mint1", domain.KindVelocity, 3000),
		snapshot("mint1", domain.KindVelocity, 2000),
		snapshot("mint1", domain.KindBehavior, 5000),
	})
	if err != nil {
		t.Fatalf("AppendBulk failed: %v", err)
	}

	latest, err := store.Latest(ctx, "mint1", domain.KindVelocity)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.ComputedAt != 3000 {
		t.Errorf("expected 3000, got %d", latest.ComputedAt)
	}
	if string(latest.Payload) != `{"v":1}` {
		t.Errorf("payload mismatch: %s", latest.Payload)
	}

	if _, err := store.Latest(ctx, "mint1", domain.KindMarketCap); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMetricSnapshotStore_DuplicateFailsBatch(t *testing.T) {
	store := NewMetricSnapshotStore()
	ctx := context.Background()

	if err := store.AppendBulk(ctx, []*domain.MetricSnapshot{snapshot("mint1", domain.KindVelocity, 1000)}); err != nil {
		t.Fatalf("AppendBulk failed: %v", err)
	}

	err := store.AppendBulk(ctx, []*domain.MetricSnapshot{
		snapshot("mint1", domain.KindVelocity, 2000),
		snapshot("mint1", domain.KindVelocity, 1000),
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	// Nothing from the failed batch is stored
	points, _ := store.GetByTimeRange(ctx, "mint1", domain.KindVelocity, 0, 10000)
	if len(points) != 1 {
		t.Errorf("expected 1 snapshot after failed batch, got %d", len(points))
	}

	err = store.AppendBulk(ctx, []*domain.MetricSnapshot{
		snapshot("mint1", domain.KindBehavior, 1000),
		snapshot("mint1", domain.KindBehavior, 1000),
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey for intra-batch duplicate, got %v", err)
	}
}

func TestMetricSnapshotStore_LatestSince(t *testing.T) {
	store := NewMetricSnapshotStore()
	ctx := context.Background()

	_ = store.AppendBulk(ctx, []*domain.MetricSnapshot{
		snapshot("mint1", domain.KindVelocity, 1000),
		snapshot("mint1", domain.KindVelocity, 4000),
		snapshot("mint1", domain.KindBehavior, 500),
		snapshot("mint2", domain.KindMarketCap, 3000),
	})

	result, err := store.LatestSince(ctx, 2000)
	if err != nil {
		t.Fatalf("LatestSince failed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(result))
	}
	if result[0].Token != "mint1" || result[0].ComputedAt != 4000 {
		t.Errorf("unexpected first snapshot: %+v", result[0])
	}
	if result[1].Token != "mint2" || result[1].Kind != domain.KindMarketCap {
		t.Errorf("unexpected second snapshot: %+v", result[1])
	}
}

func TestMetricSnapshotStore_GetByTimeRange(t *testing.T) {
	store := NewMetricSnapshotStore()
	ctx := context.Background()

	_ = store.AppendBulk(ctx, []*domain.MetricSnapshot{
		snapshot("mint1", domain.KindVelocity, 3000),
		snapshot("mint1", domain.KindVelocity, 1000),
		snapshot("mint1", domain.KindVelocity, 2000),
		snapshot("mint1", domain.KindVelocity, 5000),
	})

	points, err := store.GetByTimeRange(ctx, "mint1", domain.KindVelocity, 1000, 3000)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 points (inclusive bounds), got %d", len(points))
	}
	for i, want := range []int64{1000, 2000, 3000} {
		if points[i].ComputedAt != want {
			t.Errorf("point %d: got %d, want %d", i, points[i].ComputedAt, want)
		}
	}
}
