package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/storage"
)

func snapshot(token string, kind domain.MetricKind, at int64) *domain.MetricSnapshot {
	return &domain.MetricSnapshot{
		Token:      token,
		Kind:       kind,
		Payload:    []byte(`{"velocity":0.4}`),
		Quality:    domain.QualityOK,
		ComputedAt: at,
	}
}

func TestMetricSnapshotStore_AppendAndQuery(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewMetricSnapshotStore(conn)

	err := store.AppendBulk(ctx, []*domain.MetricSnapshot{
		snapshot("mintA", domain.KindVelocity, 1700000000000),
		snapshot("mintA", domain.KindVelocity, 1700000060000),
		snapshot("mintA", domain.KindBehavior, 1700000000000),
		snapshot("mintB", domain.KindVelocity, 1700000030000),
	})
	require.NoError(t, err)

	latest, err := store.Latest(ctx, "mintA", domain.KindVelocity)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000060000), latest.ComputedAt)
	assert.Equal(t, `{"velocity":0.4}`, string(latest.Payload))
	assert.Equal(t, domain.QualityOK, latest.Quality)

	points, err := store.GetByTimeRange(ctx, "mintA", domain.KindVelocity, 1700000000000, 1700000060000)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Less(t, points[0].ComputedAt, points[1].ComputedAt)

	recent, err := store.LatestSince(ctx, 1700000030000)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "mintA", recent[0].Token)
	assert.Equal(t, int64(1700000060000), recent[0].ComputedAt)
	assert.Equal(t, "mintB", recent[1].Token)
}

func TestMetricSnapshotStore_Duplicate(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewMetricSnapshotStore(conn)

	require.NoError(t, store.AppendBulk(ctx, []*domain.MetricSnapshot{snapshot("mintA", domain.KindVelocity, 1000)}))

	err := store.AppendBulk(ctx, []*domain.MetricSnapshot{snapshot("mintA", domain.KindVelocity, 1000)})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	err = store.AppendBulk(ctx, []*domain.MetricSnapshot{
		snapshot("mintA", domain.KindBehavior, 2000),
		snapshot("mintA", domain.KindBehavior, 2000),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestMetricSnapshotStore_LatestNotFound(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMetricSnapshotStore(conn)

	_, err := store.Latest(context.Background(), "missing", domain.KindVelocity)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
