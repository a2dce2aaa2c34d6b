package clickhouse

import (
	"context"
	"fmt"
	"time"

	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/storage"
)

// MetricSnapshotStore implements storage.MetricSnapshotStore using ClickHouse.
type MetricSnapshotStore struct {
	conn *Conn
}

// NewMetricSnapshotStore creates a new MetricSnapshotStore.
func NewMetricSnapshotStore(conn *Conn) *MetricSnapshotStore {
	return &MetricSnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.MetricSnapshotStore = (*MetricSnapshotStore)(nil)

// AppendBulk adds snapshots. Fails entire batch on duplicate (token, kind, computed_at).
func (s *MetricSnapshotStore) AppendBulk(ctx context.Context, snapshots []*domain.MetricSnapshot) (err error) {
	if len(snapshots) == 0 {
		return nil
	}
	defer observe("metric_snapshot_append", time.Now(), &err)

	// Check for intra-batch duplicates
	type key struct {
		token      string
		kind       domain.MetricKind
		computedAt int64
	}
	seen := make(map[key]struct{})
	for _, m := range snapshots {
		if m == nil || m.Token == "" || m.Kind == "" {
			return storage.ErrInvalidInput
		}
		k := key{m.Token, m.Kind, m.ComputedAt}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// MergeTree does not enforce uniqueness; check existing rows explicitly
	for _, m := range snapshots {
		exists, err := s.exists(ctx, m.Token, m.Kind, m.ComputedAt)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO metric_snapshots (token, kind, payload, quality, computed_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, m := range snapshots {
		err = batch.Append(
			m.Token, string(m.Kind), string(m.Payload), string(m.Quality), uint64(m.ComputedAt),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot of (token, kind). Returns ErrNotFound if none.
func (s *MetricSnapshotStore) Latest(ctx context.Context, token string, kind domain.MetricKind) (m *domain.MetricSnapshot, err error) {
	defer observe("metric_snapshot_latest", time.Now(), &err)

	query := `
		SELECT token, kind, payload, quality, computed_at
		FROM metric_snapshots
		WHERE token = ? AND kind = ?
		ORDER BY computed_at DESC
		LIMIT 1
	`

	rows, err := s.conn.Query(ctx, query, token, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query latest: %w", err)
	}
	defer rows.Close()

	snapshots, err := scanMetricSnapshots(rows)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, storage.ErrNotFound
	}
	return snapshots[0], nil
}

// LatestSince returns the most recent snapshot of every (token, kind) computed at or after since.
func (s *MetricSnapshotStore) LatestSince(ctx context.Context, since int64) (result []*domain.MetricSnapshot, err error) {
	defer observe("metric_snapshot_latest_since", time.Now(), &err)

	query := `
		SELECT
			token,
			kind,
			argMax(payload, computed_at),
			argMax(quality, computed_at),
			max(computed_at)
		FROM metric_snapshots
		WHERE computed_at >= ?
		GROUP BY token, kind
		ORDER BY token, kind
	`

	rows, err := s.conn.Query(ctx, query, uint64(since))
	if err != nil {
		return nil, fmt.Errorf("query latest since: %w", err)
	}
	defer rows.Close()

	return scanMetricSnapshots(rows)
}

// GetByTimeRange retrieves snapshots of (token, kind) within [start, end] (inclusive).
func (s *MetricSnapshotStore) GetByTimeRange(ctx context.Context, token string, kind domain.MetricKind, start, end int64) (result []*domain.MetricSnapshot, err error) {
	defer observe("metric_snapshot_range", time.Now(), &err)

	query := `
		SELECT token, kind, payload, quality, computed_at
		FROM metric_snapshots
		WHERE token = ? AND kind = ? AND computed_at >= ? AND computed_at <= ?
		ORDER BY computed_at ASC
	`

	rows, err := s.conn.Query(ctx, query, token, string(kind), uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanMetricSnapshots(rows)
}

// exists checks if a snapshot with the given key exists.
func (s *MetricSnapshotStore) exists(ctx context.Context, token string, kind domain.MetricKind, computedAt int64) (bool, error) {
	query := `
		SELECT count(*) FROM metric_snapshots
		WHERE token = ? AND kind = ? AND computed_at = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, token, string(kind), uint64(computedAt)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanMetricSnapshots scans multiple rows.
func scanMetricSnapshots(rows chRows) ([]*domain.MetricSnapshot, error) {
	var snapshots []*domain.MetricSnapshot

	for rows.Next() {
		var (
			m                      domain.MetricSnapshot
			kind, payload, quality string
			computedAt             uint64
		)
		if err := rows.Scan(&m.Token, &kind, &payload, &quality, &computedAt); err != nil {
			return nil, fmt.Errorf("scan metric snapshot row: %w", err)
		}
		m.Kind = domain.MetricKind(kind)
		m.Payload = []byte(payload)
		m.Quality = domain.DataQuality(quality)
		m.ComputedAt = int64(computedAt)
		snapshots = append(snapshots, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metric snapshot rows: %w", err)
	}
	return snapshots, nil
}
