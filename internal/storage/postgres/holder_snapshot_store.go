package postgres

import (
	"context"
	"fmt"
	"time"

	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/storage"
)

// HolderSnapshotStore implements storage.HolderSnapshotStore using PostgreSQL.
// Holders are stored as a JSONB array.
type HolderSnapshotStore struct {
	pool *Pool
}

// NewHolderSnapshotStore creates a new HolderSnapshotStore.
func NewHolderSnapshotStore(pool *Pool) *HolderSnapshotStore {
	return &HolderSnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.HolderSnapshotStore = (*HolderSnapshotStore)(nil)

// Append adds a snapshot. Returns ErrDuplicateKey if (token, taken_at) exists.
func (s *HolderSnapshotStore) Append(ctx context.Context, snap *domain.HolderSnapshot) (err error) {
	if snap == nil || snap.Token == "" {
		return storage.ErrInvalidInput
	}
	defer observe("holder_snapshot_append", time.Now(), &err)

	holders := snap.Holders
	if holders == nil {
		holders = []domain.Holder{}
	}

	query := `
		INSERT INTO holder_snapshots (token, taken_at, holders)
		VALUES ($1, $2, $3)
	`

	_, err = s.pool.Exec(ctx, query, snap.Token, snap.TakenAt, holders)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert holder snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot of a token. Returns ErrNotFound if none.
func (s *HolderSnapshotStore) Latest(ctx context.Context, token string) (snap *domain.HolderSnapshot, err error) {
	defer observe("holder_snapshot_latest", time.Now(), &err)

	query := `
		SELECT token, taken_at, holders
		FROM holder_snapshots
		WHERE token = $1
		ORDER BY taken_at DESC
		LIMIT 1
	`

	var result domain.HolderSnapshot
	err = s.pool.QueryRow(ctx, query, token).Scan(&result.Token, &result.TakenAt, &result.Holders)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest holder snapshot: %w", err)
	}
	return &result, nil
}
