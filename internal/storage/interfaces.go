package storage

import (
	"context"

	"solana-token-analytics/internal/domain"
)

// TokenStore provides access to the token registry.
type TokenStore interface {
	// Upsert inserts or updates a token by address. FirstSeenAt of an
	// existing record is preserved, as are stored metadata fields that t leaves nil.
	Upsert(ctx context.Context, t *domain.Token) error

	// GetByAddress retrieves a token by mint address. Returns ErrNotFound if not exists.
	GetByAddress(ctx context.Context, address string) (*domain.Token, error)

	// List returns all tokens ordered by address.
	List(ctx context.Context) ([]*domain.Token, error)
}

// HolderSnapshotStore provides access to holder_snapshots storage.
type HolderSnapshotStore interface {
	// Append adds a snapshot. Returns ErrDuplicateKey if (token, taken_at) exists.
	Append(ctx context.Context, s *domain.HolderSnapshot) error

	// Latest returns the most recent snapshot of a token. Returns ErrNotFound if none.
	Latest(ctx context.Context, token string) (*domain.HolderSnapshot, error)
}

// MetricSnapshotStore provides access to the metric_snapshots time series.
type MetricSnapshotStore interface {
	// AppendBulk adds snapshots. Fails entire batch on duplicate (token, kind, computed_at).
	AppendBulk(ctx context.Context, snapshots []*domain.MetricSnapshot) error

	// Latest returns the most recent snapshot of (token, kind). Returns ErrNotFound if none.
	Latest(ctx context.Context, token string, kind domain.MetricKind) (*domain.MetricSnapshot, error)

	// LatestSince returns the most recent snapshot of every (token, kind)
	// computed at or after since (ms). Used for warm start.
	LatestSince(ctx context.Context, since int64) ([]*domain.MetricSnapshot, error)

	// GetByTimeRange retrieves snapshots of (token, kind) within [start, end] (inclusive),
	// ordered by computed_at ASC.
	GetByTimeRange(ctx context.Context, token string, kind domain.MetricKind, start, end int64) ([]*domain.MetricSnapshot, error)
}
