// Package analytics serves token analytics reports.
// It coordinates: gateway fetch → cache → metric engine → snapshot persistence
package analytics

import (
	"context"
	"iter"
	"time"

	"solana-token-analytics/internal/cache"
	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/logger"
	"solana-token-analytics/internal/metrics"
	"solana-token-analytics/internal/solana"
	"solana-token-analytics/internal/storage"
)

// MaxBatchTokens bounds the tokens of one batch request.
const MaxBatchTokens = 10

// Source is the upstream data access the service needs.
// Implemented by *gateway.Gateway.
type Source interface {
	FetchMetadata(ctx context.Context, mint string) (*domain.Token, error)
	FetchLargestHolders(ctx context.Context, mint string, n int) (*domain.HolderSnapshot, error)
	FetchPrice(ctx context.Context, mint string) (float64, error)
	FetchTransactions(ctx context.Context, mint string, since time.Time) iter.Seq2[domain.TransactionRecord, error]
}

// ActivityRecorder records request activity per token.
type ActivityRecorder interface {
	Touch(token string)
}

// Service computes analytics reports through the cache.
type Service struct {
	source Source
	engine *metrics.Engine
	cache  *cache.Cache

	// Stores (optional)
	tokenStore    storage.TokenStore
	holderStore   storage.HolderSnapshotStore
	snapshotStore storage.MetricSnapshotStore

	activity        ActivityRecorder
	refreshInterval time.Duration
	maxHolders      int
	liveChannel     func(token string) string
	now             func() time.Time
	log             *logger.Logger
}

// Options for creating Service.
type Options struct {
	// Required
	Source Source
	Engine *metrics.Engine
	Cache  *cache.Cache

	// Persistence; nil stores are skipped
	TokenStore          storage.TokenStore
	HolderSnapshotStore storage.HolderSnapshotStore
	MetricSnapshotStore storage.MetricSnapshotStore

	Activity        ActivityRecorder
	RefreshInterval time.Duration             // reported as meta.next_update
	MaxHolders      int                       // holders fetched per snapshot, default 20
	LiveChannel     func(token string) string // live channel path for real_time info
	Clock           func() time.Time
	Logger          *logger.Logger
}

// New creates a new Service.
func New(opts Options) *Service {
	s := &Service{
		source:          opts.Source,
		engine:          opts.Engine,
		cache:           opts.Cache,
		tokenStore:      opts.TokenStore,
		holderStore:     opts.HolderSnapshotStore,
		snapshotStore:   opts.MetricSnapshotStore,
		activity:        opts.Activity,
		refreshInterval: opts.RefreshInterval,
		maxHolders:      opts.MaxHolders,
		liveChannel:     opts.LiveChannel,
		now:             opts.Clock,
		log:             opts.Logger,
	}
	if s.engine == nil {
		s.engine = metrics.NewEngine(metrics.DefaultParams())
	}
	if s.cache == nil {
		s.cache = cache.New()
	}
	if s.maxHolders <= 0 {
		s.maxHolders = solana.MaxLargestAccounts
	}
	if s.liveChannel == nil {
		s.liveChannel = func(token string) string { return "/ws/tokens/" + token }
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	return s
}

// Cache returns the cache the service reads through.
func (s *Service) Cache() *cache.Cache {
	return s.cache
}

// Engine returns the metric engine.
func (s *Service) Engine() *metrics.Engine {
	return s.engine
}

func key(token string, kind domain.MetricKind) cache.Key {
	return cache.Key{Token: token, Kind: kind}
}
