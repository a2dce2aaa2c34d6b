package memory

import (
	"context"
	"sync"

	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/storage"
)

// HolderSnapshotStore is an in-memory implementation of storage.HolderSnapshotStore.
type HolderSnapshotStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.HolderSnapshot // keyed by token, ordered by taken_at ASC
}

// NewHolderSnapshotStore creates a new in-memory holder snapshot store.
func NewHolderSnapshotStore() *HolderSnapshotStore {
	return &HolderSnapshotStore{
		data: make(map[string][]*domain.HolderSnapshot),
	}
}

// Append adds a snapshot. Returns ErrDuplicateKey if (token, taken_at) exists.
func (s *HolderSnapshotStore) Append(_ context.Context, snap *domain.HolderSnapshot) error {
	if snap == nil || snap.Token == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.data[snap.Token]
	i := len(list)
	for i > 0 && list[i-1].TakenAt > snap.TakenAt {
		i--
	}
	if i > 0 && list[i-1].TakenAt == snap.TakenAt {
		return storage.ErrDuplicateKey
	}

	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = snap.Clone()
	s.data[snap.Token] = list
	return nil
}

// Latest returns the most recent snapshot of a token. Returns ErrNotFound if none.
func (s *HolderSnapshotStore) Latest(_ context.Context, token string) (*domain.HolderSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.data[token]
	if len(list) == 0 {
		return nil, storage.ErrNotFound
	}
	return list[len(list)-1].Clone(), nil
}

var _ storage.HolderSnapshotStore = (*HolderSnapshotStore)(nil)
