package memory

import (
	"context"
	"sort"
	"sync"

	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/storage"
)

// TokenStore is an in-memory implementation of storage.TokenStore.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*domain.Token // keyed by address
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: make(map[string]*domain.Token),
	}
}

// Upsert inserts or updates a token by address.
func (s *TokenStore) Upsert(_ context.Context, t *domain.Token) error {
	if t == nil || t.Address == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tokenCopy := *t
	if existing, ok := s.tokens[t.Address]; ok {
		if existing.FirstSeenAt != 0 {
			tokenCopy.FirstSeenAt = existing.FirstSeenAt
		}
		tokenCopy.Name = coalesce(t.Name, existing.Name)
		tokenCopy.Symbol = coalesce(t.Symbol, existing.Symbol)
		tokenCopy.Description = coalesce(t.Description, existing.Description)
		tokenCopy.ImageURL = coalesce(t.ImageURL, existing.ImageURL)
		tokenCopy.TokenStandard = coalesce(t.TokenStandard, existing.TokenStandard)
	}
	s.tokens[t.Address] = &tokenCopy
	return nil
}

// GetByAddress retrieves a token by address. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByAddress(_ context.Context, address string) (*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	tokenCopy := *t
	return &tokenCopy, nil
}

// List returns all tokens ordered by address.
func (s *TokenStore) List(_ context.Context) ([]*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		tokenCopy := *t
		result = append(result, &tokenCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Address < result[j].Address
	})
	return result, nil
}

func coalesce(v, fallback *string) *string {
	if v != nil {
		return v
	}
	return fallback
}

var _ storage.TokenStore = (*TokenStore)(nil)
