package memory

import (
	"context"
	"errors"
	"testing"

	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/storage"
)

func TestHolderSnapshotStore_AppendAndLatest(t *testing.T) {
	store := NewHolderSnapshotStore()
	ctx := context.Background()

	older := &domain.HolderSnapshot{
		Token:   "mint1",
		Holders: []domain.Holder{{Account: "acc1", Owner: "w1", Balance: 10, Rank: 1}},
		TakenAt: 1000,
	}
	newer := &domain.HolderSnapshot{
		Token: "mint1",
		Holders: []domain.Holder{
			{Account: "acc2", Owner: "w2", Balance: 50, Rank: 1},
			{Account: "acc1", Owner: "w1", Balance: 10, Rank: 2},
		},
		TakenAt: 2000,
	}

	// Out of order on purpose
	if err := store.Append(ctx, newer); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, older); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	latest, err := store.Latest(ctx, "mint1")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.TakenAt != 2000 {
		t.Errorf("expected latest TakenAt 2000, got %d", latest.TakenAt)
	}
	if len(latest.Holders) != 2 || latest.Holders[0].Account != "acc2" {
		t.Errorf("unexpected holders: %+v", latest.Holders)
	}

	// Stored snapshot is isolated from the caller's slice
	newer.Holders[0].Balance = 0
	latest, _ = store.Latest(ctx, "mint1")
	if latest.Holders[0].Balance != 50 {
		t.Errorf("store was mutated through appended value")
	}
}

func TestHolderSnapshotStore_Duplicate(t *testing.T) {
	store := NewHolderSnapshotStore()
	ctx := context.Background()

	snap := &domain.HolderSnapshot{Token: "mint1", TakenAt: 1000}
	if err := store.Append(ctx, snap); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, snap); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestHolderSnapshotStore_NotFound(t *testing.T) {
	store := NewHolderSnapshotStore()

	if _, err := store.Latest(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
