package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-token-analytics/internal/solana"
)

// fakeStream hands out subscriptions backed by test-controlled channels.
type fakeStream struct {
	mu           sync.Mutex
	subs         map[string]chan solana.AccountNotification
	unsubscribed []string
}

func newFakeStream() *fakeStream {
	return &fakeStream{subs: make(map[string]chan solana.AccountNotification)}
}

func (f *fakeStream) SubscribeAccount(_ context.Context, account string) (*solana.AccountSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan solana.AccountNotification, 4)
	f.subs[account] = ch
	return solana.NewAccountSubscription(account, ch), nil
}

func (f *fakeStream) Unsubscribe(sub *solana.AccountSubscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, sub.Account)
	sub.Cancel()
}

func (f *fakeStream) push(account string, n solana.AccountNotification) {
	f.mu.Lock()
	ch := f.subs[account]
	f.mu.Unlock()
	ch <- n
}

func TestWatch(t *testing.T) {
	stream := newFakeStream()
	g := New(newRPC(), &fakePrices{}, fastConfig(), WithWatcher(stream))

	changes, stop, err := g.Watch(context.Background(), bonk, "acc1")
	require.NoError(t, err)

	stream.push("acc1", solana.AccountNotification{Account: "acc1", Mint: "otherMint", UIAmount: 1})
	stream.push("acc1", solana.AccountNotification{Account: "acc1", Mint: bonk, Owner: "alice", UIAmount: 42, Slot: 9})

	select {
	case c := <-changes:
		assert.Equal(t, bonk, c.Token)
		assert.Equal(t, "acc1", c.Account)
		assert.Equal(t, "alice", c.Owner)
		assert.Equal(t, 42.0, c.Balance)
		assert.Equal(t, int64(9), c.Slot)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for change")
	}

	stop()
	select {
	case _, ok := <-changes:
		assert.False(t, ok, "channel should close after stop")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after stop")
	}
	assert.Equal(t, []string{"acc1"}, stream.unsubscribed)
}

func TestWatch_Unsupported(t *testing.T) {
	g := New(newRPC(), &fakePrices{}, fastConfig())
	_, _, err := g.Watch(context.Background(), bonk, "acc1")
	require.ErrorIs(t, err, ErrWatchUnsupported)
}
