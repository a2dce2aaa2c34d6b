package solana

import (
	"context"
	"sync"
)

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeAccount subscribes to balance changes of a token account.
	SubscribeAccount(ctx context.Context, account string) (*AccountSubscription, error)

	// Unsubscribe cancels a subscription. Safe to call more than once.
	Unsubscribe(sub *AccountSubscription)

	// Close closes the WebSocket connection.
	Close() error
}

// AccountNotification represents an accountNotification for a token account.
type AccountNotification struct {
	Account  string
	Slot     int64
	Mint     string
	Owner    string
	UIAmount float64
	Closed   bool // account no longer holds parsed token data
}

// AccountSubscription is a live account subscription.
// C is never closed; stop reading once Done is closed.
type AccountSubscription struct {
	Account string
	C       <-chan AccountNotification

	local uint64
	done  chan struct{}
	once  sync.Once
}

// Done is closed when the subscription is cancelled or the client shuts down.
func (s *AccountSubscription) Done() <-chan struct{} {
	return s.done
}

// NewAccountSubscription builds a subscription handle around ch, for alternative
// stream implementations and tests.
func NewAccountSubscription(account string, ch <-chan AccountNotification) *AccountSubscription {
	return &AccountSubscription{Account: account, C: ch, done: make(chan struct{})}
}

// Cancel closes Done. Safe to call more than once.
func (s *AccountSubscription) Cancel() {
	s.once.Do(func() { close(s.done) })
}
