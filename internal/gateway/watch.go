package gateway

import (
	"context"
	"fmt"

	"solana-token-analytics/internal/domain"
)

// Watch subscribes to balance changes of a token account. The returned stop
// function cancels the upstream subscription; the channel is closed afterwards.
// ctx bounds only the subscribe handshake.
func (g *Gateway) Watch(ctx context.Context, mint, account string) (<-chan domain.AccountChange, func(), error) {
	if g.watcher == nil {
		return nil, nil, ErrWatchUnsupported
	}
	if err := validate(mint); err != nil {
		return nil, nil, err
	}

	subCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()
	sub, err := g.watcher.SubscribeAccount(subCtx, account)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: watch %s: %v", ErrUpstreamUnavailable, account, err)
	}

	out := make(chan domain.AccountChange, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-sub.Done():
				return
			case n := <-sub.C:
				if n.Mint != "" && n.Mint != mint {
					continue
				}
				change := domain.AccountChange{
					Token:      mint,
					Account:    n.Account,
					Owner:      n.Owner,
					Balance:    n.UIAmount,
					Slot:       n.Slot,
					ObservedAt: g.now().UnixMilli(),
				}
				select {
				case out <- change:
				case <-sub.Done():
					return
				}
			}
		}
	}()

	stop := func() {
		g.watcher.Unsubscribe(sub)
	}
	return out, stop, nil
}
