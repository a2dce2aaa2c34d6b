package subscription

import (
	"context"
	"fmt"
	"sync"

	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/observability"
)

// eventBuffer is the per-token change backlog ahead of the dispatcher. Past
// it, a change replaces the pending change of the same account.
const eventBuffer = 256

// watch is one shared upstream account watch.
type watch struct {
	refs int
	stop func()
}

// tokenGroup holds the sessions and watches of one token. A single
// dispatcher goroutine per group preserves event order for every session;
// report recomputation runs on a separate reporter goroutine.
type tokenGroup struct {
	token string

	mu       sync.Mutex
	sessions map[string]*Session
	watches  map[string]*watch // account -> watch
	holders  []domain.Holder   // holder view updated by change events
	seq      uint64
	closed   bool

	qmu     sync.Mutex
	pending []domain.AccountChange
	wake    chan struct{}
	reports chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func newTokenGroup(token string) *tokenGroup {
	ctx, cancel := context.WithCancel(context.Background())
	return &tokenGroup{
		token:    token,
		sessions: make(map[string]*Session),
		watches:  make(map[string]*watch),
		wake:     make(chan struct{}, 1),
		reports:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// acquire takes a reference on a watch for every account, starting the
// upstream watch on first use. If any account cannot be watched the
// references taken so far are dropped and the error returned.
// Caller holds g.mu.
func (g *tokenGroup) acquire(ctx context.Context, m *Manager, accounts []string) ([]string, error) {
	held := make([]string, 0, len(accounts))
	for _, account := range accounts {
		if w, ok := g.watches[account]; ok {
			w.refs++
			held = append(held, account)
			continue
		}

		ch, stop, err := m.watcher.Watch(ctx, g.token, account)
		if err != nil {
			g.release(held)
			return nil, fmt.Errorf("watch %s: %w", account, err)
		}
		g.watches[account] = &watch{refs: 1, stop: stop}
		held = append(held, account)
		go g.forward(ch)
	}
	return held, nil
}

// release drops one reference per account, stopping watches that reach zero.
// Caller holds g.mu.
func (g *tokenGroup) release(accounts []string) {
	for _, account := range accounts {
		w, ok := g.watches[account]
		if !ok {
			continue
		}
		w.refs--
		if w.refs <= 0 {
			w.stop()
			delete(g.watches, account)
		}
	}
}

// shutdown stops the dispatcher, the reporter and any remaining watches.
// Caller holds g.mu.
func (g *tokenGroup) shutdown() {
	g.closed = true
	for account, w := range g.watches {
		w.stop()
		delete(g.watches, account)
	}
	g.cancel()
}

func (g *tokenGroup) forward(ch <-chan domain.AccountChange) {
	for {
		select {
		case <-g.ctx.Done():
			return
		case c, ok := <-ch:
			if !ok {
				return
			}
			g.push(c)
		}
	}
}

// push queues a change for the dispatcher without blocking.
func (g *tokenGroup) push(c domain.AccountChange) {
	g.qmu.Lock()
	coalesced := false
	if len(g.pending) >= eventBuffer {
		for i := len(g.pending) - 1; i >= 0; i-- {
			if g.pending[i].Account == c.Account {
				g.pending[i] = c
				coalesced = true
				break
			}
		}
	}
	if !coalesced {
		g.pending = append(g.pending, c)
	}
	g.qmu.Unlock()

	select {
	case g.wake <- struct{}{}:
	default:
	}
}

// drain takes every pending change.
func (g *tokenGroup) drain() []domain.AccountChange {
	g.qmu.Lock()
	defer g.qmu.Unlock()
	batch := g.pending
	g.pending = nil
	return batch
}

// requestReport schedules a report recompute. Requests made while one is
// pending collapse into it.
func (g *tokenGroup) requestReport() {
	select {
	case g.reports <- struct{}{}:
	default:
	}
}

// apply records a balance change in the holder view and returns the previous balance.
// Caller holds g.mu.
func (g *tokenGroup) apply(c domain.AccountChange) float64 {
	for i := range g.holders {
		if g.holders[i].Account == c.Account {
			old := g.holders[i].Balance
			g.holders[i].Balance = max(c.Balance, 0)
			if c.Owner != "" {
				g.holders[i].Owner = c.Owner
			}
			return old
		}
	}
	g.holders = append(g.holders, domain.Holder{Account: c.Account, Owner: c.Owner, Balance: max(c.Balance, 0)})
	return 0
}

func (g *tokenGroup) dispatch(m *Manager) {
	for {
		select {
		case <-g.ctx.Done():
			return
		case <-g.wake:
			for _, c := range g.drain() {
				if g.ctx.Err() != nil {
					return
				}
				m.handleChange(g, c)
			}
		}
	}
}

func (g *tokenGroup) report(m *Manager) {
	for {
		select {
		case <-g.ctx.Done():
			return
		case <-g.reports:
			m.publishReport(g)
		}
	}
}

// handleChange recomputes concentration from the updated holder view and
// pushes one token_update frame to every session of the token. A change at
// or above the volatility threshold also invalidates the token's cache and
// schedules a report recompute, delivered in a later frame.
func (m *Manager) handleChange(g *tokenGroup, c domain.AccountChange) {
	g.mu.Lock()
	old := g.apply(c)
	holders := append([]domain.Holder(nil), g.holders...)
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(g.ctx, m.cfg.ComputeTimeout)
	defer cancel()

	metrics := &UpdateMetrics{Change: &c}
	conc, err := m.analytics.ConcentrationFor(ctx, g.token, holders)
	if err != nil {
		m.log.Warnw("failed to recompute concentration", "token", g.token, "error", err)
	} else {
		metrics.Concentration = conc
	}

	rel := relativeChange(old, c.Balance)
	volatile := rel >= m.cfg.VolatilityThreshold
	if volatile {
		if m.cache != nil {
			m.cache.Invalidate(g.token)
		}
		m.log.Debugw("volatile balance change", "token", g.token, "account", c.Account, "change", rel)
	}

	m.publish(g, Frame{Type: FrameTokenUpdate, Token: g.token, Metrics: metrics})
	if volatile {
		g.requestReport()
	}
}

// publishReport recomputes the full report and pushes it as a token_update.
func (m *Manager) publishReport(g *tokenGroup) {
	ctx, cancel := context.WithTimeout(g.ctx, m.cfg.ComputeTimeout)
	defer cancel()

	report, err := m.analytics.Report(ctx, g.token)
	if err != nil {
		m.log.Warnw("failed to recompute report", "token", g.token, "error", err)
		return
	}
	m.publish(g, Frame{Type: FrameTokenUpdate, Token: g.token, Metrics: &UpdateMetrics{Report: report}})
}

// publish stamps frame with the next sequence number and queues it to every
// active session of g. Sessions with a full queue are evicted.
func (m *Manager) publish(g *tokenGroup, frame Frame) {
	frame.Timestamp = m.now().UTC()

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.seq++
	frame.Seq = g.seq
	var slow []*Session
	for _, s := range g.sessions {
		if s.State() != StateActive {
			continue
		}
		if !s.enqueue(frame) {
			slow = append(slow, s)
			continue
		}
		observability.RecordFrame(frame.Type)
	}
	g.mu.Unlock()

	for _, s := range slow {
		m.evictSlow(s)
	}
}
