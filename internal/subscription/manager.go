// Package subscription manages live token channels: reference-counted
// upstream watches per (token, account), fanning change events out to sessions.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"solana-token-analytics/internal/address"
	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/logger"
	"solana-token-analytics/internal/observability"
)

var (
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned when subscribing a session that is closing or closed.
	ErrSessionClosed = errors.New("session closed")

	// ErrSlowConsumer is returned when a session's queue was full and it was closed.
	ErrSlowConsumer = errors.New("slow consumer")
)

// Watcher is the change-watch capability of the data source gateway.
type Watcher interface {
	Watch(ctx context.Context, mint, account string) (<-chan domain.AccountChange, func(), error)
}

// Analytics is the request path the manager reads and recomputes through.
type Analytics interface {
	Holders(ctx context.Context, token string, n int) (*domain.HolderSnapshot, error)
	ConcentrationFor(ctx context.Context, token string, holders []domain.Holder) (*domain.ConcentrationMetric, error)
	Report(ctx context.Context, token string) (*domain.AnalyticsReport, error)
}

// Invalidator drops cached values of a token.
type Invalidator interface {
	Invalidate(token string) int
}

// Config configures the manager.
type Config struct {
	QueueSize           int           // outbound frames buffered per session
	HeartbeatInterval   time.Duration // ping period
	MaxMissedHeartbeats int           // consecutive unanswered pings before purge
	VolatilityThreshold float64       // relative balance change that triggers invalidation
	ComputeTimeout      time.Duration // bound on recomputation per change event
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:           64,
		HeartbeatInterval:   20 * time.Second,
		MaxMissedHeartbeats: 3,
		VolatilityThreshold: 0.05,
		ComputeTimeout:      30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueSize < 2 {
		c.QueueSize = d.QueueSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.MaxMissedHeartbeats < 1 {
		c.MaxMissedHeartbeats = d.MaxMissedHeartbeats
	}
	if c.VolatilityThreshold <= 0 {
		c.VolatilityThreshold = d.VolatilityThreshold
	}
	if c.ComputeTimeout <= 0 {
		c.ComputeTimeout = d.ComputeTimeout
	}
	return c
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	Sessions int `json:"sessions"`
	Tokens   int `json:"tokens"`
	Watches  int `json:"upstream_watches"`
}

// Manager owns sessions and the upstream watches they share.
// The sessions and tokens maps are guarded by mu; everything inside a token
// group is guarded by that group's own lock.
type Manager struct {
	watcher   Watcher
	analytics Analytics
	cache     Invalidator
	cfg       Config
	log       *logger.Logger
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	tokens   map[string]*tokenGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager.
func NewManager(watcher Watcher, analytics Analytics, cache Invalidator, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		watcher:   watcher,
		analytics: analytics,
		cache:     cache,
		cfg:       cfg.withDefaults(),
		log:       logger.NewNop(),
		now:       time.Now,
		sessions:  make(map[string]*Session),
		tokens:    make(map[string]*tokenGroup),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handshake validates the subscription parameters and registers a session
// in the Handshaking state. No upstream call is made. Calling it again with
// the same id returns the existing session.
func (m *Manager) Handshake(id, token string, maxAccounts int) (*Session, error) {
	if err := address.Validate(token); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if err := domain.ValidateMaxAccounts(maxAccounts); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		if s.Token != token {
			return nil, fmt.Errorf("%w: session %s is bound to %s", domain.ErrValidation, id, s.Token)
		}
		return s, nil
	}
	s := newSession(id, token, maxAccounts, m.cfg.QueueSize, m.now())
	m.sessions[id] = s
	m.mu.Unlock()

	m.updateGauges()
	return s, nil
}

// Subscribe activates a handshaken session: it resolves the top holder
// accounts, acquires shared watches on them and queues the initial report
// followed by the subscription confirmation. Subscribing an active session
// is a no-op.
func (m *Manager) Subscribe(ctx context.Context, id string) error {
	s, err := m.session(id)
	if err != nil {
		return err
	}
	switch s.State() {
	case StateActive:
		return nil
	case StateClosing, StateClosed:
		return ErrSessionClosed
	}

	snap, err := m.analytics.Holders(ctx, s.Token, -1)
	if err != nil {
		m.Unsubscribe(id)
		return fmt.Errorf("resolve holders: %w", err)
	}
	report, err := m.analytics.Report(ctx, s.Token)
	if err != nil {
		m.Unsubscribe(id)
		return fmt.Errorf("initial report: %w", err)
	}

	for {
		g := m.group(s.Token)
		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			continue
		}
		if !s.transition(StateHandshaking, StateActive) {
			g.mu.Unlock()
			m.dropIfEmpty(g)
			if s.State() == StateActive {
				return nil
			}
			return ErrSessionClosed
		}

		accounts, err := g.acquire(ctx, m, snap.Accounts(s.MaxAccounts))
		if err != nil {
			g.mu.Unlock()
			m.close(s, "watch failed")
			return fmt.Errorf("watch accounts: %w", err)
		}
		if g.holders == nil {
			g.holders = append([]domain.Holder(nil), snap.Holders...)
		}
		s.accounts = accounts
		g.sessions[s.ID] = s

		now := m.now().UTC()
		s.enqueue(Frame{Type: FrameInitialData, Token: s.Token, MaxAccounts: s.MaxAccounts, Report: report, Timestamp: now})
		s.enqueue(Frame{Type: FrameSubscribed, Token: s.Token, MaxAccounts: s.MaxAccounts, Accounts: append([]string(nil), s.accounts...), Timestamp: now})
		watched := len(s.accounts)
		g.mu.Unlock()

		observability.RecordFrame(FrameInitialData)
		observability.RecordFrame(FrameSubscribed)
		m.updateGauges()
		m.log.Infow("session subscribed", "session", s.ID, "token", s.Token, "accounts", watched)
		return nil
	}
}

// Unsubscribe closes a session and releases its watches. Unknown or
// already closed sessions are ignored.
func (m *Manager) Unsubscribe(id string) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.close(s, "unsubscribed")
}

// Pong records a liveness answer from the session.
func (m *Manager) Pong(id string) error {
	s, err := m.session(id)
	if err != nil {
		return err
	}
	s.missed.Store(0)
	return nil
}

// Send queues a frame to one session. A full queue closes the session.
func (m *Manager) Send(id string, f Frame) error {
	s, err := m.session(id)
	if err != nil {
		return err
	}
	if s.State() != StateActive {
		return ErrSessionClosed
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = m.now().UTC()
	}
	if !s.enqueue(f) {
		m.evictSlow(s)
		return ErrSlowConsumer
	}
	observability.RecordFrame(f.Type)
	return nil
}

// Session returns a registered session.
func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) session(id string) (*Session, error) {
	s, ok := m.Session(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// ActiveTokens returns the tokens with at least one active session, sorted.
func (m *Manager) ActiveTokens() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tokens := make([]string, 0, len(m.tokens))
	for token := range m.tokens {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

// Stats returns session, token and watch counts.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	groups := make([]*tokenGroup, 0, len(m.tokens))
	for _, g := range m.tokens {
		groups = append(groups, g)
	}
	st := Stats{Sessions: len(m.sessions), Tokens: len(m.tokens)}
	m.mu.RUnlock()

	for _, g := range groups {
		g.mu.Lock()
		st.Watches += len(g.watches)
		g.mu.Unlock()
	}
	return st
}

// Run sends heartbeats until ctx is cancelled, then closes every session.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case <-ticker.C:
			m.heartbeat()
		}
	}
}

// heartbeat pings every active session and purges those that missed too
// many consecutive pings.
func (m *Manager) heartbeat() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	now := m.now().UTC()
	for _, s := range sessions {
		if s.State() != StateActive {
			continue
		}
		if int(s.missed.Add(1)) > m.cfg.MaxMissedHeartbeats {
			observability.RecordHeartbeatEviction()
			m.log.Infow("session missed heartbeats, closing", "session", s.ID, "token", s.Token)
			m.close(s, "heartbeat timeout")
			continue
		}
		if !s.enqueue(Frame{Type: FramePing, Timestamp: now}) {
			m.evictSlow(s)
			continue
		}
		observability.RecordFrame(FramePing)
	}
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		m.close(s, "shutdown")
	}
}

func (m *Manager) evictSlow(s *Session) {
	observability.RecordSlowConsumer()
	m.log.Warnw("session queue full, closing", "session", s.ID, "token", s.Token)
	m.close(s, "slow consumer")
}

// close moves s through Closing to Closed, releasing its watches and
// removing it from the registry.
func (m *Manager) close(s *Session, reason string) {
	s.beginClose()

	m.mu.RLock()
	g := m.tokens[s.Token]
	m.mu.RUnlock()
	if g != nil {
		g.mu.Lock()
		if _, ok := g.sessions[s.ID]; ok {
			delete(g.sessions, s.ID)
			g.release(s.accounts)
			s.accounts = nil
		}
		g.mu.Unlock()
		m.dropIfEmpty(g)
	}

	m.mu.Lock()
	_, registered := m.sessions[s.ID]
	delete(m.sessions, s.ID)
	m.mu.Unlock()

	if s.transition(StateClosing, StateClosed) || registered {
		m.updateGauges()
		m.log.Infow("session closed", "session", s.ID, "token", s.Token, "reason", reason)
	}
}

// dropIfEmpty shuts g down and unregisters it when it has no sessions left.
func (m *Manager) dropIfEmpty(g *tokenGroup) {
	g.mu.Lock()
	empty := len(g.sessions) == 0 && !g.closed
	if empty {
		g.shutdown()
	}
	g.mu.Unlock()
	if !empty {
		return
	}
	m.mu.Lock()
	if m.tokens[g.token] == g {
		delete(m.tokens, g.token)
	}
	m.mu.Unlock()
}

// group returns the token group, creating it with its dispatcher and
// reporter if needed.
func (m *Manager) group(token string) *tokenGroup {
	m.mu.RLock()
	g, ok := m.tokens[token]
	m.mu.RUnlock()
	if ok {
		return g
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.tokens[token]; ok {
		return g
	}
	g = newTokenGroup(token)
	m.tokens[token] = g
	go g.dispatch(m)
	go g.report(m)
	return g
}

func (m *Manager) updateGauges() {
	st := m.Stats()
	observability.UpdateLiveGauges(st.Sessions, st.Watches)
}

// relativeChange returns |new - old| / old, or 1 for a position opened from zero.
func relativeChange(old, new float64) float64 {
	if old <= 0 {
		if new > 0 {
			return 1
		}
		return 0
	}
	return math.Abs(new-old) / old
}
