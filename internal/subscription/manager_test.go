package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-token-analytics/internal/domain"
)

const bonk = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

type fakeWatcher struct {
	mu       sync.Mutex
	channels map[string]chan domain.AccountChange
	fail     map[string]error // per-account Watch errors
	calls    atomic.Int64
	stops    atomic.Int64
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{channels: make(map[string]chan domain.AccountChange)}
}

func (w *fakeWatcher) Watch(_ context.Context, mint, account string) (<-chan domain.AccountChange, func(), error) {
	w.calls.Add(1)
	if err := w.fail[account]; err != nil {
		return nil, nil, err
	}
	ch := make(chan domain.AccountChange, 8)
	w.mu.Lock()
	w.channels[account] = ch
	w.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			w.stops.Add(1)
			close(ch)
		})
	}
	return ch, stop, nil
}

func (w *fakeWatcher) emit(account string, balance float64) {
	w.mu.Lock()
	ch := w.channels[account]
	w.mu.Unlock()
	ch <- domain.AccountChange{Token: bonk, Account: account, Balance: balance}
}

// fakeAnalytics blocks Holders on holdersGate and every Report after the
// first on reportGate, when those are set.
type fakeAnalytics struct {
	holdersGate chan struct{}
	reportGate  chan struct{}
	holderCalls atomic.Int64
	reportCalls atomic.Int64
}

func (a *fakeAnalytics) Holders(_ context.Context, token string, _ int) (*domain.HolderSnapshot, error) {
	a.holderCalls.Add(1)
	if a.holdersGate != nil {
		<-a.holdersGate
	}
	return &domain.HolderSnapshot{
		Token: token,
		Holders: []domain.Holder{
			{Account: "acc1", Balance: 5000, Rank: 1},
			{Account: "acc2", Balance: 1000, Rank: 2},
			{Account: "acc3", Balance: 100, Rank: 3},
		},
	}, nil
}

func (a *fakeAnalytics) ConcentrationFor(_ context.Context, _ string, holders []domain.Holder) (*domain.ConcentrationMetric, error) {
	total := 0.0
	for _, h := range holders {
		total += h.Balance
	}
	return &domain.ConcentrationMetric{HoldersAnalyzed: len(holders), TotalSupply: total}, nil
}

func (a *fakeAnalytics) Report(ctx context.Context, token string) (*domain.AnalyticsReport, error) {
	if a.reportCalls.Add(1) > 1 && a.reportGate != nil {
		select {
		case <-a.reportGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &domain.AnalyticsReport{Token: token}, nil
}

type fakeCache struct {
	invalidations atomic.Int64
}

func (c *fakeCache) Invalidate(string) int {
	c.invalidations.Add(1)
	return 1
}

type harness struct {
	m         *Manager
	watcher   *fakeWatcher
	analytics *fakeAnalytics
	cache     *fakeCache
}

func newHarness(t *testing.T, cfg Config) *harness {
	return newHarnessWith(t, cfg, &fakeAnalytics{})
}

func newHarnessWith(t *testing.T, cfg Config, analytics *fakeAnalytics) *harness {
	h := &harness{
		watcher:   newFakeWatcher(),
		analytics: analytics,
		cache:     &fakeCache{},
	}
	h.m = NewManager(h.watcher, h.analytics, h.cache, cfg)
	t.Cleanup(h.m.CloseAll)
	return h
}

func (h *harness) open(t *testing.T, id string, maxAccounts int) *Session {
	t.Helper()
	s, err := h.m.Handshake(id, bonk, maxAccounts)
	require.NoError(t, err)
	require.NoError(t, h.m.Subscribe(context.Background(), id))
	return s
}

func next(t *testing.T, s *Session) Frame {
	t.Helper()
	select {
	case f := <-s.Frames():
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame for session %s", s.ID)
		return Frame{}
	}
}

func drain(t *testing.T, s *Session, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		next(t, s)
	}
}

func TestHandshake_ValidationMakesNoUpstreamCalls(t *testing.T) {
	tests := []struct {
		name        string
		token       string
		maxAccounts int
	}{
		{"one account", bonk, 1},
		{"twenty accounts", bonk, 20},
		{"bad address", "0OIl", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, DefaultConfig())

			_, err := h.m.Handshake("s1", tt.token, tt.maxAccounts)
			require.ErrorIs(t, err, domain.ErrValidation)

			assert.Equal(t, int64(0), h.watcher.calls.Load())
			assert.Equal(t, int64(0), h.analytics.holderCalls.Load())
			assert.Equal(t, 0, h.m.Stats().Sessions)
		})
	}
}

func TestSubscribe_InitialFrames(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	s := h.open(t, "s1", 2)

	assert.Equal(t, StateActive, s.State())

	initial := next(t, s)
	assert.Equal(t, FrameInitialData, initial.Type)
	require.NotNil(t, initial.Report)
	assert.Equal(t, bonk, initial.Report.Token)

	confirmed := next(t, s)
	assert.Equal(t, FrameSubscribed, confirmed.Type)
	assert.Equal(t, 2, confirmed.MaxAccounts)
	assert.Equal(t, []string{"acc1", "acc2"}, confirmed.Accounts)
}

func TestSubscribe_Idempotent(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.open(t, "s1", 2)

	_, err := h.m.Handshake("s1", bonk, 2)
	require.NoError(t, err)
	require.NoError(t, h.m.Subscribe(context.Background(), "s1"))

	assert.Equal(t, int64(2), h.watcher.calls.Load())
	assert.Equal(t, 1, h.m.Stats().Sessions)
}

func TestSubscribe_UnknownSession(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	err := h.m.Subscribe(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestWatchReferenceCounting(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	for i := 1; i <= 3; i++ {
		h.open(t, fmt.Sprintf("s%d", i), 2)
	}

	// Three sessions share one watch per account.
	assert.Equal(t, int64(2), h.watcher.calls.Load())
	assert.Equal(t, Stats{Sessions: 3, Tokens: 1, Watches: 2}, h.m.Stats())

	h.m.Unsubscribe("s1")
	h.m.Unsubscribe("s2")
	assert.Equal(t, int64(0), h.watcher.stops.Load())
	assert.Equal(t, Stats{Sessions: 1, Tokens: 1, Watches: 2}, h.m.Stats())
	assert.Equal(t, []string{bonk}, h.m.ActiveTokens())

	h.m.Unsubscribe("s3")
	assert.Equal(t, int64(2), h.watcher.stops.Load())
	assert.Equal(t, Stats{}, h.m.Stats())
	assert.Empty(t, h.m.ActiveTokens())
}

func TestWatchReferenceCounting_OverlappingAccounts(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.open(t, "small", 2)
	h.open(t, "large", 3)

	assert.Equal(t, int64(3), h.watcher.calls.Load())

	h.m.Unsubscribe("large")
	assert.Equal(t, int64(1), h.watcher.stops.Load()) // acc3 only
	assert.Equal(t, 2, h.m.Stats().Watches)
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	s := h.open(t, "s1", 2)

	h.m.Unsubscribe("s1")
	h.m.Unsubscribe("s1")
	h.m.Unsubscribe("never-existed")

	assert.Equal(t, StateClosed, s.State())
	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed")
	}
	assert.ErrorIs(t, h.m.Subscribe(context.Background(), "s1"), ErrSessionNotFound)
}

func TestUnsubscribe_DuringHandshake(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	s, err := h.m.Handshake("s1", bonk, 2)
	require.NoError(t, err)

	h.m.Unsubscribe("s1")
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, int64(0), h.watcher.calls.Load())
}

func TestSubscribe_SessionClosedWhileResolving(t *testing.T) {
	analytics := &fakeAnalytics{holdersGate: make(chan struct{})}
	h := newHarnessWith(t, DefaultConfig(), analytics)
	_, err := h.m.Handshake("s1", bonk, 2)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- h.m.Subscribe(context.Background(), "s1") }()
	require.Eventually(t, func() bool { return analytics.holderCalls.Load() == 1 }, time.Second, time.Millisecond)

	h.m.Unsubscribe("s1")
	close(analytics.holdersGate)

	assert.ErrorIs(t, <-errc, ErrSessionClosed)
	assert.Equal(t, Stats{}, h.m.Stats())
	assert.Empty(t, h.m.ActiveTokens())
	assert.Equal(t, int64(0), h.watcher.calls.Load())
}

func TestSubscribe_WatchFailureFailsSubscribe(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.watcher.fail = map[string]error{"acc2": errors.New("subscription refused")}

	s, err := h.m.Handshake("s1", bonk, 2)
	require.NoError(t, err)
	err = h.m.Subscribe(context.Background(), "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscription refused")

	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, int64(1), h.watcher.stops.Load()) // acc1, taken before acc2 failed
	assert.Equal(t, Stats{}, h.m.Stats())
	assert.Empty(t, h.m.ActiveTokens())
}

func TestSubscribe_WatchFailureKeepsSharedWatches(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.open(t, "small", 1)

	h.watcher.fail = map[string]error{"acc2": errors.New("subscription refused")}
	_, err := h.m.Handshake("large", bonk, 2)
	require.NoError(t, err)
	require.Error(t, h.m.Subscribe(context.Background(), "large"))

	assert.Equal(t, int64(0), h.watcher.stops.Load())
	assert.Equal(t, Stats{Sessions: 1, Tokens: 1, Watches: 1}, h.m.Stats())
}

func TestChangeEvents_FanOutInOrder(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	a := h.open(t, "a", 2)
	b := h.open(t, "b", 2)
	drain(t, a, 2)
	drain(t, b, 2)

	h.watcher.emit("acc1", 5010) // +0.2%, below threshold
	h.watcher.emit("acc1", 1000) // -80%

	for _, s := range []*Session{a, b} {
		small := next(t, s)
		assert.Equal(t, FrameTokenUpdate, small.Type)
		assert.Equal(t, uint64(1), small.Seq)
		require.NotNil(t, small.Metrics)
		require.NotNil(t, small.Metrics.Change)
		assert.Equal(t, 5010.0, small.Metrics.Change.Balance)
		require.NotNil(t, small.Metrics.Concentration)
		assert.Equal(t, 3, small.Metrics.Concentration.HoldersAnalyzed)
		assert.InDelta(t, 6110.0, small.Metrics.Concentration.TotalSupply, 1e-9)
		assert.Nil(t, small.Metrics.Report)

		large := next(t, s)
		assert.Equal(t, FrameTokenUpdate, large.Type)
		assert.Equal(t, uint64(2), large.Seq)
		require.NotNil(t, large.Metrics)
		assert.InDelta(t, 2100.0, large.Metrics.Concentration.TotalSupply, 1e-9)

		report := next(t, s)
		assert.Equal(t, FrameTokenUpdate, report.Type)
		assert.Equal(t, uint64(3), report.Seq)
		require.NotNil(t, report.Metrics)
		require.NotNil(t, report.Metrics.Report)
		assert.Equal(t, bonk, report.Metrics.Report.Token)
		assert.Nil(t, report.Metrics.Change)
	}

	assert.Equal(t, int64(1), h.cache.invalidations.Load())
}

func TestChangeEvents_UnchangedBalance(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	s := h.open(t, "s1", 2)
	drain(t, s, 2)

	h.watcher.emit("acc2", 1000)
	f := next(t, s)
	require.NotNil(t, f.Metrics)
	assert.Equal(t, 3, f.Metrics.Concentration.HoldersAnalyzed)
	assert.Nil(t, f.Metrics.Report)
	assert.Equal(t, int64(0), h.cache.invalidations.Load())
	assert.Equal(t, int64(1), h.analytics.reportCalls.Load())
}

func TestChangeEvents_PendingReportDoesNotDelayChanges(t *testing.T) {
	analytics := &fakeAnalytics{reportGate: make(chan struct{})}
	h := newHarnessWith(t, DefaultConfig(), analytics)
	s := h.open(t, "s1", 2)
	drain(t, s, 2)

	h.watcher.emit("acc1", 1000) // -80%, report blocks
	first := next(t, s)
	require.NotNil(t, first.Metrics.Change)
	require.Eventually(t, func() bool { return analytics.reportCalls.Load() == 2 }, time.Second, time.Millisecond)

	h.watcher.emit("acc2", 500) // -50%, queued behind the running report
	h.watcher.emit("acc2", 505)
	for _, want := range []float64{500, 505} {
		f := next(t, s)
		require.NotNil(t, f.Metrics.Change)
		assert.Equal(t, want, f.Metrics.Change.Balance)
		assert.Nil(t, f.Metrics.Report)
	}

	close(analytics.reportGate)
	report := next(t, s)
	assert.Equal(t, uint64(4), report.Seq)
	require.NotNil(t, report.Metrics.Report)
}

func TestPush_CoalescesPastBacklog(t *testing.T) {
	g := newTokenGroup(bonk)
	defer g.cancel()

	for i := 0; i < eventBuffer; i++ {
		g.push(domain.AccountChange{Account: fmt.Sprintf("acc%d", i%2), Balance: float64(i)})
	}
	g.push(domain.AccountChange{Account: "acc0", Balance: 9999})
	require.Len(t, g.pending, eventBuffer)
	assert.Equal(t, 9999.0, g.pending[eventBuffer-2].Balance)
	assert.Equal(t, float64(eventBuffer-1), g.pending[eventBuffer-1].Balance)

	g.push(domain.AccountChange{Account: "acc7", Balance: 1})
	assert.Len(t, g.pending, eventBuffer+1)

	assert.Len(t, g.drain(), eventBuffer+1)
	assert.Empty(t, g.pending)
}

func TestSlowConsumerIsClosed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 2
	h := newHarness(t, cfg)

	slow := h.open(t, "slow", 2) // queue already full with the initial frames
	fast := h.open(t, "fast", 2)
	drain(t, fast, 2)

	h.watcher.emit("acc1", 5010)

	f := next(t, fast)
	assert.Equal(t, FrameTokenUpdate, f.Type)

	select {
	case <-slow.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("slow session not closed")
	}
	require.Eventually(t, func() bool {
		_, ok := h.m.Session("slow")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, StateActive, fast.State())
	assert.Equal(t, 2, h.m.Stats().Watches)
}

func TestHeartbeat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMissedHeartbeats = 2
	h := newHarness(t, cfg)

	alive := h.open(t, "alive", 2)
	silent := h.open(t, "silent", 2)
	drain(t, alive, 2)
	drain(t, silent, 2)

	for i := 0; i < 3; i++ {
		h.m.heartbeat()
		assert.Equal(t, FramePing, next(t, alive).Type)
		require.NoError(t, h.m.Pong("alive"))
	}

	assert.Equal(t, StateActive, alive.State())
	assert.Equal(t, StateClosed, silent.State())
	_, ok := h.m.Session("silent")
	assert.False(t, ok)
}

func TestSend(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	s := h.open(t, "s1", 2)
	drain(t, s, 2)

	require.NoError(t, h.m.Send("s1", Frame{Type: FramePong}))
	f := next(t, s)
	assert.Equal(t, FramePong, f.Type)
	assert.False(t, f.Timestamp.IsZero())

	assert.ErrorIs(t, h.m.Send("missing", Frame{Type: FramePong}), ErrSessionNotFound)
}

func TestRun_ClosesSessionsOnShutdown(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	s := h.open(t, "s1", 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.m.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
	}
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, int64(2), h.watcher.stops.Load())
}

func TestRelativeChange(t *testing.T) {
	assert.Equal(t, 1.0, relativeChange(0, 5))
	assert.Equal(t, 0.0, relativeChange(0, 0))
	assert.InDelta(t, 0.5, relativeChange(100, 50), 1e-12)
	assert.InDelta(t, 0.1, relativeChange(100, 110), 1e-12)
}
