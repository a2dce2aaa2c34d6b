package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-token-analytics/internal/analytics"
	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/gateway"
	"solana-token-analytics/internal/subscription"
)

const bonk = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

type fakeAnalyzer struct {
	mu       sync.Mutex
	calls    int
	lastReq  analytics.Request
	lastBody []domain.MetricKind
	err      error
}

func (a *fakeAnalyzer) Analyze(_ context.Context, req analytics.Request) (*domain.AnalyticsReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.lastReq = req
	if a.err != nil {
		return nil, a.err
	}
	return &domain.AnalyticsReport{Token: req.Token, Meta: domain.ReportMeta{SuccessRate: 1}}, nil
}

func (a *fakeAnalyzer) AnalyzeBatch(_ context.Context, tokens []string, kinds []domain.MetricKind) (map[string]domain.BatchResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.lastBody = kinds
	if a.err != nil {
		return nil, a.err
	}
	out := make(map[string]domain.BatchResult, len(tokens))
	for _, t := range tokens {
		out[t] = domain.BatchResult{Error: "token not found"}
	}
	return out, nil
}

type fakeUpstream struct{ err error }

func (u fakeUpstream) Health(context.Context) error { return u.err }

func (u fakeUpstream) BreakerStates() map[string]gateway.BreakerState {
	return map[string]gateway.BreakerState{"rpc": gateway.BreakerState("open")}
}

type fakeCache struct{}

func (fakeCache) Len() int              { return 7 }
func (fakeCache) Invalidate(string) int { return 0 }

type quietWatcher struct{}

func (quietWatcher) Watch(context.Context, string, string) (<-chan domain.AccountChange, func(), error) {
	ch := make(chan domain.AccountChange)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }, nil
}

type liveAnalytics struct{}

func (liveAnalytics) Holders(_ context.Context, token string, _ int) (*domain.HolderSnapshot, error) {
	return &domain.HolderSnapshot{
		Token: token,
		Holders: []domain.Holder{
			{Account: "acc1", Balance: 5000, Rank: 1},
			{Account: "acc2", Balance: 1000, Rank: 2},
			{Account: "acc3", Balance: 100, Rank: 3},
		},
	}, nil
}

func (liveAnalytics) ConcentrationFor(context.Context, string, []domain.Holder) (*domain.ConcentrationMetric, error) {
	return &domain.ConcentrationMetric{}, nil
}

func (liveAnalytics) Report(_ context.Context, token string) (*domain.AnalyticsReport, error) {
	return &domain.AnalyticsReport{Token: token}, nil
}

func newTestServer(t *testing.T, analyzer *fakeAnalyzer, upstream Upstream) (*httptest.Server, *subscription.Manager) {
	t.Helper()
	live := subscription.NewManager(quietWatcher{}, liveAnalytics{}, fakeCache{}, subscription.DefaultConfig())
	t.Cleanup(live.CloseAll)

	srv := New(Options{
		Analytics:        analyzer,
		Live:             live,
		Upstream:         upstream,
		Cache:            fakeCache{},
		HandshakeTimeout: 2 * time.Second,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, live
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, &fakeAnalyzer{}, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decode[HealthResponse](t, resp).Status)
}

func TestHealth_Degraded(t *testing.T) {
	ts, _ := newTestServer(t, &fakeAnalyzer{}, fakeUpstream{err: errors.New("rpc down")})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	body := decode[HealthResponse](t, resp)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "rpc down", body.Error)
	assert.Equal(t, gateway.BreakerState("open"), body.Breakers["rpc"])
}

func TestAnalytics(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	ts, _ := newTestServer(t, analyzer, nil)

	resp, err := http.Get(ts.URL + "/api/v1/tokens/" + bonk + "/analytics?include_real_time=true&max_accounts_to_monitor=5")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	report := decode[domain.AnalyticsReport](t, resp)
	assert.Equal(t, bonk, report.Token)
	assert.Equal(t, analytics.Request{Token: bonk, IncludeRealTime: true, MaxAccounts: 5}, analyzer.lastReq)
}

func TestAnalytics_Errors(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		err        error
		wantStatus int
		wantCode   string
		wantCalls  int
	}{
		{"non-numeric accounts", "max_accounts_to_monitor=abc", nil, http.StatusBadRequest, CodeInvalidParameter, 0},
		{"non-boolean real time", "include_real_time=maybe", nil, http.StatusBadRequest, CodeInvalidParameter, 0},
		{"validation", "", fmt.Errorf("%w: bad address", domain.ErrValidation), http.StatusBadRequest, CodeInvalidParameter, 1},
		{"not found", "", domain.ErrTokenNotFound, http.StatusNotFound, CodeTokenNotFound, 1},
		{"deadline", "", context.DeadlineExceeded, http.StatusServiceUnavailable, CodeUnavailable, 1},
		{"internal", "", errors.New("boom"), http.StatusInternalServerError, CodeInternal, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzer := &fakeAnalyzer{err: tt.err}
			ts, _ := newTestServer(t, analyzer, nil)

			resp, err := http.Get(ts.URL + "/api/v1/tokens/" + bonk + "/analytics?" + tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, resp).Error)
			assert.Equal(t, tt.wantCalls, analyzer.calls)
		})
	}
}

func TestBatch(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	ts, _ := newTestServer(t, analyzer, nil)

	body := `{"tokens":["` + bonk + `"],"metrics":["market_cap","concentration"]}`
	resp, err := http.Post(ts.URL+"/api/v1/analytics/batch", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[BatchResponse](t, resp)
	require.Contains(t, out.Results, bonk)
	assert.Equal(t, "token not found", out.Results[bonk].Error)
	assert.Equal(t, []domain.MetricKind{domain.KindMarketCap, domain.KindConcentration}, analyzer.lastBody)
	assert.False(t, out.Timestamp.IsZero())
}

func TestBatch_Errors(t *testing.T) {
	t.Run("malformed body", func(t *testing.T) {
		analyzer := &fakeAnalyzer{}
		ts, _ := newTestServer(t, analyzer, nil)

		resp, err := http.Post(ts.URL+"/api/v1/analytics/batch", "application/json", bytes.NewBufferString("{"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
		assert.Equal(t, 0, analyzer.calls)
	})

	t.Run("rejected by analyzer", func(t *testing.T) {
		analyzer := &fakeAnalyzer{err: fmt.Errorf("%w: unknown metric", domain.ErrValidation)}
		ts, _ := newTestServer(t, analyzer, nil)

		resp, err := http.Post(ts.URL+"/api/v1/analytics/batch", "application/json", strings.NewReader(`{"tokens":["x"],"metrics":["nope"]}`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, CodeInvalidParameter, decode[ErrorResponse](t, resp).Error)
	})
}

func TestStats(t *testing.T) {
	ts, _ := newTestServer(t, &fakeAnalyzer{}, nil)

	resp, err := http.Get(ts.URL + "/api/v1/stats")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, StatsResponse{CacheEntries: 7}, decode[StatsResponse](t, resp))
}

func dialLive(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/tokens/" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) subscription.Frame {
	t.Helper()
	var f subscription.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestLive_InvalidParameter(t *testing.T) {
	ts, live := newTestServer(t, &fakeAnalyzer{}, nil)
	conn := dialLive(t, ts, bonk)

	require.NoError(t, conn.WriteJSON(map[string]int{"max_accounts_to_monitor": 1}))

	f := readFrame(t, conn)
	assert.Equal(t, subscription.FrameError, f.Type)
	assert.Equal(t, CodeInvalidParameter, f.Code)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	assert.Equal(t, 0, live.Stats().Sessions)
}

func TestLive_Subscribe(t *testing.T) {
	ts, live := newTestServer(t, &fakeAnalyzer{}, nil)
	conn := dialLive(t, ts, bonk)

	require.NoError(t, conn.WriteJSON(map[string]int{"max_accounts_to_monitor": 2}))

	initial := readFrame(t, conn)
	assert.Equal(t, subscription.FrameInitialData, initial.Type)
	require.NotNil(t, initial.Report)
	assert.Equal(t, bonk, initial.Report.Token)

	confirmed := readFrame(t, conn)
	assert.Equal(t, subscription.FrameSubscribed, confirmed.Type)
	assert.Equal(t, []string{"acc1", "acc2"}, confirmed.Accounts)
	assert.Equal(t, subscription.Stats{Sessions: 1, Tokens: 1, Watches: 2}, live.Stats())

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, subscription.FramePong, readFrame(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool {
		return live.Stats() == subscription.Stats{}
	}, 2*time.Second, 10*time.Millisecond)
}
