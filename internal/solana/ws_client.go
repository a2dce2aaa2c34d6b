package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"solana-token-analytics/internal/logger"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay and MaxReconnectDelay bound the exponential redial backoff.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription confirmation.
	SubscribeTimeout time.Duration
	// Commitment used for account subscriptions.
	Commitment string
	// Logger receives connection errors. Nil discards them.
	Logger *logger.Logger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
		Commitment:        "finalized",
	}
}

// accountSub tracks one caller subscription across reconnects.
type accountSub struct {
	handle *AccountSubscription
	ch     chan AccountNotification
	remote int64
}

// WSClientImpl implements WSClient using gorilla/websocket.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	log      *logger.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64
	localID   atomic.Uint64

	// subs maps local handle ID to subscription; remote maps server subscription ID to the same entry
	subs   map[uint64]*accountSub
	remote map[int64]*accountSub
	subsMu sync.RWMutex

	// pendingSubs maps request ID to channel waiting for subscription ID
	pendingSubs   map[uint64]chan int64
	pendingSubsMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	c := &WSClientImpl{
		endpoint:    endpoint,
		config:      cfg,
		log:         log,
		subs:        make(map[uint64]*accountSub),
		remote:      make(map[int64]*accountSub),
		pendingSubs: make(map[uint64]chan int64),
		done:        make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

var errClientClosed = errors.New("client closed")

// connect dials the endpoint and installs the new connection.
func (c *WSClientImpl) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.closed.Load() {
		conn.Close()
		return backoff.Permanent(errClientClosed)
	}
	c.conn = conn
	return nil
}

// SubscribeAccount subscribes to parsed token account updates.
func (c *WSClientImpl) SubscribeAccount(ctx context.Context, account string) (*AccountSubscription, error) {
	remoteID, err := c.subscribeAccountInternal(ctx, account)
	if err != nil {
		return nil, err
	}

	ch := make(chan AccountNotification, 256)
	handle := &AccountSubscription{
		Account: account,
		C:       ch,
		local:   c.localID.Add(1),
		done:    make(chan struct{}),
	}
	sub := &accountSub{handle: handle, ch: ch, remote: remoteID}

	c.subsMu.Lock()
	c.subs[handle.local] = sub
	c.remote[remoteID] = sub
	c.subsMu.Unlock()

	return handle, nil
}

// Unsubscribe cancels a subscription and notifies the node.
func (c *WSClientImpl) Unsubscribe(handle *AccountSubscription) {
	if handle == nil {
		return
	}

	c.subsMu.Lock()
	sub, ok := c.subs[handle.local]
	if ok {
		delete(c.subs, handle.local)
		if c.remote[sub.remote] == sub {
			delete(c.remote, sub.remote)
		}
		handle.Cancel()
	}
	c.subsMu.Unlock()

	if !ok || c.closed.Load() {
		return
	}

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "accountUnsubscribe",
		Params:  []interface{}{sub.remote},
	}
	if err := c.write(req); err != nil {
		c.log.Debugw("account unsubscribe failed", "account", handle.Account, "error", err)
	}
}

// ActiveSubscriptions returns the number of live account subscriptions.
func (c *WSClientImpl) ActiveSubscriptions() int {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return len(c.subs)
}

// Close closes the WebSocket connection.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.subsMu.Lock()
	for id, sub := range c.subs {
		sub.handle.Cancel()
		delete(c.subs, id)
	}
	c.remote = make(map[int64]*accountSub)
	c.subsMu.Unlock()

	// Close pending subscription channels
	c.pendingSubsMu.Lock()
	for id, ch := range c.pendingSubs {
		close(ch)
		delete(c.pendingSubs, id)
	}
	c.pendingSubsMu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *WSClientImpl) write(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteJSON(v)
}

// readLoop dispatches incoming messages until Close. A read error replaces
// the connection via redial and restores subscriptions.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err == nil {
			c.handleMessage(message)
			continue
		}
		if c.closed.Load() {
			return
		}

		c.log.Warnw("websocket read failed, reconnecting", "error", err)
		if err := c.redial(); err != nil {
			return
		}
		// confirmations arrive through this loop, so resubscribe concurrently
		go c.resubscribeAll()
	}
}

// redial closes the current connection and dials again with exponential
// backoff until it succeeds or the client is closed.
func (c *WSClientImpl) redial() error {
	c.connMu.Lock()
	c.conn.Close()
	c.connMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.ReconnectDelay
	b.MaxInterval = c.config.MaxReconnectDelay
	b.MaxElapsedTime = 0

	dial := func() error {
		dialCtx, dialCancel := context.WithTimeout(ctx, 30*time.Second)
		defer dialCancel()
		return c.connect(dialCtx)
	}
	notify := func(err error, next time.Duration) {
		c.log.Warnw("websocket reconnect failed", "error", err, "retry_in", next)
	}
	return backoff.RetryNotify(dial, backoff.WithContext(b, ctx), notify)
}

// resubscribeAll re-registers every live subscription after reconnect.
func (c *WSClientImpl) resubscribeAll() {
	c.subsMu.RLock()
	subs := make([]*accountSub, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subsMu.RUnlock()

	for _, sub := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		newID, err := c.subscribeAccountInternal(ctx, sub.handle.Account)
		cancel()

		if err != nil {
			c.log.Warnw("account resubscribe failed", "account", sub.handle.Account, "error", err)
			continue
		}

		c.subsMu.Lock()
		if _, live := c.subs[sub.handle.local]; live {
			delete(c.remote, sub.remote)
			sub.remote = newID
			c.remote[newID] = sub
		}
		c.subsMu.Unlock()
	}
}

// subscribeAccountInternal sends accountSubscribe and waits for the subscription ID.
func (c *WSClientImpl) subscribeAccountInternal(ctx context.Context, account string) (int64, error) {
	if c.closed.Load() {
		return 0, errClientClosed
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "accountSubscribe",
		Params: []interface{}{
			account,
			map[string]string{"encoding": "jsonParsed", "commitment": c.config.Commitment},
		},
	}

	confirmCh := make(chan int64, 1)
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = confirmCh
	c.pendingSubsMu.Unlock()

	dropPending := func() {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, reqID)
		c.pendingSubsMu.Unlock()
	}

	if err := c.write(req); err != nil {
		dropPending()
		return 0, fmt.Errorf("write subscribe: %w", err)
	}

	timeout := c.config.SubscribeTimeout
	select {
	case subID, ok := <-confirmCh:
		if !ok {
			return 0, fmt.Errorf("subscription rejected for %s", account)
		}
		return subID, nil
	case <-time.After(timeout):
		dropPending()
		return 0, fmt.Errorf("subscription timeout after %s", timeout)
	case <-c.done:
		return 0, errClientClosed
	case <-ctx.Done():
		dropPending()
		return 0, ctx.Err()
	}
}

// handleMessage processes incoming WebSocket message.
func (c *WSClientImpl) handleMessage(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return
	}

	switch {
	case env.Method == "accountNotification" && env.Params != nil:
		c.handleAccountNotification(env.Params)
	case env.Error != nil:
		c.log.Warnw("websocket error response", "id", env.ID, "code", env.Error.Code, "message", env.Error.Message)
		c.failPending(env.ID)
	case env.ID != 0 && len(env.Result) > 0:
		var subID int64
		if err := json.Unmarshal(env.Result, &subID); err == nil {
			c.handleSubscribeResponse(env.ID, subID)
		}
	}
}

// handleSubscribeResponse handles subscription confirmation.
func (c *WSClientImpl) handleSubscribeResponse(reqID uint64, subID int64) {
	c.pendingSubsMu.Lock()
	ch, ok := c.pendingSubs[reqID]
	if ok {
		delete(c.pendingSubs, reqID)
	}
	c.pendingSubsMu.Unlock()

	if ok {
		select {
		case ch <- subID:
		default:
		}
	}
}

func (c *WSClientImpl) failPending(reqID uint64) {
	c.pendingSubsMu.Lock()
	ch, ok := c.pendingSubs[reqID]
	if ok {
		delete(c.pendingSubs, reqID)
		close(ch)
	}
	c.pendingSubsMu.Unlock()
}

// handleAccountNotification dispatches an account update to its subscriber.
func (c *WSClientImpl) handleAccountNotification(params *wsNotificationParams) {
	c.subsMu.RLock()
	sub, ok := c.remote[params.Subscription]
	c.subsMu.RUnlock()
	if !ok {
		return
	}

	notif := AccountNotification{Account: sub.handle.Account, Closed: true}
	if params.Result.Context != nil {
		notif.Slot = params.Result.Context.Slot
	}

	var data wsAccountData
	if err := json.Unmarshal(params.Result.Value.Data, &data); err == nil && data.Parsed != nil {
		info := data.Parsed.Info
		ui, err := info.TokenAmount.value()
		if err == nil {
			notif.Mint = info.Mint
			notif.Owner = info.Owner
			notif.UIAmount = ui
			notif.Closed = false
		}
	}

	// Block until delivered; the buffer absorbs bursts
	select {
	case sub.ch <- notif:
	case <-sub.handle.done:
	case <-c.done:
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A dead connection is handled by the reader's reconnect
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsEnvelope struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      uint64                `json:"id"`
	Result  json.RawMessage       `json:"result"`
	Error   *RPCError             `json:"error"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext     `json:"context"`
	Value   wsAccountValue `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsAccountValue struct {
	Lamports uint64          `json:"lamports"`
	Owner    string          `json:"owner"`
	Data     json.RawMessage `json:"data"`
}

type wsAccountData struct {
	Program string `json:"program"`
	Parsed  *struct {
		Type string `json:"type"`
		Info struct {
			Mint        string        `json:"mint"`
			Owner       string        `json:"owner"`
			TokenAmount uiTokenAmount `json:"tokenAmount"`
		} `json:"info"`
	} `json:"parsed"`
}

var _ WSClient = (*WSClientImpl)(nil)
