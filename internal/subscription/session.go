package subscription

import (
	"sync"
	"sync/atomic"
	"time"

	"solana-token-analytics/internal/domain"
)

// State is the lifecycle state of a session.
type State int32

// Session states. Closed is terminal.
const (
	StateHandshaking State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Frame types
const (
	FrameInitialData = "initial_data"
	FrameSubscribed  = "subscription_confirmed"
	FrameTokenUpdate = "token_update"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameError       = "error"
)

// Frame is one outbound live channel message.
type Frame struct {
	Type        string                  `json:"type"`
	Token       string                  `json:"token,omitempty"`
	Seq         uint64                  `json:"seq,omitempty"` // per-token event sequence
	MaxAccounts int                     `json:"max_accounts_to_monitor,omitempty"`
	Accounts    []string                `json:"accounts,omitempty"`
	Metrics     *UpdateMetrics          `json:"metrics,omitempty"` // token_update only
	Report      *domain.AnalyticsReport `json:"data,omitempty"`    // initial_data only
	Code        string                  `json:"code,omitempty"`
	Message     string                  `json:"message,omitempty"`
	Timestamp   time.Time               `json:"timestamp"`
}

// UpdateMetrics is the payload of a token_update frame: either a balance
// change with the concentration it produced, or a recomputed report.
type UpdateMetrics struct {
	Change        *domain.AccountChange       `json:"change,omitempty"`
	Concentration *domain.ConcentrationMetric `json:"concentration,omitempty"`
	Report        *domain.AnalyticsReport     `json:"report,omitempty"`
}

// Session is one client subscription to a token's live channel.
type Session struct {
	ID          string
	Token       string
	MaxAccounts int
	CreatedAt   time.Time

	accounts []string // watched accounts, guarded by the token group lock
	state    atomic.Int32
	missed   atomic.Int32
	queue    chan Frame

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id, token string, maxAccounts, queueSize int, now time.Time) *Session {
	return &Session{
		ID:          id,
		Token:       token,
		MaxAccounts: maxAccounts,
		CreatedAt:   now,
		queue:       make(chan Frame, queueSize),
		done:        make(chan struct{}),
	}
}

// Frames returns the outbound queue. It is never closed; stop reading on Done.
func (s *Session) Frames() <-chan Frame {
	return s.queue
}

// Done is closed when the session leaves the Active state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// beginClose moves the session to Closing from any non-terminal state.
// Reports whether this call performed the transition.
func (s *Session) beginClose() bool {
	for {
		cur := s.State()
		if cur == StateClosing || cur == StateClosed {
			return false
		}
		if s.transition(cur, StateClosing) {
			s.closeOnce.Do(func() { close(s.done) })
			return true
		}
	}
}

// enqueue adds f to the queue without blocking. False means the queue is full.
func (s *Session) enqueue(f Frame) bool {
	select {
	case s.queue <- f:
		return true
	default:
		return false
	}
}
