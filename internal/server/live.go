package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/logger"
	"solana-token-analytics/internal/subscription"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512
)

// clientMessage is any inbound live channel message. The first one carries
// the subscription parameters.
type clientMessage struct {
	Type        string `json:"type,omitempty"`
	MaxAccounts *int   `json:"max_accounts_to_monitor,omitempty"`
}

// handleLive upgrades the connection and runs one live session:
// handshake on the first message, then a writer draining the session queue
// and a reader answering heartbeats until either side goes away.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.live == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: CodeUnavailable, Message: "live channel disabled"})
		return
	}
	token := chi.URLParam(r, "address")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade failed", "token", token, "error", err)
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	log := s.log.With("session", id, "token", token)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout))
	var hello clientMessage
	if err := conn.ReadJSON(&hello); err != nil {
		log.Debugw("no subscription parameters received", "error", err)
		s.closeWithError(conn, CodeInvalidParameter, "expected subscription parameters")
		return
	}
	maxAccounts := domain.DefaultAccountsToMonitor
	if hello.MaxAccounts != nil {
		maxAccounts = *hello.MaxAccounts
	}

	if _, err := s.live.Handshake(id, token, maxAccounts); err != nil {
		_, code := errorStatus(err)
		s.closeWithError(conn, code, err.Error())
		return
	}
	defer s.live.Unsubscribe(id)

	if err := s.live.Subscribe(r.Context(), id); err != nil {
		log.Warnw("subscribe failed", "error", err)
		_, code := errorStatus(err)
		s.closeWithError(conn, code, err.Error())
		return
	}
	sess, ok := s.live.Session(id)
	if !ok {
		return
	}

	_ = conn.SetReadDeadline(time.Time{})
	conn.SetPongHandler(func(string) error {
		_ = s.live.Pong(id)
		return nil
	})

	go s.writeLoop(conn, sess)
	s.readLoop(conn, id, log)
}

// writeLoop is the only writer of data frames on conn.
func (s *Server) writeLoop(conn *websocket.Conn, sess *subscription.Session) {
	defer conn.Close()
	for {
		select {
		case f := <-sess.Frames():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		case <-sess.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (s *Server) readLoop(conn *websocket.Conn, id string, log *logger.Logger) {
	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debugw("websocket read error", "error", err)
			}
			return
		}

		// Any inbound message proves the client is alive.
		if err := s.live.Pong(id); err != nil {
			return
		}
		if msg.Type == subscription.FramePing {
			if err := s.live.Send(id, subscription.Frame{Type: subscription.FramePong}); err != nil {
				if errors.Is(err, subscription.ErrSessionClosed) || errors.Is(err, subscription.ErrSlowConsumer) {
					return
				}
				log.Debugw("failed to answer ping", "error", err)
			}
		}
	}
}

// closeWithError sends an error frame followed by a policy violation close.
// Only used before the writer starts.
func (s *Server) closeWithError(conn *websocket.Conn, code, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(subscription.Frame{
		Type:      subscription.FrameError,
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code),
		time.Now().Add(writeWait))
}
