// Package wsloop drives a single open WebSocket connection: three
// cooperative sub-tasks (heartbeat, outbound, inbound) run
// concurrently against a shared stop signal, with a single guaranteed
// teardown on every exit path (spec §4.5's "Per-connection Loop").
package wsloop

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/chatforge/realtime/internal/errs"
	"github.com/chatforge/realtime/internal/logging"
	"github.com/chatforge/realtime/internal/models"
	"github.com/chatforge/realtime/internal/service/wsservice"
	"github.com/chatforge/realtime/internal/store"
	"github.com/gorilla/websocket"
)

const (
	heartbeatInterval = 30 * time.Second
	heartbeatBackoff  = 5 * time.Second
	writeWait         = 10 * time.Second
)

// clientFrame is the wire shape of a frame sent by the client.
type clientFrame struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
	Username string `json:"username"`
}

const (
	frameTypePong        = "PONG"
	frameTypeUserTyping  = "USER_TYPING"
)

// Loop owns a single connection's lifecycle.
type Loop struct {
	conn *websocket.Conn
	sess *models.WSSession
	ws   *wsservice.Service
	sub  store.Subscription
	log  *logging.Logger

	stopOnce  sync.Once
	stopCh    chan struct{}
	closeOnce sync.Once
}

// New builds a Loop for an already-upgraded connection, subscribed to
// the given pub/sub subscription.
func New(conn *websocket.Conn, sess *models.WSSession, ws *wsservice.Service, sub store.Subscription, log *logging.Logger) *Loop {
	return &Loop{
		conn:   conn,
		sess:   sess,
		ws:     ws,
		sub:    sub,
		log:    log,
		stopCh: make(chan struct{}),
	}
}

// Run blocks until the connection is torn down, either by a transport
// failure, a client disconnect, or ctx cancellation. Teardown always
// runs before Run returns.
func (l *Loop) Run(ctx context.Context) {
	defer l.teardown(ctx)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); l.heartbeat(ctx) }()
	go func() { defer wg.Done(); l.outbound(ctx) }()
	go func() { defer wg.Done(); l.inbound(ctx) }()

	select {
	case <-ctx.Done():
		l.stop(ctx)
	case <-l.stopCh:
	}
	wg.Wait()
}

// stop signals every subtask to exit and closes the underlying
// connection immediately, so a subtask blocked in conn.ReadMessage()
// (inbound has no read deadline) unblocks instead of wedging
// wg.Wait() forever. teardown's own close is idempotent against this
// one via the same closeOnce.
func (l *Loop) stop(ctx context.Context) {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.closeConn(ctx)
	})
}

func (l *Loop) closeConn(ctx context.Context) {
	l.closeOnce.Do(func() {
		if err := l.conn.Close(); err != nil {
			l.log.Error(ctx, "failed to close websocket connection: %v", err)
		}
	})
}

// heartbeat calls update_ping every 30s. A session-gone or transport
// error stops the loop; any other failure backs off 5s and retries.
func (l *Loop) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			l.stop(ctx)
			return
		case <-ticker.C:
			err := l.ws.UpdatePing(ctx, l.sess.ID, l.sess.UserID)
			if err == nil {
				continue
			}
			if errs.KindOf(err) == errs.KindNotFound {
				l.log.Info(ctx, "ws session gone, stopping loop session_id=%s", l.sess.ID)
				l.stop(ctx)
				return
			}
			if isTransportError(err) {
				l.stop(ctx)
				return
			}
			l.log.Error(ctx, "heartbeat update_ping failed, backing off: %v", err)
			select {
			case <-time.After(heartbeatBackoff):
			case <-l.stopCh:
				return
			}
		}
	}
}

// outbound forwards every pub/sub payload verbatim to the socket.
func (l *Loop) outbound(ctx context.Context) {
	for {
		select {
		case <-l.stopCh:
			return
		case msg, ok := <-l.sub.Channel():
			if !ok {
				l.stop(ctx)
				return
			}
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, msg.Payload); err != nil {
				l.log.Error(ctx, "failed to write to socket, stopping loop: %v", err)
				l.stop(ctx)
				return
			}
		}
	}
}

// inbound decodes client frames: PONG is a no-op, USER_TYPING invokes
// the typing indicator, unknown types are logged and ignored.
func (l *Loop) inbound(ctx context.Context) {
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		_, raw, err := l.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.log.Error(ctx, "websocket read failed, stopping loop: %v", err)
			}
			l.stop(ctx)
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			l.log.Warn(ctx, "failed to decode client frame: %v", err)
			continue
		}

		switch frame.Type {
		case frameTypePong:
		case frameTypeUserTyping:
			if err := l.ws.TypingIndicator(ctx, l.sess.RoomID, l.sess.UserID, frame.Username, frame.IsTyping); err != nil {
				l.log.Warn(ctx, "typing indicator failed: %v", err)
			}
		default:
			l.log.Warn(ctx, "unknown client frame type: %s", frame.Type)
		}
	}
}

// teardown always runs: it calls disconnect_from_room, unsubscribes,
// and closes the socket. Errors are logged, never propagated.
func (l *Loop) teardown(ctx context.Context) {
	l.stop(ctx)

	if err := l.ws.DisconnectFromRoom(ctx, l.sess.ID, l.sess.UserID); err != nil {
		l.log.Error(ctx, "disconnect_from_room failed during teardown: %v", err)
	}
	if err := l.sub.Close(); err != nil {
		l.log.Error(ctx, "failed to close pub/sub subscription during teardown: %v", err)
	}
	l.closeConn(ctx)
}

func isTransportError(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	return errors.Is(err, websocket.ErrCloseSent)
}
