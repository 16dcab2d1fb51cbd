// Package gateway terminates client websocket connections: it authenticates
// the upgrade request, registers the session, and turns inbound frames into
// ChatService calls.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/safechat/internal/common"
	"github.com/dmitrijs2005/safechat/internal/logging"
	"github.com/dmitrijs2005/safechat/internal/server/auth"
	"github.com/dmitrijs2005/safechat/internal/server/config"
	"github.com/dmitrijs2005/safechat/internal/server/events"
	"github.com/dmitrijs2005/safechat/internal/server/models"
	"github.com/dmitrijs2005/safechat/internal/server/registry"
	"github.com/dmitrijs2005/safechat/internal/server/services"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 1 << 20
)

// Verifier resolves a bearer token to a user id.
type Verifier interface {
	Verify(token string) (string, error)
}

// Chat is the part of services.ChatService the gateway drives.
type Chat interface {
	Send(ctx context.Context, senderID string, in services.SendInput) (*models.Message, error)
	UpdateStatus(ctx context.Context, messageID, requesterID string, status models.Status) (*models.Message, error)
}

// Sessions is the part of the connection registry the gateway needs.
type Sessions interface {
	Register(userID string, h registry.Handle) (string, bool)
	Unregister(userID, token string) bool
	Broadcast(ev events.Event) int
}

type Gateway struct {
	verifier    Verifier
	chat        Chat
	sessions    Sessions
	upgrader    websocket.Upgrader
	idleTimeout time.Duration
	sendBuffer  int
	log         logging.Logger

	mu   sync.Mutex
	live map[*session]struct{}
	wg   sync.WaitGroup
}

func New(v Verifier, chat Chat, sessions Sessions, cfg *config.Config, log logging.Logger) *Gateway {
	return &Gateway{
		verifier: v,
		chat:     chat,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Token auth; origin is not checked.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		idleTimeout: cfg.IdleTimeout,
		sendBuffer:  cfg.SendBuffer,
		log:         log.With("module", "gateway"),
		live:        make(map[*session]struct{}),
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := g.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		g.log.Warn(ctx, "rejected connection", "remote", r.RemoteAddr, "error", err)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn(ctx, "upgrade failed", "user_id", userID, "error", err)
		return
	}

	s := newSession(conn, userID, g.sendBuffer)
	if !g.track(s) {
		s.close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer g.untrack(s)

	g.serve(ctx, s)
}

func (g *Gateway) serve(ctx context.Context, s *session) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthenticated)) {
		return
	}
	token, cameOnline := g.sessions.Register(s.userID, s)

	log := g.log.With("user_id", s.userID, "session", token)
	log.Info(ctx, "session opened")

	if cameOnline {
		g.sessions.Broadcast(events.UserOnline(s.userID))
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(s, log)
	}()

	g.readLoop(ctx, s, log)

	s.close(websocket.CloseNormalClosure, "")
	<-writerDone

	if g.sessions.Unregister(s.userID, token) {
		g.sessions.Broadcast(events.UserOffline(s.userID))
	}
	log.Info(ctx, "session closed")
}

func (g *Gateway) readLoop(ctx context.Context, s *session, log logging.Logger) {
	s.conn.SetReadLimit(maxFrameSize)
	g.touch(s)
	s.conn.SetPongHandler(func(string) error {
		g.touch(s)
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Warn(ctx, "read failed", "error", err)
			}
			return
		}
		// Frames buffered before close must not reach the chat service.
		if s.closed() {
			return
		}
		g.touch(s)
		g.handleFrame(ctx, s, data, log)
	}
}

func (g *Gateway) touch(s *session) {
	if g.idleTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(g.idleTimeout))
	}
}

func (g *Gateway) writeLoop(s *session, log logging.Logger) {
	var ping <-chan time.Time
	if g.idleTimeout > 0 {
		ticker := time.NewTicker(g.idleTimeout * 9 / 10)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-s.done:
			return
		case ev := <-s.out:
			b, err := ev.Encode()
			if err != nil {
				log.Error(context.Background(), "encode failed", "event", ev.Type, "error", err)
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				s.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ping:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.close(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

func (g *Gateway) handleFrame(ctx context.Context, s *session, data []byte, log logging.Logger) {
	if s.State() != StateAuthenticated {
		return
	}
	env, err := events.Decode(data)
	if err != nil {
		_ = s.Send(events.ErrorEvent(err, ""))
		return
	}
	log.Debug(ctx, "frame received", "kind", env.MessageType)

	switch env.MessageType {
	case events.TypeSendMessage:
		var p events.SendMessage
		if err := events.DecodeData(env, &p); err != nil {
			_ = s.Send(events.ErrorEvent(err, ""))
			return
		}
		_, err := g.chat.Send(ctx, s.userID, services.SendInput{
			MessageID:        p.MessageID,
			ReceiverID:       p.ReceiverID,
			Type:             p.Type,
			EncryptedContent: p.EncryptedContent,
			IV:               p.IV,
		})
		if err != nil {
			g.reportError(ctx, s, err, p.MessageID, log)
		}

	case events.TypeUpdateStatus:
		var p events.UpdateStatus
		if err := events.DecodeData(env, &p); err != nil {
			_ = s.Send(events.ErrorEvent(err, ""))
			return
		}
		status, ok := models.ParseStatus(p.Status)
		if !ok {
			g.reportError(ctx, s, fmt.Errorf("%w: unknown status %q", common.ErrorValidation, p.Status), p.MessageID, log)
			return
		}
		if _, err := g.chat.UpdateStatus(ctx, p.MessageID, s.userID, status); err != nil {
			g.reportError(ctx, s, err, p.MessageID, log)
		}

	case events.TypePing:
		_ = s.Send(events.Pong())

	default:
		log.Warn(ctx, "unknown message kind ignored", "kind", env.MessageType)
	}
}

func (g *Gateway) reportError(ctx context.Context, s *session, err error, ref string, log logging.Logger) {
	if errors.Is(err, common.ErrorDeliveryFailed) || events.CodeFor(err) == events.CodeInternal {
		log.Error(ctx, "request failed", "ref", ref, "error", err)
	} else {
		log.Debug(ctx, "request rejected", "ref", ref, "error", err)
	}
	_ = s.Send(events.ErrorEvent(err, ref))
}

func (g *Gateway) track(s *session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.live == nil {
		return false
	}
	g.live[s] = struct{}{}
	g.wg.Add(1)
	return true
}

func (g *Gateway) untrack(s *session) {
	g.mu.Lock()
	if g.live != nil {
		delete(g.live, s)
	}
	g.mu.Unlock()
	g.wg.Done()
}

// Shutdown closes every live session and waits for their cleanup until ctx
// ends. New connections are refused afterwards.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	live := g.live
	g.live = nil
	g.mu.Unlock()

	for s := range live {
		s.close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
