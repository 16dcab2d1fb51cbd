package gateway

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/safechat/internal/server/events"
	"github.com/gorilla/websocket"
)

// State is the lifecycle of one websocket session.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	errSessionClosed = errors.New("session closed")
	errQueueFull     = errors.New("outbound queue full")
)

// session is the registry handle for one connection. Send only enqueues;
// the write loop owns the socket writes.
type session struct {
	conn   *websocket.Conn
	userID string
	out    chan events.Event
	done   chan struct{}
	once   sync.Once
	state  atomic.Int32
}

func newSession(conn *websocket.Conn, userID string, buffer int) *session {
	if buffer <= 0 {
		buffer = 1
	}
	s := &session{
		conn:   conn,
		userID: userID,
		out:    make(chan events.Event, buffer),
		done:   make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *session) State() State {
	return State(s.state.Load())
}

// Send queues ev without blocking. A full queue closes the session.
func (s *session) Send(ev events.Event) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}

	select {
	case s.out <- ev:
		return nil
	case <-s.done:
		return errSessionClosed
	default:
		s.close(websocket.CloseTryAgainLater, "slow consumer")
		return errQueueFull
	}
}

// close moves the session to Closed once, sends a close frame on a best
// effort basis and drops the socket.
func (s *session) close(code int, reason string) {
	s.once.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = s.conn.Close()
	})
}

func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
