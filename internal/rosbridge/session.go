package rosbridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/fishing_controller/internal/logging"
)

// ErrSessionInUse is returned by Open on a session that was already opened.
var ErrSessionInUse = errors.New("rosbridge: session already opened")

// CloseNormal is the close code sent on an orderly disconnect.
const CloseNormal = websocket.CloseNormalClosure

// State is the lifecycle state of a Session.
type State int

const (
	Idle State = iota
	Connecting
	Open
	Closing
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == Closed || s == Failed
}

// Handler receives session events. All callbacks run on the session's own
// goroutine, one at a time, in the order the events happened. OnOpen runs
// before any OnMessage.
type Handler interface {
	OnOpen(s *Session)
	OnMessage(text string)
	OnClosed(code int, reason string)
	OnFailure(err error)
}

// Session owns one WebSocket connection to a rosbridge server.
//
//	Idle -> Connecting -> Open -> Closing -> Closed
//	Connecting, Open -> Failed
//
// No operation has a timeout: a dial that never completes keeps the session
// Connecting until Close or Abort, which interrupt it at any stage.
type Session struct {
	logger logging.Logger
	dialer *websocket.Dialer

	mu          sync.Mutex
	state       State
	conn        *websocket.Conn
	cancel      context.CancelFunc
	handler     Handler
	closeCode   int
	closeReason string
	failErr     error

	writeMu sync.Mutex
	done    chan struct{}
}

// NewSession creates an Idle session.
func NewSession(logger logging.Logger) *Session {
	return &Session{
		logger: logger,
		// zero HandshakeTimeout: no timeout on connect
		dialer: &websocket.Dialer{Proxy: http.ProxyFromEnvironment},
		state:  Idle,
		cancel: func() {},
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reached Closed or Failed and every
// handler callback has returned. It never closes for a session that was
// never opened.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Open starts connecting to address, used verbatim as the WebSocket URL.
// It returns immediately; the outcome is reported through h.
func (s *Session) Open(ctx context.Context, address string, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return ErrSessionInUse
	}

	dialCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.handler = h
	s.state = Connecting
	s.logger.Infof("rosbridge: connecting to %s", address)

	go s.run(dialCtx, address)
	return nil
}

func (s *Session) run(ctx context.Context, address string) {
	defer close(s.done)

	conn, _, err := s.dial(ctx, address)

	s.mu.Lock()
	if s.state != Connecting {
		// Close or Abort won the race with the dial
		code, reason := s.closeCode, s.closeReason
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		s.handler.OnClosed(code, reason)
		return
	}
	if err != nil {
		s.state = Failed
		s.mu.Unlock()
		s.logger.Warnf("rosbridge: connect to %s failed: %v", address, err)
		s.handler.OnFailure(fmt.Errorf("connect %s: %w", address, err))
		return
	}
	s.conn = conn
	s.state = Open
	s.mu.Unlock()

	s.logger.Infof("rosbridge: connected to %s", address)
	s.handler.OnOpen(s)
	s.readLoop(conn)
}

// dial connects to address. The dialer only honors ctx while opening the TCP
// connection, so cancelling ctx also closes the raw connection to interrupt a
// handshake the server never answers.
func (s *Session) dial(ctx context.Context, address string) (*websocket.Conn, *http.Response, error) {
	var (
		mu  sync.Mutex
		raw net.Conn
	)
	var nd net.Dialer
	dialer := *s.dialer
	dialer.NetDialContext = func(dctx context.Context, network, addr string) (net.Conn, error) {
		c, err := nd.DialContext(dctx, network, addr)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		defer mu.Unlock()
		raw = c
		if ctx.Err() != nil {
			c.Close()
		}
		return c, nil
	}
	stop := context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		if raw != nil {
			raw.Close()
		}
	})
	defer stop()

	return dialer.DialContext(ctx, address, nil)
}

// readLoop delivers inbound text frames until the connection ends.
func (s *Session) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		s.handler.OnMessage(string(data))
	}
}

// finish moves the session to its terminal state after the reader stopped.
func (s *Session) finish(readErr error) {
	s.mu.Lock()
	prev := s.state

	// an abrupt drop surfaces as a 1006 close error
	var ce *websocket.CloseError
	peerClosed := errors.As(readErr, &ce) && ce.Code != websocket.CloseAbnormalClosure

	switch {
	case prev == Failed:
		err := s.failErr
		s.mu.Unlock()
		s.handler.OnFailure(err)
	case peerClosed:
		s.state = Closed
		s.mu.Unlock()
		s.logger.Infof("rosbridge: closed (%d %s)", ce.Code, ce.Text)
		s.handler.OnClosed(ce.Code, ce.Text)
	case prev == Closing:
		// connection dropped before the peer confirmed the close
		s.state = Closed
		code, reason := s.closeCode, s.closeReason
		s.mu.Unlock()
		s.handler.OnClosed(code, reason)
	default:
		s.state = Failed
		s.mu.Unlock()
		s.logger.Warnf("rosbridge: connection lost: %v", readErr)
		s.handler.OnFailure(fmt.Errorf("read: %w", readErr))
	}
}

// Send transmits one text frame. It returns false, dropping the frame, when
// the session is not Open. A write error fails the session.
func (s *Session) Send(text string) bool {
	s.mu.Lock()
	if s.state != Open {
		s.mu.Unlock()
		return false
	}
	conn := s.conn
	s.mu.Unlock()

	s.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, []byte(text))
	s.writeMu.Unlock()
	if err != nil {
		s.fail(conn, fmt.Errorf("write: %w", err))
		return false
	}
	return true
}

func (s *Session) fail(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.state != Open {
		s.mu.Unlock()
		return
	}
	s.state = Failed
	s.failErr = err
	s.mu.Unlock()

	s.logger.Warnf("rosbridge: %v", err)
	// unblocks the reader, which reports the failure
	conn.Close()
}

// Close starts an orderly shutdown. On an Open session it sends a close
// frame and waits for the peer's confirmation in the background; on a
// Connecting session it abandons the dial. In any other state it does
// nothing.
func (s *Session) Close(code int, reason string) {
	s.mu.Lock()
	switch s.state {
	case Connecting:
		s.state = Closed
		s.closeCode, s.closeReason = code, reason
		cancel := s.cancel
		s.mu.Unlock()
		cancel()
	case Open:
		s.state = Closing
		s.closeCode, s.closeReason = code, reason
		conn := s.conn
		s.mu.Unlock()

		s.logger.Infof("rosbridge: closing (%d %s)", code, reason)
		msg := websocket.FormatCloseMessage(code, reason)
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Time{}); err != nil {
			conn.Close()
		}
	default:
		s.mu.Unlock()
	}
}

// Abort drops the connection without a close handshake. A Closing session
// ends Closed, an Open one Failed.
func (s *Session) Abort() {
	s.mu.Lock()
	if s.state == Connecting {
		s.state = Closed
	}
	cancel, conn := s.cancel, s.conn
	s.mu.Unlock()

	cancel()
	if conn != nil {
		conn.Close()
	}
}
