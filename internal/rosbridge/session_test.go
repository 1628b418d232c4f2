package rosbridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.viam.com/test"

	"github.com/relabs-tech/fishing_controller/internal/logging"
)

const waitFor = 2 * time.Second

// fakeRosbridge accepts WebSocket clients and records every text frame.
type fakeRosbridge struct {
	*httptest.Server
	received chan string
	conns    chan *websocket.Conn
}

func newFakeRosbridge(t *testing.T) *fakeRosbridge {
	t.Helper()
	fr := &fakeRosbridge{
		received: make(chan string, 64),
		conns:    make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{}
	fr.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fr.conns <- conn
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage {
				fr.received <- string(data)
			}
		}
	}))
	t.Cleanup(fr.Close)
	return fr
}

func (fr *fakeRosbridge) wsURL() string {
	return "ws" + strings.TrimPrefix(fr.URL, "http")
}

func (fr *fakeRosbridge) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-fr.conns:
		return c
	case <-time.After(waitFor):
		t.Fatal("no client connected")
		return nil
	}
}

func (fr *fakeRosbridge) next(t *testing.T) string {
	t.Helper()
	select {
	case s := <-fr.received:
		return s
	case <-time.After(waitFor):
		t.Fatal("no frame received")
		return ""
	}
}

// recorder is a Handler that logs every callback as a string.
type recorder struct {
	events chan string
	onOpen func(s *Session)

	mu     sync.Mutex
	states []State
}

func newRecorder() *recorder {
	return &recorder{events: make(chan string, 64)}
}

func (r *recorder) OnOpen(s *Session) {
	r.mu.Lock()
	r.states = append(r.states, s.State())
	r.mu.Unlock()
	if r.onOpen != nil {
		r.onOpen(s)
	}
	r.events <- "open"
}

func (r *recorder) OnMessage(text string) { r.events <- "message:" + text }

func (r *recorder) OnClosed(code int, reason string) {
	r.events <- fmt.Sprintf("closed:%d:%s", code, reason)
}

func (r *recorder) OnFailure(err error) { r.events <- "failure" }

func (r *recorder) next(t *testing.T) string {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(waitFor):
		t.Fatal("no handler callback")
		return ""
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not finish")
	}
}

func TestSessionSendWhileIdle(t *testing.T) {
	s := NewSession(logging.Discard())
	test.That(t, s.State(), test.ShouldEqual, Idle)
	test.That(t, s.Send("x"), test.ShouldBeFalse)
	test.That(t, s.State(), test.ShouldEqual, Idle)

	// close on an idle session does nothing
	s.Close(CloseNormal, "")
	test.That(t, s.State(), test.ShouldEqual, Idle)
}

func TestSessionLifecycle(t *testing.T) {
	fr := newFakeRosbridge(t)
	rec := newRecorder()
	rec.onOpen = func(s *Session) {
		test.That(t, s.Send(Advertise("/fish/ctrl/imu", TypeImu)), test.ShouldBeTrue)
		test.That(t, s.Send(Advertise("/fish/ctrl/out", TypeFloat32)), test.ShouldBeTrue)
		test.That(t, s.Send(Subscribe("/fish/ctrl/in", TypeString)), test.ShouldBeTrue)
	}

	s := NewSession(logging.Discard())
	test.That(t, s.Open(context.Background(), fr.wsURL(), rec), test.ShouldBeNil)
	server := fr.conn(t)
	test.That(t, rec.next(t), test.ShouldEqual, "open")
	test.That(t, s.State(), test.ShouldEqual, Open)
	test.That(t, rec.states, test.ShouldResemble, []State{Open})

	// registrations arrive first, in order
	test.That(t, fr.next(t), test.ShouldContainSubstring, `"op":"advertise","topic":"/fish/ctrl/imu"`)
	test.That(t, fr.next(t), test.ShouldContainSubstring, `"op":"advertise","topic":"/fish/ctrl/out"`)
	test.That(t, fr.next(t), test.ShouldContainSubstring, `"op":"subscribe","topic":"/fish/ctrl/in"`)

	test.That(t, s.Send(PublishString("/fish/ctrl/out", "a")), test.ShouldBeTrue)
	test.That(t, fr.next(t), test.ShouldContainSubstring, `"data":"a"`)

	t.Run("inbound frames in order", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			msg := PublishString("/fish/ctrl/in", fmt.Sprintf("m%d", i))
			test.That(t, server.WriteMessage(websocket.TextMessage, []byte(msg)), test.ShouldBeNil)
		}
		test.That(t, server.WriteMessage(websocket.BinaryMessage, []byte{1, 2}), test.ShouldBeNil)
		for i := 0; i < 5; i++ {
			test.That(t, rec.next(t), test.ShouldEqual, "message:"+PublishString("/fish/ctrl/in", fmt.Sprintf("m%d", i)))
		}
	})

	t.Run("second open is rejected", func(t *testing.T) {
		err := s.Open(context.Background(), fr.wsURL(), rec)
		test.That(t, errors.Is(err, ErrSessionInUse), test.ShouldBeTrue)
	})

	s.Close(CloseNormal, "user disconnect")
	test.That(t, rec.next(t), test.ShouldEqual, "closed:1000:")
	test.That(t, s.State(), test.ShouldEqual, Closed)
	waitDone(t, s)

	// further sends and closes are no-ops
	test.That(t, s.Send("x"), test.ShouldBeFalse)
	s.Close(CloseNormal, "again")
	test.That(t, s.State(), test.ShouldEqual, Closed)
	select {
	case e := <-rec.events:
		t.Fatalf("unexpected callback %q", e)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSessionPeerClose(t *testing.T) {
	fr := newFakeRosbridge(t)
	rec := newRecorder()
	s := NewSession(logging.Discard())
	test.That(t, s.Open(context.Background(), fr.wsURL(), rec), test.ShouldBeNil)
	server := fr.conn(t)
	test.That(t, rec.next(t), test.ShouldEqual, "open")

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
	test.That(t, server.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)), test.ShouldBeNil)

	test.That(t, rec.next(t), test.ShouldEqual, "closed:1001:shutting down")
	test.That(t, s.State(), test.ShouldEqual, Closed)
}

func TestSessionConnectionDropped(t *testing.T) {
	fr := newFakeRosbridge(t)
	rec := newRecorder()
	s := NewSession(logging.Discard())
	test.That(t, s.Open(context.Background(), fr.wsURL(), rec), test.ShouldBeNil)
	server := fr.conn(t)
	test.That(t, rec.next(t), test.ShouldEqual, "open")

	server.UnderlyingConn().Close()

	test.That(t, rec.next(t), test.ShouldEqual, "failure")
	test.That(t, s.State(), test.ShouldEqual, Failed)
	waitDone(t, s)
	test.That(t, s.Send("x"), test.ShouldBeFalse)
}

func TestSessionConnectFailure(t *testing.T) {
	for _, addr := range []string{
		"ws://127.0.0.1:1/nothing-listens",
		"10.0.0.2:9090", // no scheme, used verbatim
	} {
		t.Run(addr, func(t *testing.T) {
			rec := newRecorder()
			s := NewSession(logging.Discard())
			test.That(t, s.Open(context.Background(), addr, rec), test.ShouldBeNil)
			test.That(t, rec.next(t), test.ShouldEqual, "failure")
			test.That(t, s.State(), test.ShouldEqual, Failed)
			test.That(t, s.State().Terminal(), test.ShouldBeTrue)
		})
	}
}

func TestSessionCloseWhileConnecting(t *testing.T) {
	// accepts TCP connections but never answers the handshake
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()
	defer ln.Close()

	rec := newRecorder()
	s := NewSession(logging.Discard())
	test.That(t, s.Open(context.Background(), "ws://"+ln.Addr().String(), rec), test.ShouldBeNil)
	test.That(t, s.State(), test.ShouldEqual, Connecting)

	var raw net.Conn
	select {
	case raw = <-accepted:
	case <-time.After(waitFor):
		t.Fatal("dial never reached the listener")
	}
	defer raw.Close()

	// the server never answers the handshake; Close alone must end the session
	s.Close(CloseNormal, "cancelled")
	test.That(t, s.State(), test.ShouldEqual, Closed)
	test.That(t, rec.next(t), test.ShouldEqual, "closed:1000:cancelled")
	waitDone(t, s)
	test.That(t, s.State(), test.ShouldEqual, Closed)
}

func TestSessionAbortWhileClosing(t *testing.T) {
	fr := newFakeRosbridge(t)
	rec := newRecorder()
	s := NewSession(logging.Discard())
	test.That(t, s.Open(context.Background(), fr.wsURL(), rec), test.ShouldBeNil)
	fr.conn(t)
	test.That(t, rec.next(t), test.ShouldEqual, "open")

	s.Close(CloseNormal, "bye")
	s.Abort()
	e := rec.next(t)
	// either the peer's echo or the abort wins
	test.That(t, strings.HasPrefix(e, "closed:1000:"), test.ShouldBeTrue)
	test.That(t, s.State(), test.ShouldEqual, Closed)
}
