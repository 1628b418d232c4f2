package app

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"go.viam.com/test"

	"github.com/relabs-tech/fishing_controller/internal/config"
	"github.com/relabs-tech/fishing_controller/internal/gesture"
	"github.com/relabs-tech/fishing_controller/internal/logging"
)

func newAPI(t *testing.T, cfg *config.Config) (*bridgeFixture, *httptest.Server) {
	t.Helper()
	f := startBridge(t, cfg)
	srv := httptest.NewServer(NewRouter(f.bridge, logging.Discard()))
	t.Cleanup(srv.Close)
	return f, srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, Status, string) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	test.That(t, err, test.ShouldBeNil)
	resp, err := http.DefaultClient.Do(req)
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	test.That(t, err, test.ShouldBeNil)

	var st Status
	if resp.StatusCode < 300 {
		test.That(t, json.Unmarshal(raw, &st), test.ShouldBeNil)
	}
	return resp.StatusCode, st, string(raw)
}

func TestAPIStatus(t *testing.T) {
	cfg := config.Default()
	cfg.ROS.Address = "ws://10.0.0.2:9090"
	cfg.ROS.FrameID = "rod-1"
	_, srv := newAPI(t, cfg)

	code, st, _ := do(t, srv, "GET", "/api/status", "")
	test.That(t, code, test.ShouldEqual, http.StatusOK)
	test.That(t, st.Connection, test.ShouldEqual, StatusNotConnected)
	test.That(t, st.Address, test.ShouldEqual, "ws://10.0.0.2:9090")
	test.That(t, st.FrameID, test.ShouldEqual, "rod-1")
	test.That(t, st.Mode, test.ShouldEqual, ModeSettings)

	code, _, _ = do(t, srv, "POST", "/api/status", "")
	test.That(t, code, test.ShouldEqual, http.StatusMethodNotAllowed)
}

func TestAPISettings(t *testing.T) {
	_, srv := newAPI(t, config.Default())

	code, st, _ := do(t, srv, "PUT", "/api/settings",
		`{"address":"ws://robot:9090","frame_id":"rod-2","rotation_speed":"-1.5"}`)
	test.That(t, code, test.ShouldEqual, http.StatusOK)
	test.That(t, st.Address, test.ShouldEqual, "ws://robot:9090")
	test.That(t, st.FrameID, test.ShouldEqual, "rod-2")
	test.That(t, st.RotationSpeed, test.ShouldEqual, "-1.5")

	// only present fields change
	code, st, _ = do(t, srv, "PUT", "/api/settings", `{"frame_id":"rod-3"}`)
	test.That(t, code, test.ShouldEqual, http.StatusOK)
	test.That(t, st.Address, test.ShouldEqual, "ws://robot:9090")
	test.That(t, st.FrameID, test.ShouldEqual, "rod-3")

	code, _, body := do(t, srv, "PUT", "/api/settings", `{"rotation_speed":"abc"}`)
	test.That(t, code, test.ShouldEqual, http.StatusBadRequest)
	test.That(t, body, test.ShouldContainSubstring, ErrInvalidRotationSpeed.Error())

	code, _, _ = do(t, srv, "PUT", "/api/settings", `{`)
	test.That(t, code, test.ShouldEqual, http.StatusBadRequest)

	_, st, _ = do(t, srv, "GET", "/api/status", "")
	test.That(t, st.RotationSpeed, test.ShouldEqual, "-1.5")
}

func TestAPIMode(t *testing.T) {
	f, srv := newAPI(t, config.Default())

	code, st, _ := do(t, srv, "PUT", "/api/mode", `{"mode":"control"}`)
	test.That(t, code, test.ShouldEqual, http.StatusOK)
	test.That(t, st.Mode, test.ShouldEqual, ModeControl)
	test.That(t, f.bridge.State().Mode(), test.ShouldEqual, ModeControl)

	code, _, _ = do(t, srv, "PUT", "/api/mode", `{"mode":"joystick"}`)
	test.That(t, code, test.ShouldEqual, http.StatusBadRequest)
}

func TestAPIConnectDisconnect(t *testing.T) {
	rs := newRosbridgeServer(t)
	cfg := config.Default()
	cfg.ROS.Address = rs.address()
	_, srv := newAPI(t, cfg)

	code, _, _ := do(t, srv, "POST", "/api/disconnect", "")
	test.That(t, code, test.ShouldEqual, http.StatusConflict)

	code, _, _ = do(t, srv, "POST", "/api/connect", "")
	test.That(t, code, test.ShouldEqual, http.StatusAccepted)
	eventually(t, "connected", func() bool {
		_, st, _ := do(t, srv, "GET", "/api/status", "")
		return st.Connection == StatusConnected
	})

	code, _, _ = do(t, srv, "POST", "/api/connect", "")
	test.That(t, code, test.ShouldEqual, http.StatusConflict)

	// the address is locked while connected
	code, _, _ = do(t, srv, "PUT", "/api/settings", `{"address":"ws://elsewhere:9090"}`)
	test.That(t, code, test.ShouldEqual, http.StatusConflict)

	code, _, _ = do(t, srv, "POST", "/api/disconnect", "")
	test.That(t, code, test.ShouldEqual, http.StatusAccepted)
	eventually(t, "disconnected", func() bool {
		_, st, _ := do(t, srv, "GET", "/api/status", "")
		return st.Connection == StatusDisconnected && st.CanConnect
	})
}

func TestGestureSocket(t *testing.T) {
	f, srv := newAPI(t, config.Default())

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/gesture"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	test.That(t, err, test.ShouldBeNil)
	defer conn.Close()

	tracker := f.bridge.Tracker()
	test.That(t, conn.WriteJSON(gestureMessage{Type: "layout", Width: 400, Height: 300}), test.ShouldBeNil)
	eventually(t, "center", func() bool {
		return tracker.Center() == gesture.Point{X: 200, Y: 150}
	})

	test.That(t, conn.WriteJSON(map[string]string{"type": "wiggle"}), test.ShouldBeNil)
	test.That(t, conn.WriteJSON(gestureMessage{Type: "drag", X: 200, Y: 250}), test.ShouldBeNil)
	eventually(t, "drag", func() bool {
		return tracker.Drag() == gesture.Point{X: 200, Y: 250}
	})
}
