package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/fishing_controller/internal/gesture"
	"github.com/relabs-tech/fishing_controller/internal/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the operator UI is served from anywhere on the local network
	},
}

// SettingsRequest is the body of PUT /api/settings and of the MQTT settings
// topic. Absent fields are left unchanged.
type SettingsRequest struct {
	Address       *string `json:"address,omitempty"`
	FrameID       *string `json:"frame_id,omitempty"`
	RotationSpeed *string `json:"rotation_speed,omitempty"`
	Mode          *Mode   `json:"mode,omitempty"`
}

type modeRequest struct {
	Mode Mode `json:"mode"`
}

// gestureMessage is one frame on the gesture socket.
type gestureMessage struct {
	Type   string  `json:"type"` // layout, drag
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
}

type apiError struct {
	Error string `json:"error"`
}

// ApplySettings validates and applies every field present in req. It stops
// at the first rejected field.
func ApplySettings(b *Bridge, req SettingsRequest) error {
	if req.Address != nil {
		if err := b.state.SetAddress(*req.Address); err != nil {
			return err
		}
	}
	if req.FrameID != nil {
		b.state.SetFrameID(*req.FrameID)
	}
	if req.RotationSpeed != nil {
		if err := b.state.SetRotationSpeedText(*req.RotationSpeed); err != nil {
			return err
		}
	}
	if req.Mode != nil {
		if err := b.SetMode(*req.Mode); err != nil {
			return err
		}
	}
	return nil
}

type api struct {
	bridge *Bridge
	logger logging.Logger
}

// NewRouter returns the control API of b.
func NewRouter(b *Bridge, logger logging.Logger) *mux.Router {
	a := &api{bridge: b, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/api/status", a.status).Methods("GET")
	r.HandleFunc("/api/settings", a.settings).Methods("PUT")
	r.HandleFunc("/api/connect", a.connect).Methods("POST")
	r.HandleFunc("/api/disconnect", a.disconnect).Methods("POST")
	r.HandleFunc("/api/mode", a.mode).Methods("PUT")
	r.HandleFunc("/ws/gesture", a.gestureWS).Methods("GET")
	return r
}

// RunWeb serves the control API on addr until ctx is cancelled.
func RunWeb(ctx context.Context, addr string, b *Bridge, logger logging.Logger) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: NewRouter(b, logger),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("web: shutdown: %v", err)
		}
	}()

	logger.Infof("web: control API listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.bridge.state.Status())
}

func (a *api) settings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON body"})
		return
	}
	if err := ApplySettings(a.bridge, req); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, a.bridge.state.Status())
}

func (a *api) connect(w http.ResponseWriter, r *http.Request) {
	if err := a.bridge.Connect(); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusAccepted, a.bridge.state.Status())
}

func (a *api) disconnect(w http.ResponseWriter, r *http.Request) {
	if err := a.bridge.Disconnect(); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusAccepted, a.bridge.state.Status())
}

func (a *api) mode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON body"})
		return
	}
	if err := a.bridge.SetMode(req.Mode); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, a.bridge.state.Status())
}

// gestureWS feeds the drag surface of the operator UI into the tracker.
func (a *api) gestureWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warnf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	tracker := a.bridge.Tracker()
	for {
		var msg gestureMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.logger.Warnf("web: gesture socket: %v", err)
			}
			return
		}

		switch msg.Type {
		case "layout":
			tracker.SetCenter(gesture.Point{X: msg.Width / 2, Y: msg.Height / 2})
		case "drag":
			tracker.SetDrag(gesture.Point{X: msg.X, Y: msg.Y})
		default:
			a.logger.Debugf("web: unknown gesture message %q", msg.Type)
		}
	}
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	a.writeJSON(w, statusCode(err), apiError{Error: err.Error()})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, ErrInvalidMode), errors.Is(err, ErrInvalidRotationSpeed):
		return http.StatusBadRequest
	case errors.Is(err, ErrAlreadyConnected), errors.Is(err, ErrNotConnected):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warnf("web: json encode error: %v", err)
	}
}
