package app

import (
	"errors"
	"regexp"
	"strconv"
	"sync"
)

// Mode switches the operator surface between editing settings and driving
// the rod with drag gestures.
type Mode string

const (
	ModeSettings Mode = "settings"
	ModeControl  Mode = "control"
)

var (
	ErrAlreadyConnected     = errors.New("already connected")
	ErrNotConnected         = errors.New("not connected")
	ErrInvalidMode          = errors.New("invalid mode")
	ErrInvalidRotationSpeed = errors.New("rotation speed must be a plain decimal number")
)

// Connection status texts.
const (
	StatusNotConnected  = "not connected"
	StatusConnecting    = "connecting..."
	StatusConnected     = "connected"
	StatusFailed        = "connection failed: "
	StatusDisconnecting = "disconnecting..."
	StatusDisconnected  = "disconnected"

	imuIdleText     = "IMU not running"
	noMessageText   = "no message received"
	messageReceived = "message received\n"
)

// rotationSpeedPattern accepts what the rotation speed field lets an
// operator type, including partial input such as "-" or "1.".
var rotationSpeedPattern = regexp.MustCompile(`^-?[0-9]*\.?[0-9]*$`)

// Status is a copy of everything the operator surface shows or edits.
type Status struct {
	Connection    string `json:"connection"`
	CanConnect    bool   `json:"can_connect"`
	CanDisconnect bool   `json:"can_disconnect"`
	IMU           string `json:"imu"`
	LastMessage   string `json:"last_message"`
	Address       string `json:"address"`
	FrameID       string `json:"frame_id"`
	RotationSpeed string `json:"rotation_speed"`
	Mode          Mode   `json:"mode"`
}

// State is the operator-facing state, written from the session callbacks,
// both loops and the control adapters.
type State struct {
	mu sync.Mutex
	st Status
}

// NewState returns the state of a freshly started, unconnected controller.
func NewState(address, frameID string) *State {
	return &State{st: Status{
		Connection:    StatusNotConnected,
		CanConnect:    true,
		IMU:           imuIdleText,
		LastMessage:   noMessageText,
		Address:       address,
		FrameID:       frameID,
		RotationSpeed: "0",
		Mode:          ModeSettings,
	}}
}

// Status returns a copy of the current state.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

func (s *State) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Address
}

// SetAddress changes the server address. It is locked while a session is
// in progress.
func (s *State) SetAddress(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.st.CanConnect {
		return ErrAlreadyConnected
	}
	s.st.Address = address
	return nil
}

func (s *State) FrameID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.FrameID
}

func (s *State) SetFrameID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.FrameID = id
}

func (s *State) RotationSpeedText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.RotationSpeed
}

// SetRotationSpeedText stores operator input. Text that could never become
// a decimal number is rejected and the previous value kept.
func (s *State) SetRotationSpeedText(text string) error {
	if !rotationSpeedPattern.MatchString(text) {
		return ErrInvalidRotationSpeed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.RotationSpeed = text
	return nil
}

// setRotationSpeed stores a gesture-derived speed in rad/s.
func (s *State) setRotationSpeed(v float64) {
	text := strconv.FormatFloat(v, 'f', -1, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.RotationSpeed = text
}

func (s *State) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Mode
}

// setMode stores m and returns the previous mode.
func (s *State) setMode(m Mode) (Mode, error) {
	if m != ModeSettings && m != ModeControl {
		return "", ErrInvalidMode
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.st.Mode
	s.st.Mode = m
	return prev, nil
}

func (s *State) setIMUText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.IMU = text
}

func (s *State) setLastMessage(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.LastMessage = messageReceived + text
}

// connection transitions

func (s *State) connecting() {
	s.setConnection(StatusConnecting, false, false)
}

func (s *State) connected() {
	s.setConnection(StatusConnected, false, true)
}

func (s *State) disconnecting() {
	s.setConnection(StatusDisconnecting, false, false)
}

func (s *State) disconnected() {
	s.setConnection(StatusDisconnected, true, false)
}

func (s *State) failed(err error) {
	s.setConnection(StatusFailed+err.Error(), true, false)
}

func (s *State) setConnection(text string, canConnect, canDisconnect bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Connection = text
	s.st.CanConnect = canConnect
	s.st.CanDisconnect = canDisconnect
}
