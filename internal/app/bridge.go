package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/relabs-tech/fishing_controller/internal/config"
	"github.com/relabs-tech/fishing_controller/internal/gesture"
	"github.com/relabs-tech/fishing_controller/internal/logging"
	"github.com/relabs-tech/fishing_controller/internal/rosbridge"
	"github.com/relabs-tech/fishing_controller/internal/sensors"
)

const (
	readoutDigits = 3
	// how long shutdown waits for the server to confirm the close
	closeGrace = time.Second

	disconnectReason = "connection closed normally"
	shutdownReason   = "controller shutting down"
)

// Bridge streams sensor snapshots and the rotation speed to a rosbridge
// server over at most one session at a time.
type Bridge struct {
	cfg     *config.Config
	logger  logging.Logger
	clk     clock.Clock
	sampler *sensors.Sampler
	tracker *gesture.Tracker
	state   *State
	stamper *rosbridge.Stamper

	// sessions live until Close, independent of any request that opened them
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active *link
}

// link is one session together with the bridge-side view of it.
type link struct {
	bridge  *Bridge
	session *rosbridge.Session
	// set once advertise and subscribe went out; nothing is published before
	advertised *atomic.Bool
}

// NewBridge wires a bridge around sampler. The sampler is started by Run
// and closed by Run's shutdown.
func NewBridge(cfg *config.Config, logger logging.Logger, clk clock.Clock, sampler *sensors.Sampler) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		cfg:     cfg,
		logger:  logger,
		clk:     clk,
		sampler: sampler,
		tracker: gesture.NewTracker(),
		state:   NewState(cfg.ROS.Address, cfg.ROS.FrameID),
		stamper: rosbridge.NewStamper(rosbridge.StampMode(cfg.ROS.StampMode), clk),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// State returns the operator-facing state.
func (b *Bridge) State() *State { return b.state }

// Tracker returns the gesture tracker fed by the drag surface.
func (b *Bridge) Tracker() *gesture.Tracker { return b.tracker }

// SessionState reports the state of the current session, Idle when none
// was ever opened.
func (b *Bridge) SessionState() rosbridge.State {
	if l := b.current(); l != nil {
		return l.session.State()
	}
	return rosbridge.Idle
}

func (b *Bridge) current() *link {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Connect opens a session to the configured address. The outcome arrives
// asynchronously through the state.
func (b *Bridge) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active != nil && !b.active.session.State().Terminal() {
		return ErrAlreadyConnected
	}

	address := b.state.Address()
	l := &link{
		bridge:     b,
		session:    rosbridge.NewSession(b.logger.WithField("address", address)),
		advertised: atomic.NewBool(false),
	}
	b.state.connecting()
	if err := l.session.Open(b.ctx, address, l); err != nil {
		b.state.failed(err)
		return err
	}
	b.active = l
	return nil
}

// Disconnect starts an orderly close of the open session.
func (b *Bridge) Disconnect() error {
	l := b.current()
	if l == nil {
		return ErrNotConnected
	}
	switch l.session.State() {
	case rosbridge.Connecting, rosbridge.Open:
	default:
		return ErrNotConnected
	}

	b.state.disconnecting()
	l.session.Close(rosbridge.CloseNormal, disconnectReason)
	return nil
}

// SetMode switches between settings and control. Entering control restarts
// angle differencing from the current drag position so the first sample
// reads zero.
func (b *Bridge) SetMode(m Mode) error {
	prev, err := b.state.setMode(m)
	if err != nil {
		return err
	}
	if m == ModeControl && prev != ModeControl {
		b.tracker.Reseed()
	}
	b.logger.Infof("bridge: mode %s", m)
	return nil
}

// Run starts the sampler and both loops and blocks until ctx is cancelled
// or Close is called. It then closes the session and the sampler.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	b.sampler.Start(ctx)

	if b.cfg.ROS.AutoConnect {
		if err := b.Connect(); err != nil {
			b.logger.Warnf("bridge: auto connect: %v", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.publishLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		gesture.Run(ctx, b.clk, b.cfg.GestureInterval(), b.tracker,
			func() bool { return b.state.Mode() == ModeControl },
			b.state.setRotationSpeed)
	}()
	b.logger.Infof("bridge: running (publish every %s, gesture every %s)",
		b.cfg.PublishInterval(), b.cfg.GestureInterval())
	wg.Wait()

	return b.shutdown()
}

// Close stops a running bridge.
func (b *Bridge) Close() {
	b.cancel()
}

func (b *Bridge) shutdown() error {
	var err error
	if l := b.current(); l != nil {
		err = multierr.Append(err, l.closeAndWait(closeGrace))
	}
	err = multierr.Append(err, b.sampler.Close())
	b.logger.Infof("bridge: stopped")
	return err
}

func (b *Bridge) publishLoop(ctx context.Context) {
	ticker := b.clk.Ticker(b.cfg.PublishInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.publishTick()
		}
	}
}

// publishTick refreshes the readout and, once the session is open and
// registered, sends one IMU and one control message.
func (b *Bridge) publishTick() {
	frameID := b.state.FrameID()
	b.sampler.SetFrameID(frameID)
	snap := b.sampler.Snapshot()
	b.state.setIMUText(snap.Readout(readoutDigits))

	l := b.current()
	if l == nil || !l.advertised.Load() || l.session.State() != rosbridge.Open {
		return
	}

	ros := b.cfg.ROS
	if msg, err := rosbridge.PublishIMU(ros.IMUTopic, snap, b.stamper.Now()); err != nil {
		b.logger.Warnf("bridge: %v", err)
	} else {
		l.session.Send(msg)
	}

	speed := parseSpeed(b.state.RotationSpeedText())
	if ros.OutType == config.OutTypeString {
		l.session.Send(rosbridge.PublishString(ros.OutTopic, frameID+","+formatSpeed(speed)))
		return
	}
	if msg, err := rosbridge.PublishScalar(ros.OutTopic, speed); err != nil {
		b.logger.Warnf("bridge: %v", err)
	} else {
		l.session.Send(msg)
	}
}

// parseSpeed reads the rotation speed field; anything unparsable is 0.
func parseSpeed(text string) float32 {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 32)
	if err != nil {
		return 0
	}
	return float32(v)
}

// formatSpeed renders a speed the way receivers of the string variant
// expect: always with a fractional part, e.g. "0.0" or "1.5".
func formatSpeed(v float32) string {
	s := strconv.FormatFloat(float64(v), 'f', -1, 32)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Handler callbacks, invoked on the session's goroutine. A link that was
// replaced by a newer one no longer touches the state.

func (l *link) stale() bool {
	return l.bridge.current() != l
}

func (l *link) OnOpen(s *rosbridge.Session) {
	if l.stale() {
		return
	}
	ros := l.bridge.cfg.ROS
	s.Send(rosbridge.Advertise(ros.IMUTopic, ros.IMUType))
	s.Send(rosbridge.Advertise(ros.OutTopic, l.bridge.cfg.OutMessageType()))
	s.Send(rosbridge.Subscribe(ros.InTopic, ros.InType))
	l.advertised.Store(true)
	l.bridge.state.connected()
}

func (l *link) OnMessage(text string) {
	if l.stale() {
		return
	}
	l.bridge.state.setLastMessage(text)

	env, err := rosbridge.Decode(text)
	if err != nil {
		l.bridge.logger.Debugf("bridge: %v", err)
		return
	}
	if data, ok := env.StringData(); ok {
		l.bridge.logger.Infof("bridge: received on %s: %s", env.Topic, data)
		return
	}
	l.bridge.logger.Debugf("bridge: received %s operation", env.Op)
}

func (l *link) OnClosed(code int, reason string) {
	l.advertised.Store(false)
	if l.stale() {
		return
	}
	l.bridge.state.disconnected()
	l.bridge.logger.Infof("bridge: disconnected (%d %s)", code, reason)
}

func (l *link) OnFailure(err error) {
	l.advertised.Store(false)
	if l.stale() {
		return
	}
	l.bridge.state.failed(err)
	l.bridge.logger.Warnf("bridge: %v", err)
}

// closeAndWait closes the session and waits up to grace for the server to
// confirm before dropping the connection.
func (l *link) closeAndWait(grace time.Duration) error {
	switch l.session.State() {
	case rosbridge.Idle, rosbridge.Closed, rosbridge.Failed:
		return nil
	}
	l.session.Close(rosbridge.CloseNormal, shutdownReason)

	timer := l.bridge.clk.Timer(grace)
	defer timer.Stop()
	select {
	case <-l.session.Done():
		return nil
	case <-timer.C:
		l.session.Abort()
		return fmt.Errorf("rosbridge: close not confirmed within %s", grace)
	}
}
