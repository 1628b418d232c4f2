package rosbridge

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/relabs-tech/fishing_controller/internal/imu"
	"github.com/relabs-tech/fishing_controller/internal/orientation"
)

// StampMode selects how header stamps are derived.
type StampMode string

const (
	// StampLegacy pairs wall-clock seconds with the remainder of a monotonic
	// nanosecond counter. The two clocks have unrelated epochs, so nanosec is
	// not the sub-second part of sec. Deployed subscribers expect this.
	StampLegacy StampMode = "legacy"
	// StampWall takes both fields from the wall clock.
	StampWall StampMode = "wall"
)

// Stamp is builtin_interfaces/msg/Time.
type Stamp struct {
	Sec     int64 `json:"sec"`
	Nanosec int64 `json:"nanosec"`
}

// Header is std_msgs/msg/Header.
type Header struct {
	Stamp   Stamp  `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// ImuMsg is sensor_msgs/msg/Imu.
type ImuMsg struct {
	Header                       Header                   `json:"header"`
	Orientation                  orientation.Quaternion   `json:"orientation"`
	OrientationCovariance        [9]float64               `json:"orientation_covariance"`
	AngularVelocity              orientation.MotionVector `json:"angular_velocity"`
	AngularVelocityCovariance    [9]float64               `json:"angular_velocity_covariance"`
	LinearAcceleration           orientation.MotionVector `json:"linear_acceleration"`
	LinearAccelerationCovariance [9]float64               `json:"linear_acceleration_covariance"`
}

// NewImuMsg builds the IMU message for snap. Orientation covariance is
// marked unknown (-1 in the first element).
func NewImuMsg(snap imu.Snapshot, stamp Stamp) ImuMsg {
	return ImuMsg{
		Header:                Header{Stamp: stamp, FrameID: snap.FrameID},
		Orientation:           snap.Orientation,
		OrientationCovariance: [9]float64{-1},
		AngularVelocity:       snap.AngularVelocity,
		LinearAcceleration:    snap.LinearAcceleration,
	}
}

// PublishIMU builds the publish operation for an IMU snapshot.
func PublishIMU(topic string, snap imu.Snapshot, stamp Stamp) (string, error) {
	return Publish(topic, NewImuMsg(snap, stamp))
}

// Stamper produces header stamps.
type Stamper struct {
	mode   StampMode
	clk    clock.Clock
	origin time.Time
}

// NewStamper creates a stamper. Unknown modes behave as StampLegacy.
func NewStamper(mode StampMode, clk clock.Clock) *Stamper {
	return &Stamper{mode: mode, clk: clk, origin: clk.Now()}
}

// Now returns the stamp for the current instant.
func (s *Stamper) Now() Stamp {
	now := s.clk.Now()
	if s.mode == StampWall {
		return Stamp{Sec: now.Unix(), Nanosec: int64(now.Nanosecond())}
	}
	// integer division of millis truncates toward zero
	monotonic := int64(s.clk.Since(s.origin))
	return Stamp{
		Sec:     now.UnixMilli() / 1000,
		Nanosec: monotonic % int64(time.Second),
	}
}
