package imu

import (
	"fmt"

	"github.com/relabs-tech/fishing_controller/internal/orientation"
)

// Snapshot is an immutable copy of the latest sensor state plus the frame id
// that goes into outgoing IMU headers.
type Snapshot struct {
	FrameID string `json:"frame_id"`

	Orientation        orientation.Quaternion   `json:"orientation"`
	AngularVelocity    orientation.MotionVector `json:"angular_velocity"`    // rad/s
	LinearAcceleration orientation.MotionVector `json:"linear_acceleration"` // m/s²
}

// NewSnapshot returns the snapshot reported before any sensor event arrives.
func NewSnapshot() Snapshot {
	return Snapshot{Orientation: orientation.DefaultQuaternion()}
}

// Readout renders the snapshot as the three-line text shown on the status
// surface, each value with the given number of decimals.
func (s Snapshot) Readout(digits int) string {
	return fmt.Sprintf("accel: %s\ngyro: %s\norientation: %s",
		vectorText(s.LinearAcceleration, digits),
		vectorText(s.AngularVelocity, digits),
		quaternionText(s.Orientation, digits),
	)
}

func vectorText(v orientation.MotionVector, digits int) string {
	w := 5 + digits
	return fmt.Sprintf("(%*.*f, %*.*f, %*.*f)", w, digits, v.X, w, digits, v.Y, w, digits, v.Z)
}

func quaternionText(q orientation.Quaternion, digits int) string {
	w := 5 + digits
	return fmt.Sprintf("(%*.*f, %*.*f, %*.*f, %*.*f)", w, digits, q.X, w, digits, q.Y, w, digits, q.Z, w, digits, q.W)
}
