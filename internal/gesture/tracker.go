package gesture

import (
	"math"
	"sync"
	"time"
)

// DeadZone is the angular speed (rad/s) at or below which the tracker
// reports zero, so an untouched or barely moved control surface stays still.
const DeadZone = 0.1

// Point is a position on the drag surface in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Tracker turns a drag position around a fixed center into an angular speed
// by finite differences of successive angles. It is safe for concurrent use:
// drag updates arrive from the input side while Step runs on the sampling
// loop.
type Tracker struct {
	mu        sync.Mutex
	center    Point
	drag      Point
	prevAngle float64
}

// NewTracker returns a tracker with center and drag at the origin.
func NewTracker() *Tracker {
	return &Tracker{}
}

// SetCenter sets the rotation center, normally the middle of the measured
// drag surface.
func (t *Tracker) SetCenter(p Point) {
	t.mu.Lock()
	t.center = p
	t.mu.Unlock()
}

// SetDrag records the latest drag position.
func (t *Tracker) SetDrag(p Point) {
	t.mu.Lock()
	t.drag = p
	t.mu.Unlock()
}

// Center returns the current rotation center.
func (t *Tracker) Center() Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.center
}

// Drag returns the latest drag position.
func (t *Tracker) Drag() Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.drag
}

// Step computes the angular speed over dt and advances the previous angle.
func (t *Tracker) Step(dt time.Duration) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	angle := angleOf(t.drag, t.center)
	speed := Speed(angle-t.prevAngle, dt)
	t.prevAngle = angle
	return speed
}

// Reseed makes the current drag angle the previous angle, so the next Step
// only measures motion that happens from now on.
func (t *Tracker) Reseed() {
	t.mu.Lock()
	t.prevAngle = angleOf(t.drag, t.center)
	t.mu.Unlock()
}

// angleOf is measured from the vertical axis: x is the first atan2 argument.
// A drag exactly on the center yields 0.
func angleOf(drag, center Point) float64 {
	return math.Atan2(drag.X-center.X, drag.Y-center.Y)
}

// NormalizeDelta wraps an angle difference into (-π, π].
func NormalizeDelta(delta float64) float64 {
	for delta <= -math.Pi {
		delta += 2 * math.Pi
	}
	for delta > math.Pi {
		delta -= 2 * math.Pi
	}
	return delta
}

// Speed converts a raw angle difference over dt into rad/s, wrapping the
// difference first and applying the dead zone.
func Speed(delta float64, dt time.Duration) float64 {
	if dt <= 0 {
		return 0
	}
	raw := NormalizeDelta(delta) / dt.Seconds()
	return ApplyDeadZone(raw)
}

// ApplyDeadZone returns 0 for |speed| <= DeadZone and speed otherwise.
func ApplyDeadZone(speed float64) float64 {
	if math.Abs(speed) <= DeadZone {
		return 0
	}
	return speed
}
