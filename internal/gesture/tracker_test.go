package gesture

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"
)

const tick = 10 * time.Millisecond

func pointAt(center Point, angleRad, radius float64) Point {
	return Point{
		X: center.X + radius*math.Sin(angleRad),
		Y: center.Y + radius*math.Cos(angleRad),
	}
}

func deg(d float64) float64 { return d * math.Pi / 180 }

func TestNormalizeDelta(t *testing.T) {
	test.That(t, NormalizeDelta(math.Pi), test.ShouldEqual, math.Pi)
	test.That(t, NormalizeDelta(-math.Pi), test.ShouldEqual, math.Pi)
	test.That(t, NormalizeDelta(deg(-340)), test.ShouldAlmostEqual, deg(20))
	test.That(t, NormalizeDelta(deg(340)), test.ShouldAlmostEqual, deg(-20))
	test.That(t, NormalizeDelta(7*math.Pi), test.ShouldAlmostEqual, math.Pi)

	for d := -20.0; d <= 20.0; d += 0.37 {
		n := NormalizeDelta(d)
		test.That(t, n, test.ShouldBeGreaterThan, -math.Pi)
		test.That(t, n, test.ShouldBeLessThanOrEqualTo, math.Pi)
	}
}

func TestApplyDeadZone(t *testing.T) {
	for _, v := range []float64{0, 0.1, -0.1, 0.05, -0.0999} {
		test.That(t, ApplyDeadZone(v), test.ShouldEqual, 0)
	}
	test.That(t, ApplyDeadZone(0.1001), test.ShouldEqual, 0.1001)
	test.That(t, ApplyDeadZone(-3), test.ShouldEqual, -3)
}

func TestSpeedNonPositiveInterval(t *testing.T) {
	test.That(t, Speed(1, 0), test.ShouldEqual, 0)
}

func TestTrackerWraparound(t *testing.T) {
	center := Point{X: 540, Y: 960}
	tr := NewTracker()
	tr.SetCenter(center)

	tr.SetDrag(pointAt(center, deg(170), 200))
	tr.Reseed()

	tr.SetDrag(pointAt(center, deg(-170), 200))
	speed := tr.Step(tick)
	test.That(t, speed, test.ShouldAlmostEqual, deg(20)/tick.Seconds(), 1e-6)
}

func TestTrackerAngleConvention(t *testing.T) {
	tr := NewTracker()
	tr.SetCenter(Point{X: 0, Y: 0})

	// straight "down" the y axis is angle 0; +x is +π/2
	tr.SetDrag(Point{X: 0, Y: 10})
	test.That(t, tr.Step(tick), test.ShouldEqual, 0)

	tr.SetDrag(Point{X: 10, Y: 0})
	test.That(t, tr.Step(tick), test.ShouldAlmostEqual, (math.Pi/2)/tick.Seconds())
}

func TestTrackerDegenerateCenter(t *testing.T) {
	tr := NewTracker()
	tr.SetCenter(Point{X: 5, Y: 5})
	tr.SetDrag(Point{X: 5, Y: 5})
	test.That(t, tr.Step(tick), test.ShouldEqual, 0)
	test.That(t, tr.Step(tick), test.ShouldEqual, 0)
}

func TestTrackerStillDragIsZero(t *testing.T) {
	center := Point{X: 100, Y: 100}
	tr := NewTracker()
	tr.SetCenter(center)
	tr.SetDrag(pointAt(center, deg(45), 50))
	tr.Step(tick)
	for i := 0; i < 5; i++ {
		test.That(t, tr.Step(tick), test.ShouldEqual, 0)
	}
}

func TestRun(t *testing.T) {
	mock := clock.NewMock()
	center := Point{X: 0, Y: 0}
	tr := NewTracker()
	tr.SetCenter(center)
	tr.SetDrag(pointAt(center, 0, 10))

	active := make(chan bool, 1)
	active <- true
	isActive := func() bool {
		v := <-active
		active <- v
		return v
	}

	speeds := make(chan float64, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, mock, tick, tr, isActive, func(s float64) { speeds <- s })
		close(done)
	}()

	// give Run a chance to create its ticker before advancing
	time.Sleep(10 * time.Millisecond)

	tr.SetDrag(pointAt(center, deg(10), 10))
	mock.Add(tick)
	test.That(t, <-speeds, test.ShouldAlmostEqual, deg(10)/tick.Seconds(), 1e-6)

	<-active
	active <- false
	tr.SetDrag(pointAt(center, deg(90), 10))
	mock.Add(tick)
	select {
	case s := <-speeds:
		t.Fatalf("unexpected speed %v while inactive", s)
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	<-done
}
