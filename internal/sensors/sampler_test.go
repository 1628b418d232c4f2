package sensors

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/relabs-tech/fishing_controller/internal/logging"
	"github.com/relabs-tech/fishing_controller/internal/orientation"
)

// fakeStream emits the queued events, then blocks until cancelled.
type fakeStream struct {
	kinds  []Kind
	events []Event
	err    error

	mu      sync.Mutex
	stopped bool
}

func (f *fakeStream) Name() string  { return "fake" }
func (f *fakeStream) Kinds() []Kind { return f.kinds }

func (f *fakeStream) Run(ctx context.Context, emit func(Event)) error {
	if f.err != nil {
		return f.err
	}
	for _, e := range f.events {
		emit(e)
	}
	<-ctx.Done()
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return ctx.Err()
}

func (f *fakeStream) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func TestSamplerDefaults(t *testing.T) {
	s := NewSampler(logging.Discard())
	snap := s.Snapshot()
	test.That(t, snap.Orientation, test.ShouldResemble, orientation.Quaternion{W: -1})
	test.That(t, snap.AngularVelocity, test.ShouldResemble, orientation.MotionVector{})
	test.That(t, snap.LinearAcceleration, test.ShouldResemble, orientation.MotionVector{})
	test.That(t, snap.FrameID, test.ShouldEqual, "")
}

func TestSamplerOnEvent(t *testing.T) {
	s := NewSampler(logging.Discard())

	s.OnEvent(LinearAcceleration, []float64{0.1, 0.2, 9.8})
	s.OnEvent(Gyroscope, []float64{1, 2, 3, 4})
	s.OnEvent(RotationVector, []float64{0, 0, math.Pi})

	snap := s.Snapshot()
	test.That(t, snap.LinearAcceleration, test.ShouldResemble, orientation.MotionVector{X: 0.1, Y: 0.2, Z: 9.8})
	test.That(t, snap.AngularVelocity, test.ShouldResemble, orientation.MotionVector{X: 1, Y: 2, Z: 3})
	test.That(t, snap.Orientation.Z, test.ShouldAlmostEqual, 1)
	test.That(t, snap.Orientation.W, test.ShouldAlmostEqual, 0)

	t.Run("short events are ignored", func(t *testing.T) {
		s.OnEvent(Gyroscope, []float64{9, 9})
		s.OnEvent(RotationVector, []float64{1})
		s.OnEvent(Kind(42), []float64{1, 2, 3})
		test.That(t, s.Snapshot(), test.ShouldResemble, snap)
	})

	t.Run("non-finite events are ignored", func(t *testing.T) {
		s.OnEvent(Gyroscope, []float64{math.NaN(), 0, 0})
		s.OnEvent(LinearAcceleration, []float64{0, math.Inf(1), 0})
		s.OnEvent(RotationVector, []float64{0, 0, math.Inf(-1)})
		test.That(t, s.Snapshot(), test.ShouldResemble, snap)

		// a serial line spelling out nan parses, but never reaches the snapshot
		e, err := ParseLine("gyro,nan,0,0")
		test.That(t, err, test.ShouldBeNil)
		s.OnEvent(e.Kind, e.Values)
		test.That(t, s.Snapshot(), test.ShouldResemble, snap)
	})

	t.Run("frame id", func(t *testing.T) {
		s.SetFrameID("rod-7")
		test.That(t, s.Snapshot().FrameID, test.ShouldEqual, "rod-7")
		test.That(t, s.Snapshot().AngularVelocity, test.ShouldResemble, snap.AngularVelocity)
	})
}

func TestSamplerSnapshotIsACopy(t *testing.T) {
	s := NewSampler(logging.Discard())
	snap := s.Snapshot()
	snap.FrameID = "mutated"
	snap.AngularVelocity.X = 99
	test.That(t, s.Snapshot().FrameID, test.ShouldEqual, "")
	test.That(t, s.Snapshot().AngularVelocity.X, test.ShouldEqual, 0.0)
}

func TestSamplerConcurrentReaders(t *testing.T) {
	s := NewSampler(logging.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				v := float64(i*1000 + j)
				s.OnEvent(Gyroscope, []float64{v, v, v})
			}
		}(i)
	}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				g := s.Snapshot().AngularVelocity
				// a torn read would mix components of different events
				if g.X != g.Y || g.Y != g.Z {
					t.Errorf("inconsistent snapshot %+v", g)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestSamplerStartAndClose(t *testing.T) {
	st := &fakeStream{
		kinds: []Kind{Gyroscope},
		events: []Event{
			{Kind: Gyroscope, Values: []float64{0.5, 0, 0}},
		},
	}

	var buf bytes.Buffer
	s := NewSampler(logging.NewWriter("debug", &buf), st)
	s.Start(context.Background())

	deadline := time.Now().Add(time.Second)
	for s.Snapshot().AngularVelocity.X != 0.5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	test.That(t, s.Snapshot().AngularVelocity.X, test.ShouldEqual, 0.5)

	test.That(t, s.Close(), test.ShouldBeNil)
	test.That(t, st.isStopped(), test.ShouldBeTrue)
	// second close is a no-op
	test.That(t, s.Close(), test.ShouldBeNil)

	log := buf.String()
	test.That(t, log, test.ShouldContainSubstring, "no backend provides linear_acceleration")
	test.That(t, log, test.ShouldContainSubstring, "no backend provides rotation_vector")
}

func TestSamplerBackendUnavailable(t *testing.T) {
	st := &fakeStream{kinds: AllKinds, err: errors.New("no such device")}

	var buf bytes.Buffer
	s := NewSampler(logging.NewWriter("debug", &buf), st)
	s.Start(context.Background())
	err := s.Close()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "fake: no such device")
	test.That(t, s.Close(), test.ShouldBeNil)

	test.That(t, buf.String(), test.ShouldContainSubstring, "fake backend unavailable: no such device")
	test.That(t, s.Snapshot(), test.ShouldResemble, NewSampler(logging.Discard()).Snapshot())
}

func TestSamplerCloseBeforeStart(t *testing.T) {
	st := &fakeStream{kinds: AllKinds}
	s := NewSampler(logging.Discard(), st)
	s.Close()
	s.Start(context.Background())
	s.Close()
	test.That(t, st.isStopped(), test.ShouldBeFalse)
}
