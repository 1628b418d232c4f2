// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/relabs-tech/fishing_controller/internal/imu"
	"github.com/relabs-tech/fishing_controller/internal/logging"
	"github.com/relabs-tech/fishing_controller/internal/orientation"
)

// Kind identifies a sensor channel.
type Kind int

const (
	LinearAcceleration Kind = iota
	Gyroscope
	RotationVector
)

func (k Kind) String() string {
	switch k {
	case LinearAcceleration:
		return "linear_acceleration"
	case Gyroscope:
		return "gyroscope"
	case RotationVector:
		return "rotation_vector"
	default:
		return "unknown"
	}
}

// AllKinds lists the channels the sampler registers for.
var AllKinds = []Kind{LinearAcceleration, Gyroscope, RotationVector}

// Event is a single reading from one channel.
type Event struct {
	Kind   Kind
	Values []float64
}

// Stream is a sensor backend. Run delivers events through emit until ctx is
// cancelled and releases its device before returning. An error other than
// ctx.Err() means the backend could not run at all.
type Stream interface {
	Name() string
	Kinds() []Kind
	Run(ctx context.Context, emit func(Event)) error
}

// Sampler keeps the latest value of every channel. Events may arrive from any
// goroutine; readers get a consistent copy through Snapshot without blocking
// the producers.
type Sampler struct {
	logger  logging.Logger
	streams []Stream

	mu   sync.Mutex // serializes writers of snap and the start/close lifecycle
	snap *atomic.Pointer[imu.Snapshot]

	startOnce sync.Once
	closed    *atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	errMu sync.Mutex
	errs  error
}

// NewSampler creates a sampler fed by the given streams.
func NewSampler(logger logging.Logger, streams ...Stream) *Sampler {
	initial := imu.NewSnapshot()
	return &Sampler{
		logger:  logger,
		streams: streams,
		snap:    atomic.NewPointer(&initial),
		closed:  atomic.NewBool(false),
		cancel:  func() {},
	}
}

// Start runs every stream in its own goroutine. Channels no stream provides,
// and streams that fail to start, keep their default values.
func (s *Sampler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed.Load() {
			return
		}
		ctx, cancel := context.WithCancel(ctx)
		s.cancel = cancel

		provided := map[Kind]bool{}
		for _, st := range s.streams {
			for _, k := range st.Kinds() {
				provided[k] = true
			}
		}
		for _, k := range AllKinds {
			if !provided[k] {
				s.logger.Warnf("sensors: no backend provides %s, keeping default value", k)
			}
		}

		for _, st := range s.streams {
			st := st
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.logger.Infof("sensors: starting %s backend", st.Name())
				err := st.Run(ctx, func(e Event) { s.OnEvent(e.Kind, e.Values) })
				if err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Warnf("sensors: %s backend unavailable: %v", st.Name(), err)
					s.errMu.Lock()
					s.errs = multierr.Append(s.errs, fmt.Errorf("%s: %w", st.Name(), err))
					s.errMu.Unlock()
					return
				}
				s.logger.Debugf("sensors: %s backend stopped", st.Name())
			}()
		}
	})
}

// OnEvent updates the channel matching kind. Events with too few values or
// a NaN or infinite component are ignored.
func (s *Sampler) OnEvent(kind Kind, values []float64) {
	if !finite(values) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.snap.Load()
	switch kind {
	case LinearAcceleration:
		v, ok := orientation.VectorFromValues(values)
		if !ok {
			return
		}
		next.LinearAcceleration = v
	case Gyroscope:
		v, ok := orientation.VectorFromValues(values)
		if !ok {
			return
		}
		next.AngularVelocity = v
	case RotationVector:
		q, ok := orientation.QuaternionFromRotationVector(values)
		if !ok {
			return
		}
		next.Orientation = q
	default:
		return
	}
	s.snap.Store(&next)
}

// finite reports whether the three components every channel reads are
// finite numbers.
func finite(values []float64) bool {
	for i := 0; i < len(values) && i < 3; i++ {
		if math.IsNaN(values[i]) || math.IsInf(values[i], 0) {
			return false
		}
	}
	return true
}

// SetFrameID overwrites the identifier embedded in outgoing headers.
func (s *Sampler) SetFrameID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.snap.Load()
	next.FrameID = id
	s.snap.Store(&next)
}

// Snapshot returns a copy of the latest state.
func (s *Sampler) Snapshot() imu.Snapshot {
	return *s.snap.Load()
}

// Close stops every stream and waits for them to release their devices. It
// returns the combined errors of backends that could not run. Calling it
// again is a no-op returning nil.
func (s *Sampler) Close() error {
	s.mu.Lock()
	if !s.closed.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.errs
}
