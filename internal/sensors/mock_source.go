// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
)

type mockSource struct {
	clk      clock.Clock
	interval time.Duration
	start    time.Time
}

// NewMockSource creates a backend that generates smoothly changing readings
// on all three channels, for running without hardware.
func NewMockSource(clk clock.Clock, interval time.Duration) Stream {
	return &mockSource{clk: clk, interval: interval}
}

func (m *mockSource) Name() string { return "mock" }

func (m *mockSource) Kinds() []Kind { return AllKinds }

func (m *mockSource) Run(ctx context.Context, emit func(Event)) error {
	m.start = m.clk.Now()
	ticker := m.clk.Ticker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for _, e := range m.sample(now.Sub(m.start).Seconds()) {
				emit(e)
			}
		}
	}
}

// sample returns the readings at elapsed seconds: a slow rocking of the rod
// about x and a steady turn about z.
func (m *mockSource) sample(elapsed float64) []Event {
	roll := 0.35 * math.Sin(elapsed)
	yaw := math.Mod(elapsed*0.5, 2*math.Pi)

	return []Event{
		{Kind: RotationVector, Values: []float64{roll, 0, yaw}},
		{Kind: Gyroscope, Values: []float64{0.35 * math.Cos(elapsed), 0, 0.5}},
		{Kind: LinearAcceleration, Values: []float64{0.2 * math.Sin(elapsed*0.7), 0.1 * math.Cos(elapsed*1.3), 0}},
	}
}
