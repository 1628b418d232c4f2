// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/relabs-tech/fishing_controller/internal/sensors"
)

// RunSensorConsole starts sampler and prints its readout every interval
// until ctx is cancelled, without any rosbridge connection.
func RunSensorConsole(ctx context.Context, sampler *sensors.Sampler, clk clock.Clock, interval time.Duration, out io.Writer) error {
	sampler.Start(ctx)

	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return sampler.Close()
		case <-ticker.C:
			snap := sampler.Snapshot()
			q := snap.Orientation
			fmt.Fprintf(out,
				"ACC=%7.3f %7.3f %7.3f  GYR=%7.3f %7.3f %7.3f  Q=%6.3f %6.3f %6.3f %6.3f\n",
				snap.LinearAcceleration.X, snap.LinearAcceleration.Y, snap.LinearAcceleration.Z,
				snap.AngularVelocity.X, snap.AngularVelocity.Y, snap.AngularVelocity.Z,
				q.X, q.Y, q.Z, q.W,
			)
		}
	}
}
