package gesture

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// Run samples the tracker every interval while active reports true and hands
// each speed to out. It returns when ctx is cancelled.
func Run(ctx context.Context, clk clock.Clock, interval time.Duration, t *Tracker, active func() bool, out func(speed float64)) {
	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !active() {
				continue
			}
			out(t.Step(interval))
		}
	}
}
