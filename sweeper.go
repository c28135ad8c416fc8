package threadref

import (
	"context"
	"time"
)

// DefaultSweepInterval is used by [NewSweeper] when given a non-positive interval.
const DefaultSweepInterval = 10 * time.Second

// Sweeper calls [Sweep] periodically, so that goroutines which were not started with [Go] and never
// called [Exit] are still noticed when they end.
type Sweeper struct {
	interval time.Duration
}

// NewSweeper returns a Sweeper that sweeps every interval.
func NewSweeper(interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{interval: interval}
}

// Interval returns the time between sweeps.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Run sweeps every interval until ctx is canceled, then returns ctx.Err(). A final sweep is not
// performed on cancellation.
func (s *Sweeper) Run(ctx context.Context) error {
	log := logger().WithField("interval", s.interval)
	log.Debug("sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			Sweep()
		}
	}
}
