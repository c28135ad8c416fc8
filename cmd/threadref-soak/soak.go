package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sharnoff/threadref"
)

// roundStats is what a single round observed.
type roundStats struct {
	Workers   int
	Detached  int
	Fired     int
	Callbacks int
	Elapsed   time.Duration
}

func (s roundStats) fields() logrus.Fields {
	return logrus.Fields{
		"workers":   s.Workers,
		"detached":  s.Detached,
		"fired":     s.Fired,
		"callbacks": s.Callbacks,
		"elapsed":   s.Elapsed,
	}
}

var errTimedOut = errors.New("timed out waiting for goroutine ends to be observed")

// soak runs cfg.Rounds rounds with a sweeper running in the background.
func soak(ctx context.Context, cfg Config, log *logrus.Entry) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sweeper := threadref.NewSweeper(cfg.SweepInterval.Duration)
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := sweeper.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		defer cancel()
		for round := 1; round <= cfg.Rounds; round += 1 {
			stats, err := runRound(ctx, cfg)
			roundLog := log.WithField("round", round).WithFields(stats.fields())
			if err != nil {
				roundLog.WithError(err).Error("round failed")
				return fmt.Errorf("round %d: %w", round, err)
			}
			roundLog.Info("round complete")
		}
		return nil
	})

	return eg.Wait()
}

// runRound starts cfg.Goroutines workers, each registering a Ref callback and a Finalizer, then
// waits until every end has been observed.
//
// Even-numbered workers run in a threadref.Group and drop their anchors on return; odd-numbered
// ones are plain goroutines that only the sweeper notices.
func runRound(ctx context.Context, cfg Config) (roundStats, error) {
	start := time.Now()
	n := cfg.Goroutines

	fired := make([]atomic.Int32, n)
	detached := make([]atomic.Bool, n)
	var callbacks atomic.Int32

	worker := func(i int) error {
		r := threadref.NewRef(func() { callbacks.Add(1) })
		f := threadref.NewFinalizer(func(args ...any) {
			fired[args[0].(int)].Add(1)
		}, i)

		if cfg.DetachEvery > 0 && i%cfg.DetachEvery == 0 {
			if _, ok := f.Detach(); ok {
				detached[i].Store(true)
			}
		}

		if g := r.Get(); g == nil {
			return fmt.Errorf("worker %d: reference reported its own goroutine as ended", i)
		} else if f.Alive() == detached[i].Load() {
			return fmt.Errorf("worker %d: finalizer on %s alive=%v after detach=%v", i, g, f.Alive(), detached[i].Load())
		}
		return nil
	}

	group := threadref.NewGroup("soak")
	groupErrs := make(chan error, n)
	var plain errgroup.Group
	for i := 0; i < n; i += 1 {
		if i%2 == 0 {
			group.Go("worker", func() {
				if err := worker(i); err != nil {
					groupErrs <- err
				}
			})
		} else {
			plain.Go(func() error { return worker(i) })
		}
	}
	if err := plain.Wait(); err != nil {
		return roundStats{Workers: n, Elapsed: time.Since(start)}, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout.Duration)
	defer cancel()
	if err := group.TryWait(ctx); err != nil {
		return roundStats{Workers: n, Elapsed: time.Since(start)}, fmt.Errorf("waiting for workers: %w", err)
	}
	select {
	case err := <-groupErrs:
		return roundStats{Workers: n, Elapsed: time.Since(start)}, err
	default:
	}

	expectedFired := 0
	for i := range detached {
		if !detached[i].Load() {
			expectedFired += 1
		}
	}

	stats := func() roundStats {
		s := roundStats{Workers: n, Callbacks: int(callbacks.Load()), Elapsed: time.Since(start)}
		for i := range fired {
			s.Fired += int(fired[i].Load())
			if detached[i].Load() {
				s.Detached += 1
			}
		}
		return s
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		s := stats()
		if err := checkFired(fired, detached); err != nil {
			return s, err
		}
		if s.Fired == expectedFired && s.Callbacks == n {
			return s, nil
		}

		runtime.GC()
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return s, errTimedOut
			}
			return s, ctx.Err()
		case <-ticker.C:
		}
	}
}

// checkFired returns an error if any finalizer fired twice, or fired after being detached.
func checkFired(fired []atomic.Int32, detached []atomic.Bool) error {
	for i := range fired {
		c := fired[i].Load()
		switch {
		case c > 1:
			return fmt.Errorf("finalizer of worker %d fired %d times", i, c)
		case c == 1 && detached[i].Load():
			return fmt.Errorf("finalizer of worker %d fired after being detached", i)
		}
	}
	return nil
}
