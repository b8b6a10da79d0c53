package upload

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper runs one retry pass. *Coordinator implements it.
type Sweeper interface {
	Sweep(ctx context.Context) SweepResult
}

// Scanner drives periodic retry sweeps. It owns the spacing between sweeps;
// a sweep never overlaps the previous one.
type Scanner struct {
	sweeper  Sweeper
	interval time.Duration
	done     chan struct{}
}

// NewScanner creates a retry scanner.
func NewScanner(sweeper Sweeper, interval time.Duration) *Scanner {
	return &Scanner{
		sweeper:  sweeper,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start sweeps once right away, so entries left over from a previous run
// go out without waiting a full interval, then keeps sweeping on every tick
// until ctx ends.
func (s *Scanner) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		s.scan(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.scan(ctx)
			}
		}
	}()
}

// Wait returns once the loop started by Start has exited.
func (s *Scanner) Wait() {
	<-s.done
}

func (s *Scanner) scan(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res := s.sweeper.Sweep(ctx)
	switch {
	case res.Total == 0:
	case res.Failed > 0 || res.Buried > 0:
		slog.Warn("retry scanner: sweep left failures",
			"failed", res.Failed,
			"buried", res.Buried,
			"retried", res.Retried,
			"total", res.Total,
		)
	case res.Retried > 0:
		slog.Info("retry scanner: sweep complete", "retried", res.Retried, "total", res.Total)
	}
}
