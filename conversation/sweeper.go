package conversation

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultSweepInterval is how often the Sweeper runs CleanupExpired.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically ends expired sessions. At most one sweep runs at a
// time; a sweep that panics is logged and the next tick tries again.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger

	running atomic.Bool
	sweeps  atomic.Int64
	failed  atomic.Int64
}

// NewSweeper creates a Sweeper for m. A non-positive interval uses DefaultSweepInterval.
func NewSweeper(m *Manager, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		manager:  m,
		interval: interval,
		logger:   logger.With("component", "conversation_sweeper"),
	}
}

// Run sweeps on every tick until ctx is done. Sweeps run inline, so none is
// in flight once Run returns; ticks that arrive during a sweep are dropped.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("conversation sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("conversation sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce runs one sweep unless another is in flight. It returns the number
// of sessions ended and whether the sweep ran.
func (s *Sweeper) SweepOnce() (ended int, ran bool) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("sweep already in flight, skipping tick")
		return 0, false
	}
	defer s.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			s.failed.Add(1)
			ended, ran = 0, true
			s.logger.Error("conversation sweep failed, retrying next tick", "panic", r)
		}
	}()

	ended = s.manager.CleanupExpired()
	s.sweeps.Add(1)
	if ended > 0 {
		s.logger.Info("conversation sweep finished", "ended", ended)
	}
	return ended, true
}

// Stats returns completed and failed sweep counts.
func (s *Sweeper) Stats() (sweeps, failed int64) {
	return s.sweeps.Load(), s.failed.Load()
}
