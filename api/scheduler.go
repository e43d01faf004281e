/*
scheduler.go - Periodic wage reconciliation

PURPOSE:
  Recomputes every wage record from its approved entries on a fixed interval.
  Pay-rate changes, approvals, direct entries, corrections and deletions
  recalculate the covering records in their own transaction; the sweep
  catches rows edited outside the engine.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Runs once immediately on Start
  - Only records whose totals actually change are written and audited

USAGE:
  s := NewWageReconciler(engine.Wages, log)
  s.Start()
  // ... later
  s.Stop()
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/production-engine/logger"
)

// Reconciler recalculates all wage records. Implemented by *production.WageAggregator.
type Reconciler interface {
	RecalculateAll(ctx context.Context) (int, error)
}

// WageReconciler runs Reconciler.RecalculateAll on an interval.
type WageReconciler struct {
	Wages    Reconciler
	Interval time.Duration
	Enabled  bool
	Log      *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex // guards Start/Stop

	lastMu  sync.Mutex
	lastRun time.Time
}

// NewWageReconciler creates an enabled reconciler with a one hour interval.
func NewWageReconciler(wages Reconciler, log *zap.Logger) *WageReconciler {
	return &WageReconciler{
		Wages:    wages,
		Interval: time.Hour,
		Enabled:  true,
		Log:      logger.OrNop(log).Named("scheduler"),
	}
}

// Start begins the reconciler.
func (s *WageReconciler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info("wage reconciler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)

	go s.run(ctx)

	s.Log.Info("wage reconciler started", zap.Duration("interval", s.Interval))
}

// Stop stops the reconciler and waits for an in-flight run to finish.
func (s *WageReconciler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.cancel()
	s.wg.Wait()
	s.ticker = nil
	s.Log.Info("wage reconciler stopped")
}

func (s *WageReconciler) run(ctx context.Context) {
	defer s.wg.Done()

	s.reconcile(ctx)

	for {
		select {
		case <-s.ticker.C:
			s.reconcile(ctx)
		case <-s.stop:
			return
		}
	}
}

func (s *WageReconciler) reconcile(ctx context.Context) {
	started := time.Now()
	changed, err := s.Wages.RecalculateAll(ctx)
	if errors.Is(err, context.Canceled) {
		s.Log.Debug("wage reconciliation interrupted", zap.Int("changed", changed))
		return
	}
	if err != nil {
		s.Log.Error("wage reconciliation failed", zap.Error(err))
		return
	}

	s.lastMu.Lock()
	s.lastRun = started
	s.lastMu.Unlock()

	if changed > 0 {
		s.Log.Info("wage records reconciled",
			zap.Int("changed", changed),
			zap.Duration("took", time.Since(started)))
	}
}

// RunNow triggers an immediate pass.
func (s *WageReconciler) RunNow(ctx context.Context) {
	s.reconcile(ctx)
}

// LastRun returns when the last successful pass started.
func (s *WageReconciler) LastRun() time.Time {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.lastRun
}
