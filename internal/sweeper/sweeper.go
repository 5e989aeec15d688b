package sweeper

import (
	"context"
	"sync"
	"time"

	"donations/internal/app/reconcile"

	"go.uber.org/zap"
)

// Sweeper periodically reconciles pending donations that stopped
// receiving gateway notifications, and fails the ones that stayed
// pending past the expiry age.
type Sweeper struct {
	service   reconcile.ReconcileService
	interval  time.Duration
	staleAge  time.Duration
	expireAge time.Duration
	logger    *zap.Logger
	stopOnce  sync.Once
	stopped   chan struct{}
	done      chan struct{}
}

func NewSweeper(
	service reconcile.ReconcileService,
	interval time.Duration,
	staleAge time.Duration,
	expireAge time.Duration,
	logger *zap.Logger,
) *Sweeper {
	return &Sweeper{
		service:   service,
		interval:  interval,
		staleAge:  staleAge,
		expireAge: expireAge,
		logger:    logger,
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("Starting stale donation sweeper",
		zap.Duration("interval", s.interval),
		zap.Duration("stale_age", s.staleAge),
		zap.Duration("expire_age", s.expireAge))
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopped:
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
	})
	<-s.done
	s.logger.Info("Stale donation sweeper stopped")
}

func (s *Sweeper) runOnce(ctx context.Context) {
	if _, err := s.service.SweepStalePending(ctx, s.staleAge); err != nil {
		s.logger.Error("Stale pending sweep failed", zap.Error(err))
	}
	if _, err := s.service.ExpireStalePending(ctx, s.expireAge); err != nil {
		s.logger.Error("Stale pending expiry failed", zap.Error(err))
	}
}
