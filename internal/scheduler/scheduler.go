package scheduler

import (
	"context"
	"log/slog"
	"time"

	"news_processor/internal/domain"
)

// Drainer defines the interface for drain passes over pending links.
type Drainer interface {
	ProcessPending(ctx context.Context) (*domain.DrainStats, error)
}

type Scheduler struct {
	drainer      Drainer
	interval     time.Duration
	drainTimeout time.Duration
	logger       *slog.Logger
}

func NewScheduler(drainer Drainer, interval, drainTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		drainer:      drainer,
		interval:     interval,
		drainTimeout: drainTimeout,
		logger:       logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.runDrain(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runDrain(ctx)
		}
	}
}

func (s *Scheduler) runDrain(ctx context.Context) {
	drainCtx, cancel := context.WithTimeout(ctx, s.drainTimeout)
	defer cancel()

	if _, err := s.drainer.ProcessPending(drainCtx); err != nil && err != context.Canceled {
		s.logger.Error("drain pass failed", "error", err)
	}
}
