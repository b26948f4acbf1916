package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"news_processor/internal/domain"
	"news_processor/internal/urlnorm"
)

// RegisterService feeds discovery output into the link ledger. It normalizes
// each candidate URL and registers it keyed by fingerprint, so repeated
// discovery of the same page from any task collapses to one link.
type RegisterService struct {
	links  LinkStore
	tasks  TaskStateStore
	logger *slog.Logger
}

func NewRegisterService(links LinkStore, tasks TaskStateStore, logger *slog.Logger) *RegisterService {
	return &RegisterService{
		links:  links,
		tasks:  tasks,
		logger: logger,
	}
}

// RegisterBatch registers one discovery batch under a source task. Malformed
// URLs are counted and skipped, never stored. Store errors abort the batch.
func (s *RegisterService) RegisterBatch(ctx context.Context, task string, items []domain.DiscoveredLink) (*domain.RegisterStats, error) {
	startTime := time.Now()
	logger := s.logger.With("task", task)
	logger.Info("registering discovered links", "count", len(items))

	stats := &domain.RegisterStats{
		SourceTask: task,
		Received:   len(items),
	}

	for _, item := range items {
		normalized, fingerprint, err := urlnorm.Normalize(item.URL)
		if err != nil {
			if errors.Is(err, urlnorm.ErrInvalidURL) {
				stats.Invalid++
				logger.Warn("skipping invalid url", "url", item.URL, "error", err)
				continue
			}
			return stats, fmt.Errorf("normalize url: %w", err)
		}

		host, err := urlnorm.Host(normalized)
		if err != nil {
			stats.Invalid++
			continue
		}

		link := &domain.Link{
			URL:           item.URL,
			NormalizedURL: normalized,
			Fingerprint:   fingerprint,
			Host:          host,
			Title:         item.Title,
			SourceTask:    task,
		}

		isNew, id, err := s.links.Register(ctx, link)
		if err != nil {
			return stats, fmt.Errorf("register link: %w", err)
		}

		if isNew {
			stats.Registered++
			logger.Debug("registered link", "id", id, "url", normalized)
		} else {
			stats.Duplicates++
		}
	}

	if err := s.tasks.RecordRun(ctx, task, stats.Received, stats.Registered); err != nil {
		return stats, fmt.Errorf("record task run: %w", err)
	}

	stats.Duration = time.Since(startTime)

	logger.Info("registration completed",
		"received", stats.Received,
		"registered", stats.Registered,
		"duplicates", stats.Duplicates,
		"invalid", stats.Invalid,
		"duration", stats.Duration,
	)

	return stats, nil
}
