package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"news_processor/internal/domain"
)

// StatsStore aggregates over the ledger. Read-only, safe to call while
// workers are claiming and updating links.
type StatsStore struct {
	db *sqlx.DB
}

func NewStatsStore(db *sqlx.DB) *StatsStore {
	return &StatsStore{db: db}
}

func (s *StatsStore) LedgerStats(ctx context.Context) (*domain.LedgerStats, error) {
	stats := &domain.LedgerStats{ByTask: make(map[string]int64)}

	err := s.db.QueryRowxContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM links`,
	).Scan(&stats.Total, &stats.Pending, &stats.Processing, &stats.Completed, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("count links by status: %w", err)
	}

	rows, err := s.db.QueryxContext(ctx,
		"SELECT source_task, COUNT(*) FROM links GROUP BY source_task",
	)
	if err != nil {
		return nil, fmt.Errorf("count links by task: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var task string
		var count int64
		if err := rows.Scan(&task, &count); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		stats.ByTask[task] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = sqlx.GetContext(ctx, s.db, &stats.Discovered,
		"SELECT COALESCE(SUM(total_discovered), 0) FROM task_state",
	)
	if err != nil {
		return nil, fmt.Errorf("sum discovered: %w", err)
	}

	stats.DuplicateHit = stats.Discovered - stats.Total
	if stats.DuplicateHit < 0 {
		stats.DuplicateHit = 0
	}

	return stats, nil
}
