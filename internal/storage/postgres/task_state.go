package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"news_processor/internal/domain"
)

// TaskStateStore tracks per-source-task discovery counters. The running
// discovered total feeds the dedup-rate statistic.
type TaskStateStore struct {
	db *sqlx.DB
}

func NewTaskStateStore(db *sqlx.DB) *TaskStateStore {
	return &TaskStateStore{db: db}
}

func (s *TaskStateStore) Get(ctx context.Context, taskName string) (*domain.TaskState, error) {
	ex := GetExecutor(ctx, s.db)

	var state domain.TaskState
	query := `
		SELECT id, task_name, last_run_at, total_runs, total_discovered, total_new
		FROM task_state
		WHERE task_name = $1`

	err := sqlx.GetContext(ctx, ex, &state, query, taskName)
	if err == sql.ErrNoRows {
		// Return empty state for new tasks
		return &domain.TaskState{
			TaskName:  taskName,
			LastRunAt: time.Time{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task state: %w", err)
	}
	return &state, nil
}

// RecordRun bumps the task's counters after one registration batch. The
// increments happen in SQL so concurrent batches never lose updates.
func (s *TaskStateStore) RecordRun(ctx context.Context, taskName string, discovered, newLinks int) error {
	ex := GetExecutor(ctx, s.db)

	query := `
		INSERT INTO task_state (task_name, last_run_at, total_runs, total_discovered, total_new)
		VALUES ($1, NOW(), 1, $2, $3)
		ON CONFLICT (task_name) DO UPDATE SET
			last_run_at = NOW(),
			total_runs = task_state.total_runs + 1,
			total_discovered = task_state.total_discovered + EXCLUDED.total_discovered,
			total_new = task_state.total_new + EXCLUDED.total_new`

	if _, err := ex.ExecContext(ctx, query, taskName, discovered, newLinks); err != nil {
		return fmt.Errorf("record task run: %w", err)
	}
	return nil
}
