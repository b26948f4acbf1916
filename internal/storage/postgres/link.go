package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"news_processor/internal/domain"
)

const linkColumns = `id, url, normalized_url, fingerprint, host, title, status,
	source_task, retry_count, error_message, not_before, discovered_at,
	processed_at, last_checked_at`

// LinkStore is the persisted link ledger. It is the single source of truth
// for dedup and work state; all cross-worker coordination goes through its
// atomic claim.
type LinkStore struct {
	db *sqlx.DB
	tx *TransactionManager
}

func NewLinkStore(db *sqlx.DB) *LinkStore {
	return &LinkStore{db: db, tx: NewTransactionManager(db)}
}

// Register inserts a pending link keyed by fingerprint if absent. Concurrent
// registration of the same fingerprint yields exactly one row; callers racing
// the insert get isNew=false and the winner's id.
func (s *LinkStore) Register(ctx context.Context, link *domain.Link) (isNew bool, id int64, err error) {
	ex := GetExecutor(ctx, s.db)

	query := `
		INSERT INTO links (url, normalized_url, fingerprint, host, title, source_task, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING id`

	err = ex.QueryRowxContext(ctx, query,
		link.URL,
		link.NormalizedURL,
		link.Fingerprint,
		link.Host,
		link.Title,
		link.SourceTask,
	).Scan(&id)

	if err == nil {
		return true, id, nil
	}
	if err != sql.ErrNoRows {
		return false, 0, fmt.Errorf("register link: %w", err)
	}

	err = sqlx.GetContext(ctx, ex, &id,
		"SELECT id FROM links WHERE fingerprint = $1",
		link.Fingerprint,
	)
	if err != nil {
		return false, 0, fmt.Errorf("resolve duplicate link: %w", err)
	}

	return false, id, nil
}

// ClaimNextPending atomically transitions up to limit pending links for a
// host to processing and returns them oldest-first. SKIP LOCKED plus the
// status guard makes concurrent claims disjoint; the losing caller simply
// sees fewer rows.
func (s *LinkStore) ClaimNextPending(ctx context.Context, host string, limit int) ([]domain.Link, error) {
	ex := GetExecutor(ctx, s.db)

	query := `
		WITH claimed AS (
			UPDATE links SET status = 'processing', last_checked_at = NOW()
			WHERE id IN (
				SELECT id FROM links
				WHERE status = 'pending'
				  AND host = $1
				  AND (not_before IS NULL OR not_before <= NOW())
				ORDER BY discovered_at ASC
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING ` + linkColumns + `
		)
		SELECT ` + linkColumns + ` FROM claimed ORDER BY discovered_at ASC`

	var links []domain.Link
	if err := sqlx.SelectContext(ctx, ex, &links, query, host, limit); err != nil {
		return nil, fmt.Errorf("claim pending links: %w", err)
	}

	return links, nil
}

// MarkCompleted stores the processor output and completes the link in one
// transaction.
func (s *LinkStore) MarkCompleted(ctx context.Context, linkID int64, content *domain.ProcessedContent) error {
	return s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		ex := GetExecutor(txCtx, s.db)

		_, err := ex.ExecContext(txCtx, `
			INSERT INTO processed_content (link_id, title, content, translated_content, metadata)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (link_id) DO UPDATE SET
				title = EXCLUDED.title,
				content = EXCLUDED.content,
				translated_content = EXCLUDED.translated_content,
				metadata = EXCLUDED.metadata,
				updated_at = NOW()`,
			linkID,
			content.Title,
			content.Content,
			content.TranslatedContent,
			nullableJSON(content.Metadata),
		)
		if err != nil {
			return fmt.Errorf("save processed content: %w", err)
		}

		_, err = ex.ExecContext(txCtx, `
			UPDATE links
			SET status = 'completed', error_message = NULL, processed_at = NOW(), last_checked_at = NOW()
			WHERE id = $1`,
			linkID,
		)
		if err != nil {
			return fmt.Errorf("complete link: %w", err)
		}

		return nil
	})
}

// MarkFailed records a failed attempt. With retries remaining the link
// reverts to pending, gated by notBefore; exhausted links fail terminally.
func (s *LinkStore) MarkFailed(ctx context.Context, linkID int64, errMsg string, retryExhausted bool, notBefore *time.Time) error {
	ex := GetExecutor(ctx, s.db)

	if retryExhausted {
		_, err := ex.ExecContext(ctx, `
			UPDATE links
			SET status = 'failed', error_message = $2, processed_at = NOW(), last_checked_at = NOW()
			WHERE id = $1`,
			linkID, errMsg,
		)
		if err != nil {
			return fmt.Errorf("fail link: %w", err)
		}
		return nil
	}

	_, err := ex.ExecContext(ctx, `
		UPDATE links
		SET status = 'pending',
		    retry_count = retry_count + 1,
		    error_message = $2,
		    not_before = $3,
		    last_checked_at = NOW()
		WHERE id = $1`,
		linkID, errMsg, notBefore,
	)
	if err != nil {
		return fmt.Errorf("requeue link: %w", err)
	}
	return nil
}

// ListPendingHosts returns hosts with claimable pending work, ordered by
// their oldest pending link. That order decides which host a freed lane
// takes next.
func (s *LinkStore) ListPendingHosts(ctx context.Context) ([]domain.HostQueue, error) {
	ex := GetExecutor(ctx, s.db)

	query := `
		SELECT host, COUNT(*) AS pending_count, MIN(discovered_at) AS oldest_at
		FROM links
		WHERE status = 'pending' AND (not_before IS NULL OR not_before <= NOW())
		GROUP BY host
		ORDER BY oldest_at ASC`

	var hosts []domain.HostQueue
	if err := sqlx.SelectContext(ctx, ex, &hosts, query); err != nil {
		return nil, fmt.Errorf("list pending hosts: %w", err)
	}

	return hosts, nil
}

// NextRetryAt reports the earliest moment a backoff-gated pending link
// becomes claimable, or nil when none is gated.
func (s *LinkStore) NextRetryAt(ctx context.Context) (*time.Time, error) {
	ex := GetExecutor(ctx, s.db)

	var next sql.NullTime
	err := sqlx.GetContext(ctx, ex, &next,
		"SELECT MIN(not_before) FROM links WHERE status = 'pending' AND not_before > NOW()",
	)
	if err != nil {
		return nil, fmt.Errorf("next retry at: %w", err)
	}
	if !next.Valid {
		return nil, nil
	}
	return &next.Time, nil
}

// GetByID fetches a single link.
func (s *LinkStore) GetByID(ctx context.Context, id int64) (*domain.Link, error) {
	ex := GetExecutor(ctx, s.db)

	var link domain.Link
	err := sqlx.GetContext(ctx, ex, &link,
		"SELECT "+linkColumns+" FROM links WHERE id = $1", id,
	)
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	return &link, nil
}

// GetProcessedContent fetches the stored processor output for a link, or
// nil when the link has not completed.
func (s *LinkStore) GetProcessedContent(ctx context.Context, linkID int64) (*domain.ProcessedContent, error) {
	ex := GetExecutor(ctx, s.db)

	var content domain.ProcessedContent
	err := sqlx.GetContext(ctx, ex, &content, `
		SELECT id, link_id, title, content, translated_content, metadata
		FROM processed_content
		WHERE link_id = $1`,
		linkID,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get processed content: %w", err)
	}
	return &content, nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
