package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"news_processor/internal/domain"
)

type LinkStore interface {
	Register(ctx context.Context, link *domain.Link) (isNew bool, id int64, err error)
	ClaimNextPending(ctx context.Context, host string, limit int) ([]domain.Link, error)
	MarkCompleted(ctx context.Context, linkID int64, content *domain.ProcessedContent) error
	MarkFailed(ctx context.Context, linkID int64, errMsg string, retryExhausted bool, notBefore *time.Time) error
	ListPendingHosts(ctx context.Context) ([]domain.HostQueue, error)
	NextRetryAt(ctx context.Context) (*time.Time, error)
}

type TaskStateStore interface {
	Get(ctx context.Context, taskName string) (*domain.TaskState, error)
	RecordRun(ctx context.Context, taskName string, discovered, newLinks int) error
}

// Processor is the external content-processing capability, invoked once per
// claimed attempt. Must be safe to call concurrently for different URLs.
type Processor interface {
	Process(ctx context.Context, url string) (*domain.ProcessedContent, error)
}

type Publisher interface {
	Publish(ctx context.Context, link *domain.Link, content *domain.ProcessedContent) error
	Close() error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
