package domain

import (
	"encoding/json"
	"time"
)

// LinkStatus is the lifecycle state of a discovered link.
type LinkStatus string

const (
	StatusPending    LinkStatus = "pending"
	StatusProcessing LinkStatus = "processing"
	StatusCompleted  LinkStatus = "completed"
	StatusFailed     LinkStatus = "failed"
)

type Link struct {
	ID            int64      `db:"id"`
	URL           string     `db:"url"` // raw, as first discovered
	NormalizedURL string     `db:"normalized_url"`
	Fingerprint   string     `db:"fingerprint"`
	Host          string     `db:"host"`
	Title         *string    `db:"title"`
	Status        LinkStatus `db:"status"`
	SourceTask    string     `db:"source_task"`
	RetryCount    int        `db:"retry_count"`
	ErrorMessage  *string    `db:"error_message"`
	NotBefore     *time.Time `db:"not_before"`
	DiscoveredAt  time.Time  `db:"discovered_at"`
	ProcessedAt   *time.Time `db:"processed_at"`
	LastCheckedAt *time.Time `db:"last_checked_at"`
}

// ProcessedContent holds the content processor's output for a completed
// link, stored verbatim. One row per link, owned by it.
type ProcessedContent struct {
	ID                int64           `db:"id"`
	LinkID            int64           `db:"link_id"`
	Title             *string         `db:"title"`
	Content           *string         `db:"content"`
	TranslatedContent *string         `db:"translated_content"`
	Metadata          json.RawMessage `db:"metadata"` // opaque, stored verbatim
}

// DiscoveredLink is one item of a discovery batch, before normalization.
type DiscoveredLink struct {
	URL   string  `json:"url"`
	Title *string `json:"title,omitempty"`
}

// HostQueue describes a host with claimable pending links.
type HostQueue struct {
	Host         string    `db:"host"`
	PendingCount int       `db:"pending_count"`
	OldestAt     time.Time `db:"oldest_at"`
}

type TaskState struct {
	ID              int64     `db:"id"`
	TaskName        string    `db:"task_name"`
	LastRunAt       time.Time `db:"last_run_at"`
	TotalRuns       int64     `db:"total_runs"`
	TotalDiscovered int64     `db:"total_discovered"`
	TotalNew        int64     `db:"total_new"`
}
