package domain

import "time"

// RegisterStats holds statistics about one registration batch.
type RegisterStats struct {
	SourceTask string
	Received   int
	Registered int
	Duplicates int
	Invalid    int
	Duration   time.Duration
}

// DrainStats holds statistics about one drain pass of the worker.
type DrainStats struct {
	Claimed   int
	Completed int
	Failed    int
	Retried   int
	ByHost    map[string]HostStats
	Duration  time.Duration
}

type HostStats struct {
	Claimed   int
	Completed int
	Failed    int
	Retried   int
}

// LedgerStats is the read-only aggregation over the links table.
type LedgerStats struct {
	Total        int64
	Pending      int64
	Processing   int64
	Completed    int64
	Failed       int64
	ByTask       map[string]int64
	Discovered   int64 // total registration attempts across all tasks
	DuplicateHit int64 // Discovered - Total, dedup filter rate numerator
}
