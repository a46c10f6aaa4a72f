package database

import "time"

// Thread is one row of the thread table, as produced by the ingestion query.
type Thread struct {
	ID          int64
	Title       string
	Author      string
	Type        string
	Score       int
	Descendants int
	CreatedAt   time.Time
	Source      *string
}

// UpsertResult tells whether an upsert created or refreshed a row.
type UpsertResult int

const (
	Unchanged UpsertResult = iota
	Inserted
	Updated
)

// CollectRun records one collection pass over a source.
type CollectRun struct {
	ID       int64
	Source   string
	Found    int
	Inserted int
	Updated  int
	Skipped  int
	RanAt    *string
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalThreads int
	Authors      int
	FirstYear    int
	LastYear     int
	ByType       map[string]int
	CollectRuns  int
}
