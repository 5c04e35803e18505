package models

import (
	"time"

	"github.com/google/uuid"
)

// RepricerStatistics holds all-time aggregate counters across runs.
// A single row is upserted after every terminal run.
type RepricerStatistics struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	LastRunAt          *time.Time `db:"last_run_at" json:"last_run_at,omitempty"`
	LastCompletedAt    *time.Time `db:"last_completed_at" json:"last_completed_at,omitempty"`
	LastFailureAt      *time.Time `db:"last_failure_at" json:"last_failure_at,omitempty"`
	TotalRuns          int64      `db:"total_runs" json:"total_runs"`
	TotalCompleted     int64      `db:"total_completed" json:"total_completed"`
	TotalCancelled     int64      `db:"total_cancelled" json:"total_cancelled"`
	TotalFailedRuns    int64      `db:"total_failed_runs" json:"total_failed_runs"`
	TotalItemsAnalyzed int64      `db:"total_items_analyzed" json:"total_items_analyzed"`
	TotalItemsUpdated  int64      `db:"total_items_updated" json:"total_items_updated"`
	AverageRunTimeMs   *int       `db:"average_run_time_ms" json:"average_run_time_ms,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (RepricerStatistics) TableName() string {
	return "repricer_statistics"
}
