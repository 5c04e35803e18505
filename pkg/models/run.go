package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/pricekit/repricer/pkg/database"
)

// RunStatus represents the lifecycle state of a reconciliation run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusCancelled || s == RunStatusFailed
}

// RunStatistics are the aggregate counters for one run. Counters are
// monotonically non-decreasing while the run is live; the final snapshot is
// emitted exactly once. Every analyzed item lands in exactly one of
// Updated, Excluded, Failed or KeptCurrent.
type RunStatistics struct {
	Total       int64 `db:"total_items" json:"total"`
	Analyzed    int64 `db:"analyzed_items" json:"analyzed"`
	Updated     int64 `db:"updated_items" json:"updated"`
	Excluded    int64 `db:"excluded_items" json:"excluded"`
	Failed      int64 `db:"failed_items" json:"failed"`
	KeptCurrent int64 `db:"kept_items" json:"kept_current"`
}

// ReconciliationRun is the persisted execution record for one batch run.
type ReconciliationRun struct {
	ID       uuid.UUID                              `db:"id" json:"id"`
	Status   RunStatus                              `db:"status" json:"status"`
	Settings database.JSONB[ReconciliationSettings] `db:"settings" json:"settings"`

	// Embedded so sqlx maps the counter columns directly onto the run row.
	RunStatistics

	StartedAt    *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (ReconciliationRun) TableName() string {
	return "reconciliation_runs"
}
