package models

import (
	"time"

	"github.com/google/uuid"
)

// Outcome classifies the pricing decision for one product in one run
type Outcome string

const (
	// OutcomeUpdateCandidate means the candidate price qualifies for an update
	OutcomeUpdateCandidate Outcome = "update_candidate"

	// OutcomeKeepCurrent means the candidate would not undercut the live price
	OutcomeKeepCurrent Outcome = "keep_current"

	// OutcomeExcludedLowMargin means the candidate's margin is below the floor
	OutcomeExcludedLowMargin Outcome = "excluded_low_margin"

	// OutcomeExcludedLoss means the candidate is below cost (or floored to the minimum price)
	OutcomeExcludedLoss Outcome = "excluded_loss"

	// OutcomeLookupFailed means the competitor lookup exhausted its retries
	OutcomeLookupFailed Outcome = "lookup_failed"
)

// Excluded reports whether the outcome is one of the exclusion buckets.
func (o Outcome) Excluded() bool {
	return o == OutcomeExcludedLowMargin || o == OutcomeExcludedLoss
}

// AnalysisResult is the immutable per-item outcome of one run.
type AnalysisResult struct {
	ID              uuid.UUID `db:"id" json:"id"`
	RunID           uuid.UUID `db:"run_id" json:"run_id"`
	ProductID       uuid.UUID `db:"product_id" json:"product_id"`
	CompetitorPrice int64     `db:"competitor_price" json:"competitor_price"`
	CandidatePrice  int64     `db:"candidate_price" json:"candidate_price"`
	Margin          int64     `db:"margin" json:"margin"`
	Outcome         Outcome   `db:"outcome" json:"outcome"`
	Applied         bool      `db:"applied" json:"applied"`
	FailureDetail   *string   `db:"failure_detail" json:"failure_detail,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (AnalysisResult) TableName() string {
	return "analysis_results"
}
