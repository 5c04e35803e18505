package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/pricekit/repricer/pkg/database"
	"github.com/pricekit/repricer/pkg/models"
	"github.com/pricekit/repricer/pkg/tracing"
)

const statisticsTable = "repricer_statistics"

var statisticsStruct = database.NewStruct(new(models.RepricerStatistics))

// StatisticsRepository maintains the single all-time aggregate row that every
// terminal run folds into.
type StatisticsRepository struct {
	*Repository
}

// NewStatisticsRepository creates a new statistics repository
func NewStatisticsRepository(db database.DB, logger ectologger.Logger) *StatisticsRepository {
	return &StatisticsRepository{
		Repository: NewRepository(db, logger),
	}
}

// RecordRun folds one finished run into the aggregates.
// Using raw SQL for the upsert with arithmetic.
func (r *StatisticsRepository) RecordRun(ctx context.Context, run *models.ReconciliationRun) error {
	ctx, span := tracing.StartSpan(ctx, "StatisticsRepository.RecordRun")
	defer span.End()

	now := time.Now().UTC()

	var runTimeMs int
	if run.StartedAt != nil && run.CompletedAt != nil {
		runTimeMs = int(run.CompletedAt.Sub(*run.StartedAt).Milliseconds())
	}

	query := `
		INSERT INTO repricer_statistics (id, last_run_at, last_completed_at, last_failure_at,
			total_runs, total_completed, total_cancelled, total_failed_runs,
			total_items_analyzed, total_items_updated, average_run_time_ms,
			created_at, updated_at)
		VALUES ($1, $2,
			CASE WHEN $3::int = 1 THEN $2 END,
			CASE WHEN $5::int = 1 THEN $2 END,
			1, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (id)
		DO UPDATE SET
			last_run_at = $2,
			last_completed_at = CASE WHEN $3::int = 1 THEN $2 ELSE repricer_statistics.last_completed_at END,
			last_failure_at = CASE WHEN $5::int = 1 THEN $2 ELSE repricer_statistics.last_failure_at END,
			total_runs = repricer_statistics.total_runs + 1,
			total_completed = repricer_statistics.total_completed + $3,
			total_cancelled = repricer_statistics.total_cancelled + $4,
			total_failed_runs = repricer_statistics.total_failed_runs + $5,
			total_items_analyzed = repricer_statistics.total_items_analyzed + $6,
			total_items_updated = repricer_statistics.total_items_updated + $7,
			average_run_time_ms = (
				COALESCE(repricer_statistics.average_run_time_ms, 0) * repricer_statistics.total_runs + $8
			) / (repricer_statistics.total_runs + 1),
			updated_at = $9`

	completed := boolToInt(run.Status == models.RunStatusCompleted)
	cancelled := boolToInt(run.Status == models.RunStatusCancelled)
	failed := boolToInt(run.Status == models.RunStatusFailed)

	_, err := r.DB().ExecContext(ctx, query,
		statisticsRowID, now, completed, cancelled, failed,
		run.Analyzed, run.Updated, runTimeMs, now,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id": run.ID,
			"status": run.Status,
		}).Error("failed to record run statistics")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record run statistics")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": run.ID,
		"status": run.Status,
	}).Debugf("Recorded run in %s", statisticsTable)
	return nil
}

// Get retrieves the aggregate row. A fresh database yields zeroed aggregates.
func (r *StatisticsRepository) Get(ctx context.Context) (*models.RepricerStatistics, error) {
	ctx, span := tracing.StartSpan(ctx, "StatisticsRepository.Get")
	defer span.End()

	sb := statisticsStruct.SelectFrom(statisticsTable)
	sb.Where(sb.Equal("id", statisticsRowID))

	query, args := sb.Build()
	var stats models.RepricerStatistics
	err := r.DB().GetContext(ctx, &stats, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		// No runs have finished yet; an aggregate view starts at zero.
		return &models.RepricerStatistics{ID: statisticsRowID}, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get repricer statistics")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repricer statistics")
	}

	return &stats, nil
}

// statisticsRowID pins the aggregates to a single well-known row.
var statisticsRowID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
