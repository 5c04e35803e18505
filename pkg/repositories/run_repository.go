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
	"github.com/huandu/go-sqlbuilder"

	"github.com/pricekit/repricer/pkg/database"
	"github.com/pricekit/repricer/pkg/models"
	"github.com/pricekit/repricer/pkg/tracing"
)

const runsTable = "reconciliation_runs"

// RunRepository handles database operations for reconciliation runs.
type RunRepository struct {
	*Repository
}

// NewRunRepository creates a new run repository
func NewRunRepository(db database.DB, logger ectologger.Logger) *RunRepository {
	return &RunRepository{
		Repository: NewRepository(db, logger),
	}
}

// CreateRun persists a freshly started run record.
func (r *RunRepository) CreateRun(ctx context.Context, run *models.ReconciliationRun) error {
	ctx, span := tracing.StartSpan(ctx, "RunRepository.CreateRun")
	defer span.End()

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	now := time.Now().UTC()

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(runsTable).
		Cols(
			"id", "status", "settings",
			"total_items", "analyzed_items", "updated_items", "excluded_items", "failed_items", "kept_items",
			"started_at", "completed_at", "error_message", "created_at", "updated_at",
		).
		Values(
			run.ID, run.Status, run.Settings,
			run.Total, run.Analyzed, run.Updated, run.Excluded, run.Failed, run.KeptCurrent,
			run.StartedAt, run.CompletedAt, run.ErrorMessage, now, now,
		)
	ib.SQL("RETURNING created_at, updated_at")

	query, args := ib.Build()
	err := r.DB().QueryRowContext(ctx, query, args...).Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id": run.ID,
		}).Error("failed to create run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create run")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": run.ID,
	}).Debugf("Created %s", runsTable)
	return nil
}

// UpdateRun persists a run's current state and statistics.
func (r *RunRepository) UpdateRun(ctx context.Context, run *models.ReconciliationRun) error {
	ctx, span := tracing.StartSpan(ctx, "RunRepository.UpdateRun")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(runsTable).
		Set(
			ub.Assign("status", run.Status),
			ub.Assign("analyzed_items", run.Analyzed),
			ub.Assign("updated_items", run.Updated),
			ub.Assign("excluded_items", run.Excluded),
			ub.Assign("failed_items", run.Failed),
			ub.Assign("kept_items", run.KeptCurrent),
			ub.Assign("completed_at", run.CompletedAt),
			ub.Assign("error_message", run.ErrorMessage),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", run.ID))
	ub.SQL("RETURNING updated_at")

	query, args := ub.Build()
	err := r.DB().QueryRowContext(ctx, query, args...).Scan(&run.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return NotFound("run %s does not exist", run.ID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id": run.ID,
		}).Error("failed to update run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update run")
	}

	return nil
}

// GetRun retrieves a run by id
func (r *RunRepository) GetRun(ctx context.Context, id uuid.UUID) (*models.ReconciliationRun, error) {
	ctx, span := tracing.StartSpan(ctx, "RunRepository.GetRun")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("*").From(runsTable).Where(sb.Equal("id", id))

	query, args := sb.Build()
	var run models.ReconciliationRun
	err := r.DB().GetContext(ctx, &run, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("run %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id": id,
		}).Error("failed to get run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get run")
	}

	return &run, nil
}

// ListRuns retrieves the most recent runs, newest first.
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]models.ReconciliationRun, error) {
	ctx, span := tracing.StartSpan(ctx, "RunRepository.ListRuns")
	defer span.End()

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT *
		FROM reconciliation_runs
		ORDER BY created_at DESC
		LIMIT $1
	`

	var runs []models.ReconciliationRun
	err := r.DB().SelectContext(ctx, &runs, query, limit)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list runs")
	}

	return runs, nil
}
