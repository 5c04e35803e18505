package repositories

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/pricekit/repricer/pkg/database"
	"github.com/pricekit/repricer/pkg/models"
	"github.com/pricekit/repricer/pkg/tracing"
)

const resultsTable = "analysis_results"

// ResultRepository handles database operations for per-item analysis results.
type ResultRepository struct {
	*Repository
}

// NewResultRepository creates a new result repository
func NewResultRepository(db database.DB, logger ectologger.Logger) *ResultRepository {
	return &ResultRepository{
		Repository: NewRepository(db, logger),
	}
}

// InsertResult persists one immutable analysis result.
func (r *ResultRepository) InsertResult(ctx context.Context, result *models.AnalysisResult) error {
	ctx, span := tracing.StartSpan(ctx, "ResultRepository.InsertResult")
	defer span.End()

	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(resultsTable).
		Cols(
			"id", "run_id", "product_id", "competitor_price", "candidate_price",
			"margin", "outcome", "applied", "failure_detail", "created_at",
		).
		Values(
			result.ID, result.RunID, result.ProductID, result.CompetitorPrice, result.CandidatePrice,
			result.Margin, result.Outcome, result.Applied, result.FailureDetail, result.CreatedAt,
		)

	query, args := ib.Build()
	_, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id":     result.RunID,
			"product_id": result.ProductID,
		}).Error("failed to insert result")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert result")
	}

	return nil
}

// ListByRun retrieves all results of one run in emission order.
func (r *ResultRepository) ListByRun(ctx context.Context, runID uuid.UUID) ([]models.AnalysisResult, error) {
	ctx, span := tracing.StartSpan(ctx, "ResultRepository.ListByRun")
	defer span.End()

	query := `
		SELECT id, run_id, product_id, competitor_price, candidate_price,
		       margin, outcome, applied, failure_detail, created_at
		FROM analysis_results
		WHERE run_id = $1
		ORDER BY created_at, id
	`

	var results []models.AnalysisResult
	err := r.DB().SelectContext(ctx, &results, query, runID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id": runID,
		}).Error("failed to list results")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list results")
	}

	return results, nil
}

// DeleteByRun removes the results of one run (cleanup for purged runs).
func (r *ResultRepository) DeleteByRun(ctx context.Context, runID uuid.UUID) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "ResultRepository.DeleteByRun")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(resultsTable).Where(db.Equal("run_id", runID))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id": runID,
		}).Error("failed to delete results")
		return 0, err
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}
