package reconcile

import (
	"context"

	"github.com/google/uuid"

	"github.com/pricekit/repricer/pkg/models"
)

// Progress is one progress event. Processed is monotonically non-decreasing
// within a run and never exceeds Total.
type Progress struct {
	RunID     uuid.UUID `json:"run_id"`
	Processed int64     `json:"processed"`
	Total     int64     `json:"total"`
}

// ResultSink receives the per-item result stream and the final run record.
// Implementations must tolerate partial streams terminated by cancellation.
// Sink errors are logged and never fail the run.
type ResultSink interface {
	OnItemResult(ctx context.Context, result *models.AnalysisResult) error
	OnProgress(ctx context.Context, progress Progress) error
	OnComplete(ctx context.Context, run *models.ReconciliationRun) error
}

// CatalogLoader supplies the product catalog for a run: ordered, ids unique.
type CatalogLoader interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
}

// RunStore persists run records across their lifecycle.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.ReconciliationRun) error
	UpdateRun(ctx context.Context, run *models.ReconciliationRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.ReconciliationRun, error)
}
