package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/pricekit/repricer/pkg/appctx"
	"github.com/pricekit/repricer/pkg/database"
	"github.com/pricekit/repricer/pkg/metrics"
	"github.com/pricekit/repricer/pkg/models"
	"github.com/pricekit/repricer/pkg/tracing"
)

var (
	// ErrRunInProgress is returned when a run is already executing
	ErrRunInProgress = errors.New("a reconciliation run is already in progress")
	// ErrEmptyCatalog is returned when the catalog has no products
	ErrEmptyCatalog = errors.New("catalog is empty")
	// ErrEmptyWorkingSet is returned when the brand filter leaves no products
	ErrEmptyWorkingSet = errors.New("working set is empty after filtering")
	// ErrNoActiveRun is returned when there is no run to cancel
	ErrNoActiveRun = errors.New("no active run")
)

// Manager owns the run lifecycle: at most one run executes at a time, started
// runs are persisted through their state transitions, and cancellation is
// cooperative through the run's handle.
type Manager struct {
	catalog CatalogLoader
	runs    RunStore
	worker  *Worker
	sink    ResultSink
	logger  ectologger.Logger

	mu     sync.Mutex
	active *RunHandle
}

// NewManager creates a new run manager
func NewManager(catalog CatalogLoader, runs RunStore, worker *Worker, sink ResultSink, logger ectologger.Logger) *Manager {
	return &Manager{
		catalog: catalog,
		runs:    runs,
		worker:  worker,
		sink:    sink,
		logger:  logger,
	}
}

// StartRun validates the settings, builds the working set, persists a run
// record and spawns the worker. It returns without waiting for the run to
// finish; the run outlives the caller's context.
func (m *Manager) StartRun(ctx context.Context, settings models.ReconciliationSettings) (*models.ReconciliationRun, error) {
	ctx, span := tracing.StartSpan(ctx, "Manager.StartRun")
	defer span.End()

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	products, err := m.catalog.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	if len(products) == 0 {
		return nil, ErrEmptyCatalog
	}

	workingSet := FilterWorkingSet(products, settings)
	if len(workingSet) == 0 {
		return nil, ErrEmptyWorkingSet
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && !m.active.Finished() {
		return nil, ErrRunInProgress
	}

	now := time.Now().UTC()
	run := &models.ReconciliationRun{
		ID:            uuid.New(),
		Status:        models.RunStatusRunning,
		Settings:      database.JSONB[models.ReconciliationSettings]{Data: settings},
		RunStatistics: models.RunStatistics{Total: int64(len(workingSet))},
		StartedAt:     &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist run: %w", err)
	}

	// The run gets its own context so it survives the request that started
	// it; cancellation goes through the handle.
	runCtx, cancel := context.WithCancel(context.Background())
	runCtx = appctx.SetRunID(runCtx, run.ID.String())
	handle := newRunHandle(run.ID, int64(len(workingSet)), cancel)
	m.active = handle

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":      run.ID,
		"working_set": len(workingSet),
		"catalog":     len(products),
	}).Infof("Reconciliation run started")

	go m.execute(runCtx, handle, run, workingSet, settings)

	return run, nil
}

func (m *Manager) execute(ctx context.Context, handle *RunHandle, run *models.ReconciliationRun, workingSet []models.Product, settings models.ReconciliationSettings) {
	defer handle.finish()

	start := time.Now()
	status, runErr := m.worker.Run(ctx, handle, workingSet, settings)
	duration := time.Since(start)

	run.Status = status
	run.RunStatistics = handle.Snapshot()
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.UpdatedAt = completed
	if runErr != nil {
		msg := runErr.Error()
		run.ErrorMessage = &msg
	}

	// Persist with a fresh context: the run context may already be cancelled.
	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	persistCtx = appctx.SetRunID(persistCtx, run.ID.String())

	if err := m.runs.UpdateRun(persistCtx, run); err != nil {
		m.logger.WithContext(persistCtx).WithError(err).Errorf("Failed to persist terminal run state")
	}
	if err := m.sink.OnComplete(persistCtx, run); err != nil {
		m.logger.WithContext(persistCtx).WithError(err).Warnf("Result sink rejected run completion")
	}

	metrics.RecordRun(string(status), duration.Seconds())
	m.logger.WithContext(persistCtx).WithFields(map[string]any{
		"run_id":   run.ID,
		"status":   status,
		"analyzed": run.Analyzed,
		"updated":  run.Updated,
		"excluded": run.Excluded,
		"failed":   run.Failed,
		"kept":     run.KeptCurrent,
		"duration": duration.String(),
	}).Infof("Reconciliation run finished")
}

// Cancel requests cancellation of the active run. Idempotent: cancelling an
// already-cancelled run is a no-op.
func (m *Manager) Cancel(ctx context.Context, runID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || m.active.RunID() != runID {
		return ErrNoActiveRun
	}
	if m.active.Finished() {
		return ErrNoActiveRun
	}

	m.active.Cancel()
	m.logger.WithContext(ctx).WithFields(map[string]any{"run_id": runID}).Infof("Cancellation requested")
	return nil
}

// ActiveRun returns the handle of the in-flight run, or nil.
func (m *Manager) ActiveRun() *RunHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && !m.active.Finished() {
		return m.active
	}
	return nil
}

// GetRun loads a run record, live statistics included for the active run.
func (m *Manager) GetRun(ctx context.Context, runID uuid.UUID) (*models.ReconciliationRun, error) {
	run, err := m.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	if active != nil && active.RunID() == runID && !active.Finished() {
		run.RunStatistics = active.Snapshot()
	}
	return run, nil
}

// FilterWorkingSet applies the brand filter (case-insensitive substring) to
// the catalog, preserving order.
func FilterWorkingSet(products []models.Product, settings models.ReconciliationSettings) []models.Product {
	if settings.BrandFilter == "" {
		return products
	}
	needle := strings.ToLower(settings.BrandFilter)
	filtered := make([]models.Product, 0, len(products))
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Brand), needle) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}
