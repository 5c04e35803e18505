package handlers

import (
	"errors"
	"strconv"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/pricekit/repricer/pkg/appctx"
	"github.com/pricekit/repricer/pkg/models"
	"github.com/pricekit/repricer/pkg/reconcile"
	"github.com/pricekit/repricer/pkg/repositories"
	"github.com/pricekit/repricer/pkg/tracing"
)

// RunHandler handles reconciliation run API endpoints
type RunHandler struct {
	manager  *reconcile.Manager
	runs     *repositories.RunRepository
	results  *repositories.ResultRepository
	settings *repositories.SettingsRepository
	logger   ectologger.Logger
}

// NewRunHandler creates a new run handler
func NewRunHandler(
	manager *reconcile.Manager,
	runs *repositories.RunRepository,
	results *repositories.ResultRepository,
	settings *repositories.SettingsRepository,
	logger ectologger.Logger,
) *RunHandler {
	return &RunHandler{
		manager:  manager,
		runs:     runs,
		results:  results,
		settings: settings,
		logger:   logger,
	}
}

// StartRunRequest overrides individual stored settings for one run.
// Absent fields fall back to the persisted configuration.
type StartRunRequest struct {
	DiscountAmount           *int64  `json:"discount_amount,omitempty"`
	MinMargin                *int64  `json:"min_margin,omitempty"`
	MinPrice                 *int64  `json:"min_price,omitempty"`
	AutoApply                *bool   `json:"auto_apply,omitempty"`
	BrandFilter              *string `json:"brand_filter,omitempty"`
	ExcludeLoss              *bool   `json:"exclude_loss,omitempty"`
	ContinueAfterSessionLoss *bool   `json:"continue_after_session_loss,omitempty"`
}

func (req *StartRunRequest) apply(settings *models.ReconciliationSettings) {
	if req.DiscountAmount != nil {
		settings.DiscountAmount = *req.DiscountAmount
	}
	if req.MinMargin != nil {
		settings.MinMargin = *req.MinMargin
	}
	if req.MinPrice != nil {
		settings.MinPrice = *req.MinPrice
	}
	if req.AutoApply != nil {
		settings.AutoApply = *req.AutoApply
	}
	if req.BrandFilter != nil {
		settings.BrandFilter = *req.BrandFilter
	}
	if req.ExcludeLoss != nil {
		settings.ExcludeLoss = *req.ExcludeLoss
	}
	if req.ContinueAfterSessionLoss != nil {
		settings.ContinueAfterSessionLoss = *req.ContinueAfterSessionLoss
	}
}

// Register registers run routes
func (h *RunHandler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.POST("", h.Start)
	g.GET("/:id", h.GetByID)
	g.GET("/:id/results", h.ListResults)
	g.POST("/:id/cancel", h.Cancel)
}

// List returns recent runs, newest first
func (h *RunHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RunHandler.List")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	limit := 0
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			return BadRequest("invalid limit")
		}
		limit = parsed
	}

	runs, err := h.runs.ListRuns(ctx, limit)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to list runs")
		return err
	}

	return SuccessResponse(c, runs)
}

// Start launches a new reconciliation run using the stored settings,
// optionally overridden per field by the request body
func (h *RunHandler) Start(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RunHandler.Start")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	var req StartRunRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}

	settings, err := h.settings.Get(ctx)
	if err != nil {
		return err
	}
	req.apply(&settings)

	run, err := h.manager.StartRun(ctx, settings)
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrRunInProgress):
			return Conflict("a reconciliation run is already in progress")
		case errors.Is(err, reconcile.ErrEmptyCatalog):
			return BadRequest("catalog is empty")
		case errors.Is(err, reconcile.ErrEmptyWorkingSet):
			return BadRequest("brand filter matches no products")
		case errors.Is(err, models.ErrInvalidSettings):
			return BadRequest(err.Error())
		}
		h.logger.WithContext(ctx).WithError(err).Error("Failed to start run")
		return err
	}

	h.logger.WithContext(ctx).Infof("Started run %s over %d products", run.ID, run.Total)
	return AcceptedResponse(c, run)
}

// GetByID returns a run with live statistics while it is in flight
func (h *RunHandler) GetByID(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RunHandler.GetByID")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	ctx = appctx.SetRunID(ctx, id.String())
	c.SetRequest(c.Request().WithContext(ctx))

	run, err := h.manager.GetRun(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, run)
}

// ListResults returns the per-item analysis results for a run
func (h *RunHandler) ListResults(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RunHandler.ListResults")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	ctx = appctx.SetRunID(ctx, id.String())
	c.SetRequest(c.Request().WithContext(ctx))

	results, err := h.results.ListByRun(ctx, id)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to list run results")
		return err
	}

	return SuccessResponse(c, results)
}

// Cancel requests cancellation of an in-flight run. The run drains its
// current item and finishes with a terminal snapshot; cancellation of a
// finished run is rejected.
func (h *RunHandler) Cancel(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RunHandler.Cancel")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	ctx = appctx.SetRunID(ctx, id.String())
	c.SetRequest(c.Request().WithContext(ctx))

	if err := h.manager.Cancel(ctx, id); err != nil {
		if errors.Is(err, reconcile.ErrNoActiveRun) {
			return Conflict("run is not in progress")
		}
		h.logger.WithContext(ctx).WithError(err).Error("Failed to cancel run")
		return err
	}

	h.logger.WithContext(ctx).Infof("Requested cancellation of run %s", id)
	return AcceptedResponse(c, map[string]string{"status": "cancelling"})
}

// StatisticsHandler handles aggregate statistics API endpoints
type StatisticsHandler struct {
	repo   *repositories.StatisticsRepository
	logger ectologger.Logger
}

// NewStatisticsHandler creates a new statistics handler
func NewStatisticsHandler(repo *repositories.StatisticsRepository, logger ectologger.Logger) *StatisticsHandler {
	return &StatisticsHandler{
		repo:   repo,
		logger: logger,
	}
}

// Register registers statistics routes
func (h *StatisticsHandler) Register(g *echo.Group) {
	g.GET("", h.Get)
}

// Get returns the all-time aggregates across runs
func (h *StatisticsHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "StatisticsHandler.Get")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	stats, err := h.repo.Get(ctx)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to get statistics")
		return err
	}

	return SuccessResponse(c, stats)
}
