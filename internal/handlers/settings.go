package handlers

import (
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/pricekit/repricer/pkg/models"
	"github.com/pricekit/repricer/pkg/repositories"
	"github.com/pricekit/repricer/pkg/tracing"
)

// SettingsHandler handles reconciliation settings API endpoints
type SettingsHandler struct {
	repo     *repositories.SettingsRepository
	validate *validator.Validate
	logger   ectologger.Logger
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(repo *repositories.SettingsRepository, validate *validator.Validate, logger ectologger.Logger) *SettingsHandler {
	return &SettingsHandler{
		repo:     repo,
		validate: validate,
		logger:   logger,
	}
}

// Register registers settings routes
func (h *SettingsHandler) Register(g *echo.Group) {
	g.GET("", h.Get)
	g.PUT("", h.Put)
}

// Get returns the stored settings, or defaults when none have been saved
func (h *SettingsHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "SettingsHandler.Get")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	settings, err := h.repo.Get(ctx)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to get settings")
		return err
	}

	return SuccessResponse(c, settings)
}

// Put replaces the stored settings. New runs pick them up; a run already in
// flight keeps the snapshot it started with.
func (h *SettingsHandler) Put(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "SettingsHandler.Put")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	var settings models.ReconciliationSettings
	if err := c.Bind(&settings); err != nil {
		return BadRequest("invalid request body")
	}

	if err := h.validate.Struct(&settings); err != nil {
		return BadRequest(err.Error())
	}

	if err := h.repo.Put(ctx, settings); err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to put settings")
		return err
	}

	h.logger.WithContext(ctx).Infof("Updated reconciliation settings (discount=%d, min_margin=%d, auto_apply=%v)",
		settings.DiscountAmount, settings.MinMargin, settings.AutoApply)
	return SuccessResponse(c, settings)
}
