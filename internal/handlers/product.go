package handlers

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/pricekit/repricer/pkg/models"
	"github.com/pricekit/repricer/pkg/repositories"
	"github.com/pricekit/repricer/pkg/tracing"
)

// ProductHandler handles catalog API endpoints
type ProductHandler struct {
	repo   *repositories.ProductRepository
	logger ectologger.Logger
}

// NewProductHandler creates a new product handler
func NewProductHandler(repo *repositories.ProductRepository, logger ectologger.Logger) *ProductHandler {
	return &ProductHandler{
		repo:   repo,
		logger: logger,
	}
}

// UpsertProductRequest represents the create/update product request body
type UpsertProductRequest struct {
	Brand        string `json:"brand"`
	Name         string `json:"name"`
	CurrentPrice int64  `json:"current_price"`
	CostPrice    int64  `json:"cost_price"`
}

// UpdatePriceRequest represents the manual price update request body
type UpdatePriceRequest struct {
	Price int64 `json:"price"`
}

// Register registers product routes
func (h *ProductHandler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.POST("", h.Upsert)
	g.GET("/:id", h.GetByID)
	g.PUT("/:id/price", h.UpdatePrice)
	g.DELETE("/:id", h.Delete)
}

// List returns the catalog in working-set order
func (h *ProductHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ProductHandler.List")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	products, err := h.repo.ListProducts(ctx)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to list products")
		return err
	}

	return SuccessResponse(c, products)
}

// Upsert creates a product or updates it in place when brand and name match
func (h *ProductHandler) Upsert(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ProductHandler.Upsert")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	var req UpsertProductRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}

	product := &models.Product{
		Brand:        req.Brand,
		Name:         req.Name,
		CurrentPrice: req.CurrentPrice,
		CostPrice:    req.CostPrice,
	}

	if err := h.repo.Upsert(ctx, product); err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to upsert product")
		return err
	}

	h.logger.WithContext(ctx).Infof("Upserted product %s (%s %s)", product.ID, product.Brand, product.Name)
	return CreatedResponse(c, product)
}

// GetByID returns a product by ID
func (h *ProductHandler) GetByID(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ProductHandler.GetByID")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	product, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, product)
}

// UpdatePrice manually sets the live price for a product
func (h *ProductHandler) UpdatePrice(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ProductHandler.UpdatePrice")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req UpdatePriceRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if req.Price <= 0 {
		return BadRequest("price must be positive")
	}

	if err := h.repo.UpdatePrice(ctx, id, req.Price); err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to update product price")
		return err
	}

	return SuccessResponse(c, map[string]any{"id": id, "current_price": req.Price})
}

// Delete removes a product from the catalog
func (h *ProductHandler) Delete(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ProductHandler.Delete")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.repo.Delete(ctx, id); err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to delete product")
		return err
	}

	h.logger.WithContext(ctx).Infof("Deleted product: %s", id)
	return NoContentResponse(c)
}
