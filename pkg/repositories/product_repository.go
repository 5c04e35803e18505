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

const productsTable = "products"

// ProductRepository handles database operations for the catalog. It is the
// catalog loader for reconciliation runs: ListProducts returns products in
// insertion order with unique ids.
type ProductRepository struct {
	*Repository
}

// NewProductRepository creates a new product repository
func NewProductRepository(db database.DB, logger ectologger.Logger) *ProductRepository {
	return &ProductRepository{
		Repository: NewRepository(db, logger),
	}
}

// Upsert creates a product or refreshes an existing one. The pair
// (brand, name) identifies a listing; re-importing the catalog is idempotent.
func (r *ProductRepository) Upsert(ctx context.Context, product *models.Product) error {
	ctx, span := tracing.StartSpan(ctx, "ProductRepository.Upsert")
	defer span.End()

	if err := product.Validate(); err != nil {
		return BadRequest(err.Error())
	}

	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	now := time.Now().UTC()
	if product.AddedAt.IsZero() {
		product.AddedAt = now
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(productsTable).
		Cols("id", "brand", "name", "current_price", "cost_price", "added_at", "created_at", "updated_at").
		Values(product.ID, product.Brand, product.Name, product.CurrentPrice, product.CostPrice,
			product.AddedAt, now, now)
	ib.SQL(`
ON CONFLICT (brand, name)
DO UPDATE SET
  current_price = EXCLUDED.current_price,
  cost_price = EXCLUDED.cost_price,
  updated_at = EXCLUDED.updated_at
RETURNING id, added_at, created_at, updated_at`)

	query, args := ib.Build()
	err := r.DB().QueryRowContext(ctx, query, args...).
		Scan(&product.ID, &product.AddedAt, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"brand": product.Brand,
			"name":  product.Name,
		}).Error("failed to upsert product")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert product")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"product_id": product.ID,
	}).Debugf("Upserted %s", productsTable)
	return nil
}

// GetByID retrieves a product by id
func (r *ProductRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	ctx, span := tracing.StartSpan(ctx, "ProductRepository.GetByID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("*").From(productsTable).Where(sb.Equal("id", id))

	query, args := sb.Build()
	var product models.Product
	err := r.DB().GetContext(ctx, &product, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("product %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"product_id": id,
		}).Error("failed to get product")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get product")
	}

	return &product, nil
}

// ListProducts retrieves the whole catalog in stable insertion order.
func (r *ProductRepository) ListProducts(ctx context.Context) ([]models.Product, error) {
	ctx, span := tracing.StartSpan(ctx, "ProductRepository.ListProducts")
	defer span.End()

	query := `
		SELECT id, brand, name, current_price, cost_price, added_at, created_at, updated_at
		FROM products
		ORDER BY added_at, id
	`

	var products []models.Product
	err := r.DB().SelectContext(ctx, &products, query)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list products")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list products")
	}

	return products, nil
}

// UpdatePrice records an applied price change on the owned listing.
func (r *ProductRepository) UpdatePrice(ctx context.Context, id uuid.UUID, newPrice int64) error {
	ctx, span := tracing.StartSpan(ctx, "ProductRepository.UpdatePrice")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(productsTable).
		Set(
			ub.Assign("current_price", newPrice),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"product_id": id,
		}).Error("failed to update product price")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update product price")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update product price")
	}
	if rows == 0 {
		return NotFound("product %s does not exist", id)
	}

	return nil
}

// Delete deletes a product by id
func (r *ProductRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "ProductRepository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(productsTable).Where(db.Equal("id", id))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"product_id": id,
		}).Error("failed to delete product")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete product")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete product")
	}
	if rows == 0 {
		return NotFound("product %s does not exist", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"product_id": id,
	}).Debugf("Deleted %s", productsTable)
	return nil
}
