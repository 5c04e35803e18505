package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidProduct is returned when a product violates catalog invariants
	ErrInvalidProduct = errors.New("invalid product")
)

// Product is an owned marketplace listing under price management.
// CurrentPrice and CostPrice are in the minor currency unit.
type Product struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Brand        string    `db:"brand" json:"brand"`
	Name         string    `db:"name" json:"name"`
	CurrentPrice int64     `db:"current_price" json:"current_price"`
	CostPrice    int64     `db:"cost_price" json:"cost_price"`
	AddedAt      time.Time `db:"added_at" json:"added_at"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Product) TableName() string {
	return "products"
}

// Validate checks catalog invariants. CostPrice may be zero (unknown cost);
// CurrentPrice must be strictly positive.
func (p *Product) Validate() error {
	if p.Brand == "" || p.Name == "" {
		return ErrInvalidProduct
	}
	if p.CurrentPrice <= 0 {
		return ErrInvalidProduct
	}
	if p.CostPrice < 0 {
		return ErrInvalidProduct
	}
	return nil
}

// CostKnown reports whether the seller's cost basis is recorded.
// A zero cost means unknown, not free.
func (p *Product) CostKnown() bool {
	return p.CostPrice > 0
}
