// Package marketplace defines the external collaborators the reconciliation
// worker depends on and provides an HTTP implementation of them. The worker
// only sees the interfaces; anything that can look up a competitor price and
// apply one can stand in.
package marketplace

import (
	"context"

	"github.com/pricekit/repricer/pkg/models"
)

// Credentials authenticate the seller account against the marketplace.
type Credentials struct {
	Username string
	Password string
}

// CompetitorLookup finds the lowest competitor price for a product.
// Side-effect free from the caller's perspective.
type CompetitorLookup interface {
	LookupPrice(ctx context.Context, product *models.Product) (int64, error)
}

// UpdateAPI applies a new price to an owned listing. Implementations must be
// idempotent: the caller may repeat the same logical update after a timeout.
type UpdateAPI interface {
	ApplyPrice(ctx context.Context, product *models.Product, newPrice int64) error
}

// Session is the shared authenticated marketplace session. Only the session
// guard mutates its authentication state.
type Session interface {
	IsAuthenticated(ctx context.Context) (bool, error)
	Login(ctx context.Context, creds Credentials) error
}
