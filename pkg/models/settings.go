package models

import "errors"

var (
	// ErrInvalidSettings is returned when reconciliation settings are out of range
	ErrInvalidSettings = errors.New("invalid reconciliation settings")
)

// ReconciliationSettings is the immutable snapshot governing one run.
// Amounts are in the minor currency unit.
type ReconciliationSettings struct {
	// DiscountAmount is subtracted from the competitor price to form the candidate price.
	DiscountAmount int64 `json:"discount_amount" validate:"min=1"`

	// MinMargin is the minimum acceptable candidate price minus cost price.
	MinMargin int64 `json:"min_margin" validate:"min=0"`

	// MinPrice is the floor for a derived candidate price. A competitor price
	// low enough to push the candidate below it floors the candidate and
	// excludes it as a loss.
	MinPrice int64 `json:"min_price" validate:"min=1"`

	// AutoApply applies qualifying candidates immediately; otherwise they are reported only.
	AutoApply bool `json:"auto_apply"`

	// BrandFilter, when set, restricts the working set to products whose brand
	// contains the filter (case-insensitive).
	BrandFilter string `json:"brand_filter,omitempty"`

	// ExcludeLoss excludes any candidate below cost regardless of margin math.
	ExcludeLoss bool `json:"exclude_loss"`

	// ContinueAfterSessionLoss keeps read-only competitor analysis going when
	// session re-authentication fails mid-run. Price updates stop either way.
	ContinueAfterSessionLoss bool `json:"continue_after_session_loss"`
}

// DefaultSettings returns the settings used when none have been persisted.
func DefaultSettings() ReconciliationSettings {
	return ReconciliationSettings{
		DiscountAmount:           100,
		MinMargin:                500,
		MinPrice:                 1,
		AutoApply:                false,
		ExcludeLoss:              true,
		ContinueAfterSessionLoss: true,
	}
}

// Validate checks the settings invariants from the data model.
func (s *ReconciliationSettings) Validate() error {
	if s.DiscountAmount < 1 {
		return ErrInvalidSettings
	}
	if s.MinMargin < 0 {
		return ErrInvalidSettings
	}
	if s.MinPrice < 1 {
		return ErrInvalidSettings
	}
	return nil
}
