package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/pricekit/repricer/pkg/database"
	"github.com/pricekit/repricer/pkg/models"
	"github.com/pricekit/repricer/pkg/tracing"
)

const settingsTable = "reconciliation_settings"

// settingsRow is the single persisted settings document.
type settingsRow struct {
	ID        int                                            `db:"id"`
	Settings  database.JSONB[models.ReconciliationSettings] `db:"settings"`
	UpdatedAt time.Time                                      `db:"updated_at"`
}

// SettingsRepository stores the active ReconciliationSettings as a JSONB
// document. There is one document; runs snapshot it at start.
type SettingsRepository struct {
	*Repository
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db database.DB, logger ectologger.Logger) *SettingsRepository {
	return &SettingsRepository{
		Repository: NewRepository(db, logger),
	}
}

// Get returns the stored settings, or the defaults when none were saved yet.
func (r *SettingsRepository) Get(ctx context.Context) (models.ReconciliationSettings, error) {
	ctx, span := tracing.StartSpan(ctx, "SettingsRepository.Get")
	defer span.End()

	query := `SELECT id, settings, updated_at FROM reconciliation_settings WHERE id = 1`

	var row settingsRow
	err := r.DB().GetContext(ctx, &row, query)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultSettings(), nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get settings")
		return models.ReconciliationSettings{}, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get settings")
	}

	settings := row.Settings.Data
	// Documents saved before the price floor became configurable carry no
	// min_price; read them with the default floor.
	if settings.MinPrice == 0 {
		settings.MinPrice = models.DefaultSettings().MinPrice
	}
	return settings, nil
}

// Put validates and stores the settings document.
func (r *SettingsRepository) Put(ctx context.Context, settings models.ReconciliationSettings) error {
	ctx, span := tracing.StartSpan(ctx, "SettingsRepository.Put")
	defer span.End()

	if err := settings.Validate(); err != nil {
		return BadRequest(err.Error())
	}

	query := `
		INSERT INTO reconciliation_settings (id, settings, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id)
		DO UPDATE SET settings = EXCLUDED.settings, updated_at = EXCLUDED.updated_at
	`

	_, err := r.DB().ExecContext(ctx, query, database.JSONB[models.ReconciliationSettings]{Data: settings})
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to put settings")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to put settings")
	}

	r.logger.WithContext(ctx).Debugf("Updated %s", settingsTable)
	return nil
}
