package repositories_test

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pricekit/repricer/pkg/database"
	"github.com/pricekit/repricer/pkg/models"
	"github.com/pricekit/repricer/pkg/repositories"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func getTestDB(t *testing.T) database.DB {
	// Use environment variables or defaults for test DB
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}
	dbUser := os.Getenv("DB_USER_NAME")
	if dbUser == "" {
		dbUser = "user"
	}
	dbPass := os.Getenv("DB_PASSWORD")
	if dbPass == "" {
		dbPass = "password"
	}
	dbName := os.Getenv("DB_NAME")
	if dbName == "" {
		dbName = "repricer"
	}

	dsn := "host=" + dbHost + " user=" + dbUser + " password=" + dbPass + " dbname=" + dbName + " sslmode=disable"
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")

	return database.NewDatabaseInstance(db, getTestLogger())
}

// assertNotFound asserts that err is an HTTP 404 error
func assertNotFound(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err), "expected 404, got: %d", httperror.GetStatusCode(err))
}

func newTestProduct(brand string) *models.Product {
	return &models.Product{
		Brand:        brand,
		Name:         "Widget " + uuid.NewString()[:8],
		CurrentPrice: 10000,
		CostPrice:    6000,
	}
}

func TestProductRepository_CRUD(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	defer db.Close()
	repo := repositories.NewProductRepository(db, getTestLogger())
	ctx := context.Background()

	product := newTestProduct("Acme")
	require.NoError(t, repo.Upsert(ctx, product))
	require.NotEqual(t, uuid.Nil, product.ID)
	assert.False(t, product.AddedAt.IsZero())
	defer repo.Delete(ctx, product.ID)

	got, err := repo.GetByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, product.Brand, got.Brand)
	assert.Equal(t, int64(10000), got.CurrentPrice)

	// Upserting the same brand/name updates in place rather than inserting
	product.CurrentPrice = 9500
	require.NoError(t, repo.Upsert(ctx, product))
	got, err = repo.GetByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9500), got.CurrentPrice)

	require.NoError(t, repo.UpdatePrice(ctx, product.ID, 9000))
	got, err = repo.GetByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9000), got.CurrentPrice)

	require.NoError(t, repo.Delete(ctx, product.ID))
	_, err = repo.GetByID(ctx, product.ID)
	assertNotFound(t, err)
}

func TestProductRepository_ListOrderedByAddedAt(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	defer db.Close()
	repo := repositories.NewProductRepository(db, getTestLogger())
	ctx := context.Background()

	first := newTestProduct("OrderBrand")
	second := newTestProduct("OrderBrand")
	require.NoError(t, repo.Upsert(ctx, first))
	require.NoError(t, repo.Upsert(ctx, second))
	defer repo.Delete(ctx, first.ID)
	defer repo.Delete(ctx, second.ID)

	products, err := repo.ListProducts(ctx)
	require.NoError(t, err)

	firstIdx, secondIdx := -1, -1
	for i, p := range products {
		if p.ID == first.ID {
			firstIdx = i
		}
		if p.ID == second.ID {
			secondIdx = i
		}
	}
	require.NotEqual(t, -1, firstIdx)
	require.NotEqual(t, -1, secondIdx)
	assert.Less(t, firstIdx, secondIdx, "catalog order should follow added_at")
}

func TestProductRepository_UpdatePriceNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	defer db.Close()
	repo := repositories.NewProductRepository(db, getTestLogger())

	err := repo.UpdatePrice(context.Background(), uuid.New(), 100)
	assertNotFound(t, err)
}

func TestRunRepository_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	defer db.Close()
	repo := repositories.NewRunRepository(db, getTestLogger())
	ctx := context.Background()

	started := time.Now().UTC()
	run := &models.ReconciliationRun{
		ID:        uuid.New(),
		Status:    models.RunStatusRunning,
		Settings:  database.JSONB[models.ReconciliationSettings]{Data: models.DefaultSettings()},
		StartedAt: &started,
	}
	run.Total = 5

	require.NoError(t, repo.CreateRun(ctx, run))
	assert.False(t, run.CreatedAt.IsZero())

	got, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, got.Status)
	assert.Equal(t, int64(5), got.Total)

	completed := time.Now().UTC()
	run.Status = models.RunStatusCompleted
	run.Analyzed = 5
	run.Updated = 2
	run.Excluded = 1
	run.KeptCurrent = 2
	run.CompletedAt = &completed
	require.NoError(t, repo.UpdateRun(ctx, run))

	got, err = repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.Equal(t, int64(2), got.Updated)
	require.NotNil(t, got.CompletedAt)

	runs, err := repo.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	// Newest first
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestRunRepository_GetRunNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	defer db.Close()
	repo := repositories.NewRunRepository(db, getTestLogger())

	_, err := repo.GetRun(context.Background(), uuid.New())
	assertNotFound(t, err)
}

func TestResultRepository_InsertAndListByRun(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	defer db.Close()
	logger := getTestLogger()
	ctx := context.Background()

	runRepo := repositories.NewRunRepository(db, logger)
	productRepo := repositories.NewProductRepository(db, logger)
	resultRepo := repositories.NewResultRepository(db, logger)

	product := newTestProduct("ResultBrand")
	require.NoError(t, productRepo.Upsert(ctx, product))
	defer productRepo.Delete(ctx, product.ID)

	run := &models.ReconciliationRun{
		ID:       uuid.New(),
		Status:   models.RunStatusRunning,
		Settings: database.JSONB[models.ReconciliationSettings]{Data: models.DefaultSettings()},
	}
	require.NoError(t, runRepo.CreateRun(ctx, run))

	detail := "competitor lookup failed: timeout"
	results := []*models.AnalysisResult{
		{
			ID:              uuid.New(),
			RunID:           run.ID,
			ProductID:       product.ID,
			CompetitorPrice: 9800,
			CandidatePrice:  9700,
			Margin:          3700,
			Outcome:         models.OutcomeUpdateCandidate,
			Applied:         true,
		},
		{
			ID:            uuid.New(),
			RunID:         run.ID,
			ProductID:     product.ID,
			Outcome:       models.OutcomeLookupFailed,
			FailureDetail: &detail,
		},
	}
	for _, res := range results {
		require.NoError(t, resultRepo.InsertResult(ctx, res))
	}

	listed, err := resultRepo.ListByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, models.OutcomeUpdateCandidate, listed[0].Outcome)
	assert.True(t, listed[0].Applied)
	require.NotNil(t, listed[1].FailureDetail)
	assert.Equal(t, detail, *listed[1].FailureDetail)

	deleted, err := resultRepo.DeleteByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestSettingsRepository_DefaultsAndRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	defer db.Close()
	repo := repositories.NewSettingsRepository(db, getTestLogger())
	ctx := context.Background()

	settings := models.DefaultSettings()
	settings.DiscountAmount = 250
	settings.BrandFilter = "Acme"
	require.NoError(t, repo.Put(ctx, settings))

	got, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(250), got.DiscountAmount)
	assert.Equal(t, "Acme", got.BrandFilter)

	// Restore defaults so other tests see a clean slate
	require.NoError(t, repo.Put(ctx, models.DefaultSettings()))
}

func TestSettingsRepository_PutRejectsInvalid(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	defer db.Close()
	repo := repositories.NewSettingsRepository(db, getTestLogger())

	bad := models.DefaultSettings()
	bad.DiscountAmount = -1
	err := repo.Put(context.Background(), bad)
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err))
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestStatisticsRepository_RecordRunAccumulates(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	defer db.Close()
	repo := repositories.NewStatisticsRepository(db, getTestLogger())
	ctx := context.Background()

	before, err := repo.Get(ctx)
	require.NoError(t, err)

	started := time.Now().UTC().Add(-2 * time.Second)
	completed := time.Now().UTC()
	run := &models.ReconciliationRun{
		ID:          uuid.New(),
		Status:      models.RunStatusCompleted,
		StartedAt:   &started,
		CompletedAt: &completed,
	}
	run.Analyzed = 10
	run.Updated = 4

	require.NoError(t, repo.RecordRun(ctx, run))

	after, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.TotalRuns+1, after.TotalRuns)
	assert.Equal(t, before.TotalCompleted+1, after.TotalCompleted)
	assert.Equal(t, before.TotalItemsAnalyzed+10, after.TotalItemsAnalyzed)
	assert.Equal(t, before.TotalItemsUpdated+4, after.TotalItemsUpdated)
	require.NotNil(t, after.LastCompletedAt)
	require.NotNil(t, after.AverageRunTimeMs)

	failedRun := &models.ReconciliationRun{
		ID:     uuid.New(),
		Status: models.RunStatusFailed,
	}
	require.NoError(t, repo.RecordRun(ctx, failedRun))

	after2, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, after.TotalFailedRuns+1, after2.TotalFailedRuns)
	require.NotNil(t, after2.LastFailureAt)
}
