package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pricekit/repricer/pkg/marketplace"
	"github.com/pricekit/repricer/pkg/models"
	"github.com/pricekit/repricer/pkg/resilience"
	"github.com/pricekit/repricer/pkg/session"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func getTestExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Policy{
		MaxRetries:             2,
		RateLimitedDelay:       time.Millisecond,
		ServerUnavailableDelay: time.Millisecond,
		ConnectionBaseDelay:    time.Millisecond,
		TransientDelay:         time.Millisecond,
		MaxDelay:               10 * time.Millisecond,
	}, getTestLogger())
}

// fakeLookup serves scripted prices and failures keyed by product name.
type fakeLookup struct {
	mu     sync.Mutex
	prices map[string]int64
	errs   map[string]error
	calls  map[string]int
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		prices: make(map[string]int64),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (f *fakeLookup) LookupPrice(ctx context.Context, product *models.Product) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[product.Name]++
	if err, ok := f.errs[product.Name]; ok {
		return 0, err
	}
	if price, ok := f.prices[product.Name]; ok {
		return price, nil
	}
	return product.CurrentPrice, nil
}

func (f *fakeLookup) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

// fakeUpdater records applied prices and serves scripted failures.
type fakeUpdater struct {
	mu      sync.Mutex
	applied map[string]int64
	errs    map[string]error
}

func newFakeUpdater() *fakeUpdater {
	return &fakeUpdater{
		applied: make(map[string]int64),
		errs:    make(map[string]error),
	}
}

func (f *fakeUpdater) ApplyPrice(ctx context.Context, product *models.Product, newPrice int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[product.Name]; ok {
		return err
	}
	f.applied[product.Name] = newPrice
	return nil
}

func (f *fakeUpdater) appliedPrice(name string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applied[name]
}

func (f *fakeUpdater) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

// scriptedSession implements marketplace.Session for the guard.
type scriptedSession struct {
	mu         sync.Mutex
	valid      bool
	loginErr   error
	loginCalls int
}

func (s *scriptedSession) IsAuthenticated(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid, nil
}

func (s *scriptedSession) Login(ctx context.Context, creds marketplace.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginCalls++
	if s.loginErr != nil {
		return s.loginErr
	}
	s.valid = true
	return nil
}

func (s *scriptedSession) logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginCalls
}

// captureSink records the emitted stream and can react to progress events.
type captureSink struct {
	mu         sync.Mutex
	results    []*models.AnalysisResult
	progresses []Progress
	completes  []*models.ReconciliationRun
	onProgress func(Progress)
}

func (s *captureSink) OnItemResult(ctx context.Context, result *models.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

func (s *captureSink) OnProgress(ctx context.Context, progress Progress) error {
	s.mu.Lock()
	s.progresses = append(s.progresses, progress)
	hook := s.onProgress
	s.mu.Unlock()
	if hook != nil {
		hook(progress)
	}
	return nil
}

func (s *captureSink) OnComplete(ctx context.Context, run *models.ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completes = append(s.completes, run)
	return nil
}

func testWorker(t *testing.T, lookup marketplace.CompetitorLookup, updates marketplace.UpdateAPI, sess marketplace.Session, sink ResultSink, concurrency int) *Worker {
	t.Helper()
	executor := getTestExecutor()
	guard := session.NewGuard(session.Config{}, sess, executor, nil, getTestLogger())
	return NewWorker(WorkerConfig{MaxConcurrency: concurrency, DelayMax: 0}, lookup, updates, guard, executor, sink, getTestLogger())
}

func testHandle(total int64) *RunHandle {
	_, cancel := context.WithCancel(context.Background())
	return newRunHandle(uuid.New(), total, cancel)
}

func testCatalog(n int) []models.Product {
	products := make([]models.Product, 0, n)
	for i := 0; i < n; i++ {
		products = append(products, models.Product{
			ID:           uuid.New(),
			Brand:        "acme",
			Name:         fmt.Sprintf("item-%03d", i),
			CurrentPrice: 10000,
			CostPrice:    6000,
		})
	}
	return products
}

func defaultTestSettings() models.ReconciliationSettings {
	return models.ReconciliationSettings{
		DiscountAmount:           100,
		MinMargin:                500,
		MinPrice:                 1,
		AutoApply:                true,
		ExcludeLoss:              true,
		ContinueAfterSessionLoss: true,
	}
}

func assertConservation(t *testing.T, stats models.RunStatistics) {
	t.Helper()
	assert.Equal(t, stats.Analyzed, stats.Updated+stats.Excluded+stats.Failed+stats.KeptCurrent,
		"analyzed must equal the sum of outcome buckets")
}

func assertMonotonicProgress(t *testing.T, progresses []Progress) {
	t.Helper()
	require.NotEmpty(t, progresses)
	assert.Equal(t, int64(0), progresses[0].Processed, "a run opens with a zero-progress announcement")
	last := int64(-1)
	for _, p := range progresses {
		assert.Greater(t, p.Processed, last, "processed count must increase monotonically")
		assert.LessOrEqual(t, p.Processed, p.Total)
		last = p.Processed
	}
}

func TestWorkerAppliesQualifyingCandidates(t *testing.T) {
	catalog := testCatalog(4)
	lookup := newFakeLookup()
	lookup.prices["item-000"] = 9800  // candidate 9700, updated
	lookup.prices["item-001"] = 6400  // candidate 6300, margin 300 < 500, excluded
	lookup.prices["item-002"] = 11000 // candidate 10900 >= current, kept
	lookup.prices["item-003"] = 9900  // candidate 9800, updated

	updates := newFakeUpdater()
	sink := &captureSink{}
	worker := testWorker(t, lookup, updates, &scriptedSession{valid: true}, sink, 1)
	handle := testHandle(int64(len(catalog)))

	status, err := worker.Run(context.Background(), handle, catalog, defaultTestSettings())

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, status)

	stats := handle.Snapshot()
	assert.Equal(t, int64(4), stats.Analyzed)
	assert.Equal(t, int64(2), stats.Updated)
	assert.Equal(t, int64(1), stats.Excluded)
	assert.Equal(t, int64(1), stats.KeptCurrent)
	assert.Equal(t, int64(0), stats.Failed)
	assertConservation(t, stats)

	assert.Equal(t, int64(9700), updates.appliedPrice("item-000"))
	assert.Equal(t, int64(9800), updates.appliedPrice("item-003"))

	require.Len(t, sink.results, 4)
	assert.True(t, sink.results[0].Applied)
	assert.False(t, sink.results[1].Applied)
	assertMonotonicProgress(t, sink.progresses)
}

func TestWorkerLookupFailureDoesNotAbortRun(t *testing.T) {
	catalog := testCatalog(3)
	lookup := newFakeLookup()
	lookup.prices["item-000"] = 9800
	lookup.errs["item-001"] = resilience.NewFailure(resilience.FailureTimeout, "marketplace.lookup", errors.New("deadline exceeded"))
	lookup.prices["item-002"] = 9800

	updates := newFakeUpdater()
	sink := &captureSink{}
	worker := testWorker(t, lookup, updates, &scriptedSession{valid: true}, sink, 1)
	handle := testHandle(int64(len(catalog)))

	status, err := worker.Run(context.Background(), handle, catalog, defaultTestSettings())

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, status)

	stats := handle.Snapshot()
	assert.Equal(t, int64(3), stats.Analyzed)
	assert.Equal(t, int64(2), stats.Updated)
	assert.GreaterOrEqual(t, stats.Failed, int64(1))
	assertConservation(t, stats)

	// The flaky item was retried before being recorded as failed.
	assert.Equal(t, 2, lookup.callCount("item-001"))

	require.Len(t, sink.results, 3)
	assert.Equal(t, models.OutcomeLookupFailed, sink.results[1].Outcome)
	require.NotNil(t, sink.results[1].FailureDetail)
}

func TestWorkerReportOnlyWithoutAutoApply(t *testing.T) {
	catalog := testCatalog(3)
	lookup := newFakeLookup()
	for i := 0; i < 3; i++ {
		lookup.prices[fmt.Sprintf("item-%03d", i)] = 9800
	}

	updates := newFakeUpdater()
	sink := &captureSink{}
	worker := testWorker(t, lookup, updates, &scriptedSession{valid: true}, sink, 1)
	handle := testHandle(int64(len(catalog)))

	settings := defaultTestSettings()
	settings.AutoApply = false

	status, err := worker.Run(context.Background(), handle, catalog, settings)

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, status)
	assert.Equal(t, 0, updates.appliedCount())

	stats := handle.Snapshot()
	assert.Equal(t, int64(0), stats.Updated)
	assert.Equal(t, int64(3), stats.KeptCurrent)
	assertConservation(t, stats)

	for _, result := range sink.results {
		assert.Equal(t, models.OutcomeUpdateCandidate, result.Outcome)
		assert.False(t, result.Applied)
	}
}

func TestWorkerUpdateFailureCountsAsFailed(t *testing.T) {
	catalog := testCatalog(2)
	lookup := newFakeLookup()
	lookup.prices["item-000"] = 9800
	lookup.prices["item-001"] = 9800

	updates := newFakeUpdater()
	updates.errs["item-000"] = resilience.NewFailure(resilience.FailureServerUnavailable, "marketplace.update", errors.New("status 503"))

	sink := &captureSink{}
	worker := testWorker(t, lookup, updates, &scriptedSession{valid: true}, sink, 1)
	handle := testHandle(int64(len(catalog)))

	status, err := worker.Run(context.Background(), handle, catalog, defaultTestSettings())

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, status)

	stats := handle.Snapshot()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Updated)
	assertConservation(t, stats)

	assert.False(t, sink.results[0].Applied)
	require.NotNil(t, sink.results[0].FailureDetail)
	assert.True(t, sink.results[1].Applied)
}

func TestWorkerSessionLossDisablesUpdatesButContinues(t *testing.T) {
	catalog := testCatalog(4)
	lookup := newFakeLookup()
	for i := 0; i < 4; i++ {
		lookup.prices[fmt.Sprintf("item-%03d", i)] = 9800
	}

	sess := &scriptedSession{
		valid:    false,
		loginErr: resilience.NewFailure(resilience.FailureFatal, "marketplace.login", marketplace.ErrNotAuthenticated),
	}
	updates := newFakeUpdater()
	sink := &captureSink{}
	worker := testWorker(t, lookup, updates, sess, sink, 1)
	handle := testHandle(int64(len(catalog)))

	status, err := worker.Run(context.Background(), handle, catalog, defaultTestSettings())

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, status)

	// Exactly one re-authentication attempt for the whole run.
	assert.Equal(t, 1, sess.logins())
	assert.Equal(t, 0, updates.appliedCount())

	stats := handle.Snapshot()
	assert.Equal(t, int64(4), stats.Analyzed)
	assert.Equal(t, int64(0), stats.Updated)
	assert.Equal(t, int64(4), stats.KeptCurrent)
	assertConservation(t, stats)

	// All four yield results; the candidates after the loss carry a detail.
	require.Len(t, sink.results, 4)
	for _, result := range sink.results {
		require.NotNil(t, result.FailureDetail)
	}
}

func TestWorkerSessionLossStopsRunWhenConfigured(t *testing.T) {
	catalog := testCatalog(5)
	lookup := newFakeLookup()
	for i := 0; i < 5; i++ {
		lookup.prices[fmt.Sprintf("item-%03d", i)] = 9800
	}

	sess := &scriptedSession{
		valid:    false,
		loginErr: resilience.NewFailure(resilience.FailureFatal, "marketplace.login", marketplace.ErrNotAuthenticated),
	}
	sink := &captureSink{}
	worker := testWorker(t, lookup, newFakeUpdater(), sess, sink, 1)
	handle := testHandle(int64(len(catalog)))

	settings := defaultTestSettings()
	settings.ContinueAfterSessionLoss = false

	status, err := worker.Run(context.Background(), handle, catalog, settings)

	require.Error(t, err)
	assert.Equal(t, models.RunStatusFailed, status)

	// The item that hit the loss still yields a result before the stop.
	stats := handle.Snapshot()
	assert.Equal(t, int64(1), stats.Analyzed)
	assertConservation(t, stats)
	require.Len(t, sink.results, 1)
}

func TestWorkerCancellationMidRun(t *testing.T) {
	total := 20
	catalog := testCatalog(total)
	lookup := newFakeLookup()
	for i := 0; i < total; i++ {
		lookup.prices[fmt.Sprintf("item-%03d", i)] = 9800
	}

	handle := testHandle(int64(total))
	sink := &captureSink{}
	sink.onProgress = func(p Progress) {
		if p.Processed == 5 {
			handle.Cancel()
		}
	}

	worker := testWorker(t, lookup, newFakeUpdater(), &scriptedSession{valid: true}, sink, 1)

	status, err := worker.Run(context.Background(), handle, catalog, defaultTestSettings())

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, status)

	stats := handle.Snapshot()
	// At most the in-flight item finishes after the cancel request.
	assert.GreaterOrEqual(t, stats.Analyzed, int64(5))
	assert.LessOrEqual(t, stats.Analyzed, int64(6))
	assertConservation(t, stats)
	assertMonotonicProgress(t, sink.progresses)

	last := sink.progresses[len(sink.progresses)-1]
	assert.LessOrEqual(t, last.Processed, last.Total)
}

func TestWorkerConcurrentLookupsPreserveEmissionOrder(t *testing.T) {
	total := 12
	catalog := testCatalog(total)
	lookup := newFakeLookup()
	for i := 0; i < total; i++ {
		lookup.prices[fmt.Sprintf("item-%03d", i)] = 9800
	}

	sink := &captureSink{}
	worker := testWorker(t, lookup, newFakeUpdater(), &scriptedSession{valid: true}, sink, 3)
	handle := testHandle(int64(total))

	status, err := worker.Run(context.Background(), handle, catalog, defaultTestSettings())

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, status)

	// Results come out in catalog order even with overlapped lookups.
	require.Len(t, sink.results, total)
	for i, result := range sink.results {
		assert.Equal(t, catalog[i].ID, result.ProductID)
	}
	assertMonotonicProgress(t, sink.progresses)
	assertConservation(t, handle.Snapshot())
}

func TestWorkerCancelledContextBeforeStart(t *testing.T) {
	catalog := testCatalog(3)
	sink := &captureSink{}
	worker := testWorker(t, newFakeLookup(), newFakeUpdater(), &scriptedSession{valid: true}, sink, 1)
	handle := testHandle(int64(len(catalog)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status, err := worker.Run(ctx, handle, catalog, defaultTestSettings())

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, status)
	assert.Equal(t, int64(0), handle.Snapshot().Analyzed)
	assert.Empty(t, sink.results)

	// Even a run cancelled before its first item announces itself, so
	// downstream consumers pair the terminal event with a start.
	require.Len(t, sink.progresses, 1)
	assert.Equal(t, handle.RunID(), sink.progresses[0].RunID)
	assert.Equal(t, int64(0), sink.progresses[0].Processed)
	assert.Equal(t, int64(len(catalog)), sink.progresses[0].Total)
}
