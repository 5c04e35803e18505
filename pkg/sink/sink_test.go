package sink

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricekit/repricer/pkg/kafka"
	"github.com/pricekit/repricer/pkg/models"
	"github.com/pricekit/repricer/pkg/reconcile"
)

type recordingSink struct {
	mu       sync.Mutex
	items    int
	progress int
	complete int
	err      error
}

func (s *recordingSink) OnItemResult(ctx context.Context, result *models.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items++
	return s.err
}

func (s *recordingSink) OnProgress(ctx context.Context, progress reconcile.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress++
	return s.err
}

func (s *recordingSink) OnComplete(ctx context.Context, run *models.ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complete++
	return s.err
}

func TestMultiSinkFansOutToAllSinks(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}
	multi := NewMultiSink(first, second)

	result := &models.AnalysisResult{ID: uuid.New(), RunID: uuid.New()}
	run := &models.ReconciliationRun{ID: uuid.New(), Status: models.RunStatusCompleted}

	require.NoError(t, multi.OnItemResult(context.Background(), result))
	require.NoError(t, multi.OnProgress(context.Background(), reconcile.Progress{Processed: 1, Total: 2}))
	require.NoError(t, multi.OnComplete(context.Background(), run))

	assert.Equal(t, 1, first.items)
	assert.Equal(t, 1, second.items)
	assert.Equal(t, 1, first.progress)
	assert.Equal(t, 1, first.complete)
	assert.Equal(t, 1, second.complete)
}

func TestMultiSinkFailureDoesNotShortCircuit(t *testing.T) {
	failing := &recordingSink{err: errors.New("broken pipe")}
	healthy := &recordingSink{}
	multi := NewMultiSink(failing, healthy)

	err := multi.OnItemResult(context.Background(), &models.AnalysisResult{ID: uuid.New()})

	require.Error(t, err)
	// The healthy sink still received the event.
	assert.Equal(t, 1, healthy.items)
}

type fakePublisher struct {
	items  []*kafka.ItemResultMessage
	events []*kafka.RunEventMessage
}

func (f *fakePublisher) PublishItemResult(ctx context.Context, msg *kafka.ItemResultMessage) error {
	f.items = append(f.items, msg)
	return nil
}

func (f *fakePublisher) PublishRunEvent(ctx context.Context, msg *kafka.RunEventMessage) error {
	f.events = append(f.events, msg)
	return nil
}

func TestKafkaSinkAnnouncesEachRunOnce(t *testing.T) {
	publisher := &fakePublisher{}
	kafkaSink := NewKafkaSink(publisher)
	ctx := context.Background()

	runID := uuid.New()

	// The worker's zero-progress event opens the run.
	require.NoError(t, kafkaSink.OnProgress(ctx, reconcile.Progress{RunID: runID, Processed: 0, Total: 3}))
	require.Len(t, publisher.events, 1)
	assert.Equal(t, kafka.EventRunStarted, publisher.events[0].Type)
	assert.Equal(t, runID.String(), publisher.events[0].RunID)
	assert.Equal(t, int64(3), publisher.events[0].Total)

	// Per-item progress of the same run publishes nothing further.
	require.NoError(t, kafkaSink.OnProgress(ctx, reconcile.Progress{RunID: runID, Processed: 1, Total: 3}))
	require.Len(t, publisher.events, 1)

	require.NoError(t, kafkaSink.OnComplete(ctx, &models.ReconciliationRun{ID: runID, Status: models.RunStatusCancelled}))
	require.Len(t, publisher.events, 2)
	assert.Equal(t, kafka.EventRunCancelled, publisher.events[1].Type)

	// A later run through the same sink gets its own announcement.
	nextID := uuid.New()
	require.NoError(t, kafkaSink.OnProgress(ctx, reconcile.Progress{RunID: nextID, Processed: 0, Total: 5}))
	require.Len(t, publisher.events, 3)
	assert.Equal(t, kafka.EventRunStarted, publisher.events[2].Type)
	assert.Equal(t, nextID.String(), publisher.events[2].RunID)
}

type fakeResultStore struct {
	inserted []*models.AnalysisResult
}

func (f *fakeResultStore) InsertResult(ctx context.Context, result *models.AnalysisResult) error {
	f.inserted = append(f.inserted, result)
	return nil
}

type fakeStatsRecorder struct {
	runs []*models.ReconciliationRun
}

func (f *fakeStatsRecorder) RecordRun(ctx context.Context, run *models.ReconciliationRun) error {
	f.runs = append(f.runs, run)
	return nil
}

func TestStoreSinkPersistsResultsAndStatistics(t *testing.T) {
	results := &fakeResultStore{}
	stats := &fakeStatsRecorder{}
	storeSink := NewStoreSink(results, stats)

	result := &models.AnalysisResult{ID: uuid.New(), Outcome: models.OutcomeUpdateCandidate}
	require.NoError(t, storeSink.OnItemResult(context.Background(), result))
	require.Len(t, results.inserted, 1)

	run := &models.ReconciliationRun{ID: uuid.New(), Status: models.RunStatusCompleted}
	require.NoError(t, storeSink.OnComplete(context.Background(), run))
	require.Len(t, stats.runs, 1)

	// Progress events are not persisted.
	require.NoError(t, storeSink.OnProgress(context.Background(), reconcile.Progress{Processed: 1, Total: 1}))
}

type fakeCatalogUpdater struct {
	updates map[uuid.UUID]int64
}

func (f *fakeCatalogUpdater) UpdatePrice(ctx context.Context, id uuid.UUID, newPrice int64) error {
	if f.updates == nil {
		f.updates = map[uuid.UUID]int64{}
	}
	f.updates[id] = newPrice
	return nil
}

func TestCatalogSinkMirrorsAppliedUpdatesOnly(t *testing.T) {
	catalog := &fakeCatalogUpdater{}
	catalogSink := NewCatalogSink(catalog)

	applied := &models.AnalysisResult{
		ID:             uuid.New(),
		ProductID:      uuid.New(),
		CandidatePrice: 9400,
		Outcome:        models.OutcomeUpdateCandidate,
		Applied:        true,
	}
	require.NoError(t, catalogSink.OnItemResult(context.Background(), applied))
	assert.Equal(t, int64(9400), catalog.updates[applied.ProductID])

	reported := &models.AnalysisResult{
		ID:             uuid.New(),
		ProductID:      uuid.New(),
		CandidatePrice: 8800,
		Outcome:        models.OutcomeUpdateCandidate,
		Applied:        false,
	}
	require.NoError(t, catalogSink.OnItemResult(context.Background(), reported))
	_, touched := catalog.updates[reported.ProductID]
	assert.False(t, touched, "report-only results must not touch the catalog")
}
