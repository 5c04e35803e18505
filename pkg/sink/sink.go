// Package sink provides ResultSink implementations: structured logging,
// Kafka publication, Postgres persistence, and a fan-out combinator.
package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/pricekit/repricer/pkg/kafka"
	"github.com/pricekit/repricer/pkg/models"
	"github.com/pricekit/repricer/pkg/reconcile"
)

// ResultStore persists per-item results.
type ResultStore interface {
	InsertResult(ctx context.Context, result *models.AnalysisResult) error
}

// StatisticsRecorder folds a finished run into the all-time aggregates.
type StatisticsRecorder interface {
	RecordRun(ctx context.Context, run *models.ReconciliationRun) error
}

// EventPublisher publishes per-item results and run lifecycle events.
type EventPublisher interface {
	PublishItemResult(ctx context.Context, msg *kafka.ItemResultMessage) error
	PublishRunEvent(ctx context.Context, msg *kafka.RunEventMessage) error
}

// LogSink writes the result stream to the structured log.
type LogSink struct {
	logger ectologger.Logger
}

// NewLogSink creates a new LogSink
func NewLogSink(logger ectologger.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) OnItemResult(ctx context.Context, result *models.AnalysisResult) error {
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":           result.RunID,
		"product_id":       result.ProductID,
		"competitor_price": result.CompetitorPrice,
		"candidate_price":  result.CandidatePrice,
		"margin":           result.Margin,
		"outcome":          result.Outcome,
		"applied":          result.Applied,
	}).Debugf("Item analyzed")
	return nil
}

func (s *LogSink) OnProgress(ctx context.Context, progress reconcile.Progress) error {
	s.logger.WithContext(ctx).Debugf("Run %s progress %d/%d", progress.RunID, progress.Processed, progress.Total)
	return nil
}

func (s *LogSink) OnComplete(ctx context.Context, run *models.ReconciliationRun) error {
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":   run.ID,
		"status":   run.Status,
		"analyzed": run.Analyzed,
		"updated":  run.Updated,
		"excluded": run.Excluded,
		"failed":   run.Failed,
		"kept":     run.KeptCurrent,
	}).Infof("Run finished")
	return nil
}

// KafkaSink publishes results and lifecycle events to Kafka.
type KafkaSink struct {
	producer EventPublisher

	mu         sync.Mutex
	currentRun uuid.UUID
}

// NewKafkaSink creates a new KafkaSink
func NewKafkaSink(producer EventPublisher) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (s *KafkaSink) OnItemResult(ctx context.Context, result *models.AnalysisResult) error {
	msg := &kafka.ItemResultMessage{
		RunID:           result.RunID.String(),
		ProductID:       result.ProductID.String(),
		CompetitorPrice: result.CompetitorPrice,
		CandidatePrice:  result.CandidatePrice,
		Margin:          result.Margin,
		Outcome:         string(result.Outcome),
		Applied:         result.Applied,
		Timestamp:       result.CreatedAt,
	}
	if result.FailureDetail != nil {
		msg.FailureDetail = *result.FailureDetail
	}
	return s.producer.PublishItemResult(ctx, msg)
}

func (s *KafkaSink) OnProgress(ctx context.Context, progress reconcile.Progress) error {
	// Per-item progress stays local; consumers derive it from item results.
	// The zero-progress event the worker emits before its first item
	// announces the run itself.
	s.mu.Lock()
	first := s.currentRun != progress.RunID
	if first {
		s.currentRun = progress.RunID
	}
	s.mu.Unlock()
	if !first {
		return nil
	}

	return s.producer.PublishRunEvent(ctx, &kafka.RunEventMessage{
		Type:   kafka.EventRunStarted,
		RunID:  progress.RunID.String(),
		Status: string(models.RunStatusRunning),
		Total:  progress.Total,
	})
}

func (s *KafkaSink) OnComplete(ctx context.Context, run *models.ReconciliationRun) error {
	s.mu.Lock()
	if s.currentRun == run.ID {
		s.currentRun = uuid.Nil
	}
	s.mu.Unlock()

	eventType := kafka.EventRunCompleted
	switch run.Status {
	case models.RunStatusCancelled:
		eventType = kafka.EventRunCancelled
	case models.RunStatusFailed:
		eventType = kafka.EventRunFailed
	}

	evt := &kafka.RunEventMessage{
		Type:     eventType,
		RunID:    run.ID.String(),
		Status:   string(run.Status),
		Total:    run.Total,
		Analyzed: run.Analyzed,
		Updated:  run.Updated,
		Excluded: run.Excluded,
		Failed:   run.Failed,
		Kept:     run.KeptCurrent,
	}
	if run.ErrorMessage != nil {
		evt.Error = *run.ErrorMessage
	}
	return s.producer.PublishRunEvent(ctx, evt)
}

// StoreSink persists results and final statistics to Postgres.
type StoreSink struct {
	results ResultStore
	stats   StatisticsRecorder
}

// NewStoreSink creates a new StoreSink
func NewStoreSink(results ResultStore, stats StatisticsRecorder) *StoreSink {
	return &StoreSink{results: results, stats: stats}
}

func (s *StoreSink) OnItemResult(ctx context.Context, result *models.AnalysisResult) error {
	return s.results.InsertResult(ctx, result)
}

func (s *StoreSink) OnProgress(ctx context.Context, progress reconcile.Progress) error {
	return nil
}

func (s *StoreSink) OnComplete(ctx context.Context, run *models.ReconciliationRun) error {
	return s.stats.RecordRun(ctx, run)
}

// CatalogPriceUpdater mirrors applied prices into the local catalog.
type CatalogPriceUpdater interface {
	UpdatePrice(ctx context.Context, id uuid.UUID, newPrice int64) error
}

// CatalogSink keeps the local catalog's current prices in step with the
// updates actually applied on the marketplace.
type CatalogSink struct {
	catalog CatalogPriceUpdater
}

// NewCatalogSink creates a new CatalogSink
func NewCatalogSink(catalog CatalogPriceUpdater) *CatalogSink {
	return &CatalogSink{catalog: catalog}
}

func (s *CatalogSink) OnItemResult(ctx context.Context, result *models.AnalysisResult) error {
	if !result.Applied {
		return nil
	}
	return s.catalog.UpdatePrice(ctx, result.ProductID, result.CandidatePrice)
}

func (s *CatalogSink) OnProgress(ctx context.Context, progress reconcile.Progress) error {
	return nil
}

func (s *CatalogSink) OnComplete(ctx context.Context, run *models.ReconciliationRun) error {
	return nil
}

// MultiSink fans the stream out to several sinks. Every sink sees every
// event; failures are collected, not short-circuited.
type MultiSink struct {
	sinks []reconcile.ResultSink
}

// NewMultiSink creates a new MultiSink
func NewMultiSink(sinks ...reconcile.ResultSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (s *MultiSink) OnItemResult(ctx context.Context, result *models.AnalysisResult) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.OnItemResult(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *MultiSink) OnProgress(ctx context.Context, progress reconcile.Progress) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.OnProgress(ctx, progress); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *MultiSink) OnComplete(ctx context.Context, run *models.ReconciliationRun) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.OnComplete(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
