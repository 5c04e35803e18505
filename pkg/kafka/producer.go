// Package kafka publishes per-item analysis results and run lifecycle events
// for downstream consumers (dashboards, exports, audit).
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pricekit/repricer/pkg/metrics"
	"github.com/pricekit/repricer/pkg/tracing"
)

// Run lifecycle event types.
const (
	EventRunStarted   = "run.started"
	EventRunCompleted = "run.completed"
	EventRunCancelled = "run.cancelled"
	EventRunFailed    = "run.failed"
)

// Config holds Kafka configuration
type Config struct {
	Brokers     []string
	ResultTopic string
	EventTopic  string
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers string, resultTopic string, eventTopic string) Config {
	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	return Config{
		Brokers:     brokerList,
		ResultTopic: resultTopic,
		EventTopic:  eventTopic,
	}
}

// Producer handles producing messages to Kafka
type Producer struct {
	resultWriter *kafka.Writer
	eventWriter  *kafka.Writer
	logger       ectologger.Logger
	resultTopic  string
	eventTopic   string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			// Allow Kafka to auto-create the topic in dev environments when it doesn't exist yet.
			// Without this, a first publish may fail with "Unknown Topic Or Partition".
			AllowAutoTopicCreation: true,
		}
	}

	return &Producer{
		resultWriter: newWriter(cfg.ResultTopic),
		eventWriter:  newWriter(cfg.EventTopic),
		logger:       logger,
		resultTopic:  cfg.ResultTopic,
		eventTopic:   cfg.EventTopic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	var firstErr error
	if err := p.resultWriter.Close(); err != nil {
		firstErr = err
	}
	if err := p.eventWriter.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ItemResultMessage is one per-item analysis result for downstream consumers.
type ItemResultMessage struct {
	RunID           string    `json:"run_id"`
	ProductID       string    `json:"product_id"`
	CompetitorPrice int64     `json:"competitor_price"`
	CandidatePrice  int64     `json:"candidate_price"`
	Margin          int64     `json:"margin"`
	Outcome         string    `json:"outcome"`
	Applied         bool      `json:"applied"`
	FailureDetail   string    `json:"failure_detail,omitempty"`
	Timestamp       time.Time `json:"timestamp"`

	// Tracing
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// RunEventMessage is a run lifecycle event.
type RunEventMessage struct {
	Type      string    `json:"type"` // run.started | run.completed | run.cancelled | run.failed
	RunID     string    `json:"run_id"`
	Status    string    `json:"status,omitempty"`
	Total     int64     `json:"total,omitempty"`
	Analyzed  int64     `json:"analyzed,omitempty"`
	Updated   int64     `json:"updated,omitempty"`
	Excluded  int64     `json:"excluded,omitempty"`
	Failed    int64     `json:"failed,omitempty"`
	Kept      int64     `json:"kept,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishItemResult publishes one analysis result, keyed by run id so one
// run's results stay ordered within a partition.
func (p *Producer) PublishItemResult(ctx context.Context, msg *ItemResultMessage) error {
	ctx, span := tracing.StartSpan(ctx, "Kafka.PublishItemResult")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.resultTopic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("run_id", msg.RunID),
		attribute.String("product_id", msg.ProductID),
	)

	msg.TraceID = tracing.GetTraceID(ctx)
	msg.SpanID = tracing.GetSpanID(ctx)
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal message")
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	headers := []kafka.Header{
		{Key: "run_id", Value: []byte(msg.RunID)},
		{Key: "product_id", Value: []byte(msg.ProductID)},
		{Key: "outcome", Value: []byte(msg.Outcome)},
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}

	start := time.Now()
	err = p.resultWriter.WriteMessages(ctx, kafka.Message{
		Key:     []byte(msg.RunID),
		Value:   data,
		Headers: headers,
	})
	if err != nil {
		metrics.RecordKafkaPublish(p.resultTopic, "failure", time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish message")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to Kafka topic %s", p.resultTopic)
		return err
	}

	metrics.RecordKafkaPublish(p.resultTopic, "success", time.Since(start).Seconds())
	span.SetStatus(codes.Ok, "message published")
	p.logger.WithContext(ctx).Debugf("Published item result to Kafka: run=%s product=%s outcome=%s",
		msg.RunID, msg.ProductID, msg.Outcome)

	return nil
}

// PublishRunEvent publishes a run lifecycle event.
func (p *Producer) PublishRunEvent(ctx context.Context, evt *RunEventMessage) error {
	if evt == nil {
		return fmt.Errorf("run event is nil")
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal run event: %w", err)
	}

	headers := []kafka.Header{
		{Key: "run_id", Value: []byte(evt.RunID)},
		{Key: "type", Value: []byte(evt.Type)},
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}

	start := time.Now()
	if err := p.eventWriter.WriteMessages(ctx, kafka.Message{
		Key:     []byte(evt.RunID),
		Value:   data,
		Headers: headers,
	}); err != nil {
		metrics.RecordKafkaPublish(p.eventTopic, "failure", time.Since(start).Seconds())
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish run event to Kafka topic %s", p.eventTopic)
		return err
	}

	metrics.RecordKafkaPublish(p.eventTopic, "success", time.Since(start).Seconds())
	return nil
}

// Stats returns producer statistics
func (p *Producer) Stats() kafka.WriterStats {
	return p.resultWriter.Stats()
}
