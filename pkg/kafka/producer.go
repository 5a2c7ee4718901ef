package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Producer handles Kafka event emission
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// SuggestionEvent represents a suggestion lifecycle event
type SuggestionEvent struct {
	EventType  string                      `json:"event_type"` // suggestion.created, suggestion.refreshed, suggestion.decided
	Suggestion *models.CompanionSuggestion `json:"suggestion"`
	Timestamp  time.Time                   `json:"timestamp"`
}

// PublishSuggestionEvent publishes a suggestion lifecycle event to Kafka
func (p *Producer) PublishSuggestionEvent(ctx context.Context, event *SuggestionEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishSuggestionEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.Suggestion.ID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish suggestion event")
		metrics.RecordKafkaPublish(p.topic, "error")
		return err
	}

	metrics.RecordKafkaPublish(p.topic, "ok")
	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type":    event.EventType,
		"suggestion_id": event.Suggestion.ID,
	}).Debug("Published suggestion event")

	return nil
}
