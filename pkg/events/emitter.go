// Package events handles event emission for suggestion lifecycle changes.
// Events are the optional downstream hook for order/consumption systems;
// approval itself stays advisory.
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Emitter handles event emission for Clover. A nil producer disables
// emission, so event failures never fail the request path.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitSuggestionCreated emits a suggestion.created or suggestion.refreshed
// event depending on whether the upsert inserted a new row
func (e *Emitter) EmitSuggestionCreated(ctx context.Context, suggestion *models.CompanionSuggestion, created bool) {
	if e.producer == nil {
		return
	}

	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitSuggestionCreated")
	defer span.End()

	eventType := "suggestion.refreshed"
	if created {
		eventType = "suggestion.created"
	}

	event := &kafka.SuggestionEvent{
		EventType:  eventType,
		Suggestion: suggestion,
	}

	if err := e.producer.PublishSuggestionEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to emit %s event", eventType)
	}
}

// EmitSuggestionDecided emits a suggestion.decided event
func (e *Emitter) EmitSuggestionDecided(ctx context.Context, suggestion *models.CompanionSuggestion) {
	if e.producer == nil {
		return
	}

	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitSuggestionDecided")
	defer span.End()

	event := &kafka.SuggestionEvent{
		EventType:  "suggestion.decided",
		Suggestion: suggestion,
	}

	if err := e.producer.PublishSuggestionEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit suggestion.decided event")
	}
}
