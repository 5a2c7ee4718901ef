// Package metrics provides Prometheus metrics for the Clover service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SuggestionsGeneratedTotal tracks suggestions produced by generation runs
	SuggestionsGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "suggestions",
			Name:      "generated_total",
			Help:      "Total number of companion suggestions generated by outcome",
		},
		[]string{"outcome"},
	)

	// SuggestionDecisionsTotal tracks accept/reject decisions
	SuggestionDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "suggestions",
			Name:      "decisions_total",
			Help:      "Total number of suggestion decisions by status",
		},
		[]string{"status"},
	)

	// GenerationDuration tracks suggestion generation duration in seconds
	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "suggestions",
			Name:      "generation_duration_seconds",
			Help:      "Duration of suggestion generation runs in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// RefreshDuration tracks co-occurrence refresh duration in seconds
	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "cooccurrence",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of co-occurrence refresh runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	// CoOccurrencePairs tracks the number of published co-occurrence pairs
	CoOccurrencePairs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clover",
			Subsystem: "cooccurrence",
			Name:      "pairs",
			Help:      "Number of co-occurrence pairs published by the latest refresh",
		},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// MovementsConsumed tracks stock movement messages consumed
	MovementsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "movements_consumed_total",
			Help:      "Total number of stock movement messages consumed",
		},
		[]string{"status"},
	)

	// DatabaseQueryDuration tracks database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// RecordGeneration records the outcome counts of a generation run
func RecordGeneration(created, refreshed, skipped int, durationSeconds float64) {
	SuggestionsGeneratedTotal.WithLabelValues("created").Add(float64(created))
	SuggestionsGeneratedTotal.WithLabelValues("refreshed").Add(float64(refreshed))
	SuggestionsGeneratedTotal.WithLabelValues("skipped").Add(float64(skipped))
	GenerationDuration.Observe(durationSeconds)
}

// RecordDecision records a suggestion decision
func RecordDecision(status string) {
	SuggestionDecisionsTotal.WithLabelValues(status).Inc()
}

// RecordRefresh records a co-occurrence refresh run
func RecordRefresh(status string, pairs int, durationSeconds float64) {
	RefreshDuration.WithLabelValues(status).Observe(durationSeconds)
	if status == "completed" {
		CoOccurrencePairs.Set(float64(pairs))
	}
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}

// RecordMovementConsumed records a consumed stock movement message
func RecordMovementConsumed(status string) {
	MovementsConsumed.WithLabelValues(status).Inc()
}
