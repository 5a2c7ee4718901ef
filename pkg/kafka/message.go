package kafka

import (
	"encoding/json"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Parsed content
	Movement *MovementMessage
}

// MovementMessage is a stock movement batch published by the inventory
// system. Consumption movements with a job id trigger suggestion generation.
type MovementMessage struct {
	JobID        string               `json:"job_id"`
	MovementType string               `json:"movement_type"` // consume, receive, adjust
	TriggeredBy  *string              `json:"triggered_by,omitempty"`
	Items        []models.TriggerItem `json:"items"`
	Timestamp    time.Time            `json:"timestamp"`
}

// ParseMovementMessage parses the message value as a movement batch
func (m *IncomingMessage) ParseMovementMessage() error {
	var msg MovementMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return err
	}
	m.Movement = &msg
	return nil
}

// IsConsumption reports whether the message should trigger generation
func (m *IncomingMessage) IsConsumption() bool {
	return m.Movement != nil && m.Movement.MovementType == "consume" && m.Movement.JobID != "" && len(m.Movement.Items) > 0
}
