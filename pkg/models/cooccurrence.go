package models

import (
	"time"
)

// CoOccurrencePair counts how often two categories were consumed within the
// same transaction. Pairs are canonicalized with category_a_id < category_b_id.
type CoOccurrencePair struct {
	ID                int64      `json:"id" db:"id"`
	CategoryAID       int64      `json:"category_a_id" db:"category_a_id"`
	CategoryBID       int64      `json:"category_b_id" db:"category_b_id"`
	CoOccurrenceCount int64      `json:"co_occurrence_count" db:"co_occurrence_count"`
	TransactionsA     int64      `json:"transactions_a" db:"transactions_a"`
	TransactionsB     int64      `json:"transactions_b" db:"transactions_b"`
	Confidence        float64    `json:"confidence" db:"confidence"`
	WindowStart       *time.Time `json:"window_start,omitempty" db:"window_start"`
	WindowEnd         *time.Time `json:"window_end,omitempty" db:"window_end"`
	LastComputedAt    time.Time  `json:"last_computed_at" db:"last_computed_at"`
}

// StockMovement is one consumption event from the append-only movement log.
// Read-only, owned by the inventory system.
type StockMovement struct {
	ID             int64     `json:"id" db:"id"`
	CategoryID     int64     `json:"category_id" db:"category_id"`
	StyleID        *int64    `json:"style_id,omitempty" db:"style_id"`
	Qty            int       `json:"qty" db:"qty"`
	MovementType   string    `json:"movement_type" db:"movement_type"`
	TransactionKey string    `json:"transaction_key" db:"transaction_key"`
	OccurredAt     time.Time `json:"occurred_at" db:"occurred_at"`
}

// RefreshCoOccurrenceRequest optionally narrows the refresh to a time window
type RefreshCoOccurrenceRequest struct {
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`
}

// CompanionStats is the dashboard rollup
type CompanionStats struct {
	TotalRules              int64      `json:"total_rules"`
	ActiveRules             int64      `json:"active_rules"`
	PendingSuggestions      int64      `json:"pending_suggestions"`
	ApprovedSuggestions     int64      `json:"approved_suggestions"`
	DiscardedSuggestions    int64      `json:"discarded_suggestions"`
	ApprovalRate            float64    `json:"approval_rate"`
	CoOccurrencePairs       int64      `json:"co_occurrence_pairs"`
	CoOccurrenceRefreshedAt *time.Time `json:"co_occurrence_refreshed_at,omitempty"`
}
