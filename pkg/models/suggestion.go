package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SuggestionStatus constants
const (
	SuggestionStatusPending   = "pending"
	SuggestionStatusApproved  = "approved"
	SuggestionStatusDiscarded = "discarded"
)

// TriggerItem is an ephemeral input representing parts consumed or selected
// on a job. Persisted only inside a suggestion's trigger snapshot.
type TriggerItem struct {
	CategoryID int64  `json:"category_id" validate:"required"`
	StyleID    *int64 `json:"style_id,omitempty"`
	Qty        int    `json:"qty" validate:"required,gt=0"`
}

// TriggerSnapshot is the set of trigger items that caused a match, stored as
// jsonb for auditability
type TriggerSnapshot []TriggerItem

func (s *TriggerSnapshot) Scan(src any) error {
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("TriggerSnapshot.Scan: expected []byte, got %T", src)
	}
	return json.Unmarshal(b, s)
}

func (s TriggerSnapshot) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// CompanionSuggestion is one proposed companion part for one generation batch
type CompanionSuggestion struct {
	ID                string          `json:"id" db:"id"`
	RuleID            string          `json:"rule_id" db:"rule_id"`
	SourceJobID       string          `json:"source_job_id" db:"source_job_id"`
	TargetCategoryID  int64           `json:"target_category_id" db:"target_category_id"`
	TargetStyleID     *int64          `json:"target_style_id,omitempty" db:"target_style_id"`
	TargetDescription string          `json:"target_description" db:"target_description"`
	SuggestedQty      int             `json:"suggested_qty" db:"suggested_qty"`
	ApprovedQty       *int            `json:"approved_qty,omitempty" db:"approved_qty"`
	TriggerSnapshot   TriggerSnapshot `json:"trigger_snapshot" db:"trigger_snapshot"`
	ReasonText        string          `json:"reason_text" db:"reason_text"`
	Status            string          `json:"status" db:"status"`
	TriggeredBy       *string         `json:"triggered_by,omitempty" db:"triggered_by"`
	DecidedBy         *string         `json:"decided_by,omitempty" db:"decided_by"`
	DecidedAt         *time.Time      `json:"decided_at,omitempty" db:"decided_at"`
	Notes             *string         `json:"notes,omitempty" db:"notes"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// GenerateSuggestionsRequest is the request to run suggestion generation for
// a job's trigger items
type GenerateSuggestionsRequest struct {
	SourceJobID  string        `json:"source_job_id" validate:"required"`
	TriggerItems []TriggerItem `json:"trigger_items" validate:"required,min=1,dive"`
}

// DecideSuggestionRequest is the request to approve or discard a suggestion
type DecideSuggestionRequest struct {
	Outcome     string  `json:"outcome" validate:"required,oneof=approved discarded"`
	ApprovedQty *int    `json:"approved_qty,omitempty" validate:"omitempty,gt=0"`
	Notes       *string `json:"notes,omitempty"`
}

// SuggestionList is a paginated page of suggestions
type SuggestionList struct {
	Items    []CompanionSuggestion `json:"items"`
	Total    int64                 `json:"total"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
}

// CompanionFeedback records the final outcome of a decided suggestion, kept
// as raw material for tuning rules
type CompanionFeedback struct {
	ID               int64      `json:"id" db:"id"`
	RuleID           string     `json:"rule_id" db:"rule_id"`
	SuggestionID     string     `json:"suggestion_id" db:"suggestion_id"`
	Outcome          string     `json:"outcome" db:"outcome"`
	SuggestedQty     int        `json:"suggested_qty" db:"suggested_qty"`
	FinalQty         int        `json:"final_qty" db:"final_qty"`
	TargetCategoryID int64      `json:"target_category_id" db:"target_category_id"`
	TargetStyleID    *int64     `json:"target_style_id,omitempty" db:"target_style_id"`
	DecidedBy        *string    `json:"decided_by,omitempty" db:"decided_by"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}
