package models

import (
	"time"
)

// StyleMatchMode governs how a target's style is chosen relative to the
// triggering item's style
type StyleMatchMode string

const (
	StyleMatchAuto     StyleMatchMode = "auto"     // Inherit the matched trigger item's style
	StyleMatchAny      StyleMatchMode = "any"      // Suggestion applies across all styles
	StyleMatchExplicit StyleMatchMode = "explicit" // Use the target's configured style verbatim
)

// QtyMode governs how the suggested quantity is derived from matched trigger
// quantities
type QtyMode string

const (
	QtyModeSum   QtyMode = "sum"   // Sum of matched quantities
	QtyModeMax   QtyMode = "max"   // Maximum of matched quantities
	QtyModeRatio QtyMode = "ratio" // ceil(sum of matched quantities * qty_ratio)
)

// RulePartRef is one source or target definition on a rule. A nil StyleID
// means "any style in this category".
type RulePartRef struct {
	ID         int64  `json:"-" db:"id"`
	RuleID     string `json:"-" db:"rule_id"`
	CategoryID int64  `json:"category_id" db:"category_id" validate:"required"`
	StyleID    *int64 `json:"style_id,omitempty" db:"style_id"`
	Position   int    `json:"-" db:"position"`
}

// CompanionRule is a named policy for producing companion part suggestions
type CompanionRule struct {
	ID          string         `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	Description *string        `json:"description,omitempty" db:"description"`
	StyleMatch  StyleMatchMode `json:"style_match" db:"style_match"`
	QtyMode     QtyMode        `json:"qty_mode" db:"qty_mode"`
	QtyRatio    float64        `json:"qty_ratio" db:"qty_ratio"`
	IsActive    bool           `json:"is_active" db:"is_active"`
	CreatedBy   *string        `json:"created_by,omitempty" db:"created_by"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty" db:"deleted_at"`
	Sources     []RulePartRef  `json:"sources" db:"-"`
	Targets     []RulePartRef  `json:"targets" db:"-"`
}

// CreateCompanionRuleRequest is the request to create a companion rule
type CreateCompanionRuleRequest struct {
	Name        string        `json:"name" validate:"required"`
	Description *string       `json:"description,omitempty"`
	StyleMatch  string        `json:"style_match" validate:"required"`
	QtyMode     string        `json:"qty_mode" validate:"required"`
	QtyRatio    *float64      `json:"qty_ratio,omitempty"`
	IsActive    *bool         `json:"is_active,omitempty"`
	Sources     []RulePartRef `json:"sources"`
	Targets     []RulePartRef `json:"targets"`
}

// MatchResult is one (rule, target, effective style) match produced by the
// matching engine
type MatchResult struct {
	Rule              *CompanionRule
	TargetCategoryID  int64
	TargetStyleID     *int64
	TargetDescription string
	SuggestedQty      int
	ReasonText        string
	MatchedItems      []TriggerItem
}

// UpdateCompanionRuleRequest is the request to update a companion rule.
// Sources and Targets, when present, fully replace the existing sets.
type UpdateCompanionRuleRequest struct {
	Name        *string       `json:"name,omitempty"`
	Description *string       `json:"description,omitempty"`
	StyleMatch  *string       `json:"style_match,omitempty"`
	QtyMode     *string       `json:"qty_mode,omitempty"`
	QtyRatio    *float64      `json:"qty_ratio,omitempty"`
	IsActive    *bool         `json:"is_active,omitempty"`
	Sources     []RulePartRef `json:"sources,omitempty"`
	Targets     []RulePartRef `json:"targets,omitempty"`
}
