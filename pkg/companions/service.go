// Package companions implements the suggestion lifecycle: rule management,
// generation from trigger items, and the decision workflow.
package companions

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/catalog"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// RuleStore persists companion rules
type RuleStore interface {
	Create(ctx context.Context, rule *models.CompanionRule) (*models.CompanionRule, error)
	Get(ctx context.Context, id string) (*models.CompanionRule, error)
	List(ctx context.Context, activeOnly bool) ([]models.CompanionRule, error)
	ListActive(ctx context.Context) ([]models.CompanionRule, error)
	Update(ctx context.Context, rule *models.CompanionRule) (*models.CompanionRule, error)
	Deactivate(ctx context.Context, id string) error
	CountByActive(ctx context.Context) (total int64, active int64, err error)
}

// SuggestionStore persists companion suggestions
type SuggestionStore interface {
	Upsert(ctx context.Context, s *models.CompanionSuggestion) (*models.CompanionSuggestion, bool, error)
	Get(ctx context.Context, id string) (*models.CompanionSuggestion, error)
	List(ctx context.Context, status *string, sourceJobID *string, page, pageSize int) ([]models.CompanionSuggestion, int64, error)
	Decide(ctx context.Context, id string, outcome string, decidedBy *string, approvedQty *int, notes *string) (*models.CompanionSuggestion, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
	RecordFeedback(ctx context.Context, f *models.CompanionFeedback) error
}

// PairStore reads published co-occurrence pairs
type PairStore interface {
	TopPairs(ctx context.Context, limit int, categoryID *int64) ([]models.CoOccurrencePair, error)
	Count(ctx context.Context) (int64, error)
	LastComputedAt(ctx context.Context) (*time.Time, error)
}

// Service orchestrates the companion suggestion engine
type Service struct {
	ruleStore       RuleStore
	suggestionStore SuggestionStore
	pairStore       PairStore
	catalog         catalog.Lookup
	emitter         *events.Emitter
	logger          ectologger.Logger
}

// NewService creates a new companion service
func NewService(
	ruleStore RuleStore,
	suggestionStore SuggestionStore,
	pairStore PairStore,
	catalogLookup catalog.Lookup,
	emitter *events.Emitter,
	logger ectologger.Logger,
) *Service {
	return &Service{
		ruleStore:       ruleStore,
		suggestionStore: suggestionStore,
		pairStore:       pairStore,
		catalog:         catalogLookup,
		emitter:         emitter,
		logger:          logger,
	}
}

// CreateRule validates and persists a new companion rule
func (s *Service) CreateRule(ctx context.Context, req models.CreateCompanionRuleRequest, createdBy *string) (*models.CompanionRule, error) {
	ctx, span := tracing.StartSpan(ctx, "companions.Service.CreateRule")
	defer span.End()

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	qtyRatio := 0.0
	if req.QtyRatio != nil {
		qtyRatio = *req.QtyRatio
	}

	rule := &models.CompanionRule{
		Name:        req.Name,
		Description: req.Description,
		StyleMatch:  models.StyleMatchMode(req.StyleMatch),
		QtyMode:     models.QtyMode(req.QtyMode),
		QtyRatio:    qtyRatio,
		IsActive:    isActive,
		CreatedBy:   createdBy,
		Sources:     req.Sources,
		Targets:     req.Targets,
	}

	if err := s.validateRule(ctx, rule); err != nil {
		return nil, err
	}

	return s.ruleStore.Create(ctx, rule)
}

// GetRule retrieves a companion rule
func (s *Service) GetRule(ctx context.Context, id string) (*models.CompanionRule, error) {
	return s.ruleStore.Get(ctx, id)
}

// ListRules lists companion rules
func (s *Service) ListRules(ctx context.Context, activeOnly bool) ([]models.CompanionRule, error) {
	return s.ruleStore.List(ctx, activeOnly)
}

// UpdateRule applies a partial update and revalidates the resulting rule.
// Sources and targets, when present, fully replace the existing sets.
func (s *Service) UpdateRule(ctx context.Context, id string, req models.UpdateCompanionRuleRequest) (*models.CompanionRule, error) {
	ctx, span := tracing.StartSpan(ctx, "companions.Service.UpdateRule")
	defer span.End()

	rule, err := s.ruleStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Description != nil {
		rule.Description = req.Description
	}
	if req.StyleMatch != nil {
		rule.StyleMatch = models.StyleMatchMode(*req.StyleMatch)
	}
	if req.QtyMode != nil {
		rule.QtyMode = models.QtyMode(*req.QtyMode)
	}
	if req.QtyRatio != nil {
		rule.QtyRatio = *req.QtyRatio
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if req.Sources != nil {
		rule.Sources = req.Sources
	}
	if req.Targets != nil {
		rule.Targets = req.Targets
	}

	if err := s.validateRule(ctx, rule); err != nil {
		return nil, err
	}

	return s.ruleStore.Update(ctx, rule)
}

// DeactivateRule soft deletes a rule. Historical suggestions keep their
// reference to it.
func (s *Service) DeactivateRule(ctx context.Context, id string) error {
	return s.ruleStore.Deactivate(ctx, id)
}

// validateRule accumulates every violation so callers can present them all
// at once
func (s *Service) validateRule(ctx context.Context, rule *models.CompanionRule) error {
	violations := []string{}

	if rule.Name == "" {
		violations = append(violations, "name must not be empty")
	}
	switch rule.StyleMatch {
	case models.StyleMatchAuto, models.StyleMatchAny, models.StyleMatchExplicit:
	default:
		violations = append(violations, fmt.Sprintf("style_match must be one of auto, any, explicit (got %q)", rule.StyleMatch))
	}
	switch rule.QtyMode {
	case models.QtyModeSum, models.QtyModeMax:
	case models.QtyModeRatio:
		if rule.QtyRatio <= 0 {
			violations = append(violations, "qty_ratio must be greater than 0 when qty_mode is ratio")
		}
	default:
		violations = append(violations, fmt.Sprintf("qty_mode must be one of sum, max, ratio (got %q)", rule.QtyMode))
	}
	if len(rule.Sources) == 0 {
		violations = append(violations, "at least one source is required")
	}
	if len(rule.Targets) == 0 {
		violations = append(violations, "at least one target is required")
	}

	violations = append(violations, s.validateRefs(ctx, "sources", rule.Sources)...)
	violations = append(violations, s.validateRefs(ctx, "targets", rule.Targets)...)

	if len(violations) > 0 {
		err := httperror.ToHTTPError(httperror.NewHTTPError(http.StatusBadRequest, "companion rule is invalid"))
		err.Meta = map[string]any{"violations": violations}
		return err
	}

	return nil
}

// validateRefs checks every category/style reference against the catalog.
// An unknown id is a validation violation, not a 404.
func (s *Service) validateRefs(ctx context.Context, field string, refs []models.RulePartRef) []string {
	violations := []string{}
	for i, ref := range refs {
		if _, err := s.catalog.ResolveCategory(ctx, ref.CategoryID); err != nil {
			if httperror.GetStatusCode(err) == http.StatusNotFound {
				violations = append(violations, fmt.Sprintf("%s[%d]: category %d does not exist", field, i, ref.CategoryID))
			} else {
				violations = append(violations, fmt.Sprintf("%s[%d]: category %d could not be verified", field, i, ref.CategoryID))
			}
		}
		if ref.StyleID == nil {
			continue
		}
		if _, err := s.catalog.ResolveStyle(ctx, *ref.StyleID); err != nil {
			if httperror.GetStatusCode(err) == http.StatusNotFound {
				violations = append(violations, fmt.Sprintf("%s[%d]: style %d does not exist", field, i, *ref.StyleID))
			} else {
				violations = append(violations, fmt.Sprintf("%s[%d]: style %d could not be verified", field, i, *ref.StyleID))
			}
		}
	}
	return violations
}

// Generate runs the matching engine over all active rules and upserts one
// suggestion per match. Repeated calls for the same job refresh pending
// suggestions in place instead of duplicating them.
func (s *Service) Generate(ctx context.Context, sourceJobID string, items []models.TriggerItem, triggeredBy *string) ([]models.CompanionSuggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "companions.Service.Generate")
	defer span.End()

	start := time.Now()
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"method":        "Generate",
		"source_job_id": sourceJobID,
		"trigger_items": len(items),
	})

	rules, err := s.ruleStore.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	snap, err := s.snapshotFor(ctx, items, rules)
	if err != nil {
		return nil, err
	}

	results := matching.Match(items, rules, snap)

	touched := []models.CompanionSuggestion{}
	created := 0
	refreshed := 0
	for _, result := range results {
		suggestion := &models.CompanionSuggestion{
			RuleID:            result.Rule.ID,
			SourceJobID:       sourceJobID,
			TargetCategoryID:  result.TargetCategoryID,
			TargetStyleID:     result.TargetStyleID,
			TargetDescription: result.TargetDescription,
			SuggestedQty:      result.SuggestedQty,
			TriggerSnapshot:   models.TriggerSnapshot(result.MatchedItems),
			ReasonText:        result.ReasonText,
			TriggeredBy:       triggeredBy,
		}

		saved, inserted, err := s.suggestionStore.Upsert(ctx, suggestion)
		if err != nil {
			return nil, err
		}
		if inserted {
			created++
		} else {
			refreshed++
		}

		s.emitter.EmitSuggestionCreated(ctx, saved, inserted)
		touched = append(touched, *saved)
	}

	metrics.RecordGeneration(created, refreshed, 0, time.Since(start).Seconds())
	log.WithFields(map[string]any{
		"matches":   len(results),
		"created":   created,
		"refreshed": refreshed,
	}).Info("Generated companion suggestions")

	return touched, nil
}

// snapshotFor loads catalog names for every id the matches could reference
func (s *Service) snapshotFor(ctx context.Context, items []models.TriggerItem, rules []models.CompanionRule) (catalog.Snapshot, error) {
	categorySet := map[int64]bool{}
	styleSet := map[int64]bool{}

	for _, item := range items {
		categorySet[item.CategoryID] = true
		if item.StyleID != nil {
			styleSet[*item.StyleID] = true
		}
	}
	for _, rule := range rules {
		for _, target := range rule.Targets {
			categorySet[target.CategoryID] = true
			if target.StyleID != nil {
				styleSet[*target.StyleID] = true
			}
		}
	}

	categoryIDs := make([]int64, 0, len(categorySet))
	for id := range categorySet {
		categoryIDs = append(categoryIDs, id)
	}
	styleIDs := make([]int64, 0, len(styleSet))
	for id := range styleSet {
		styleIDs = append(styleIDs, id)
	}

	return s.catalog.Names(ctx, categoryIDs, styleIDs)
}

// GetSuggestion retrieves a suggestion
func (s *Service) GetSuggestion(ctx context.Context, id string) (*models.CompanionSuggestion, error) {
	return s.suggestionStore.Get(ctx, id)
}

// ListSuggestions lists suggestions with optional status and job filters
func (s *Service) ListSuggestions(ctx context.Context, status *string, sourceJobID *string, page, pageSize int) (*models.SuggestionList, error) {
	ctx, span := tracing.StartSpan(ctx, "companions.Service.ListSuggestions")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	items, total, err := s.suggestionStore.List(ctx, status, sourceJobID, page, pageSize)
	if err != nil {
		return nil, err
	}

	return &models.SuggestionList{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// Decide transitions a pending suggestion to approved or discarded. Both
// states are terminal; deciding an already-decided suggestion returns a 409
// identifying the recorded outcome.
func (s *Service) Decide(ctx context.Context, id string, req models.DecideSuggestionRequest, decidedBy *string) (*models.CompanionSuggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "companions.Service.Decide")
	defer span.End()

	suggestion, err := s.suggestionStore.Decide(ctx, id, req.Outcome, decidedBy, req.ApprovedQty, req.Notes)
	if err != nil {
		return nil, err
	}

	finalQty := suggestion.SuggestedQty
	if suggestion.ApprovedQty != nil {
		finalQty = *suggestion.ApprovedQty
	}
	feedback := &models.CompanionFeedback{
		RuleID:           suggestion.RuleID,
		SuggestionID:     suggestion.ID,
		Outcome:          suggestion.Status,
		SuggestedQty:     suggestion.SuggestedQty,
		FinalQty:         finalQty,
		TargetCategoryID: suggestion.TargetCategoryID,
		TargetStyleID:    suggestion.TargetStyleID,
		DecidedBy:        suggestion.DecidedBy,
	}
	if err := s.suggestionStore.RecordFeedback(ctx, feedback); err != nil {
		// The decision already committed; feedback is best effort
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to record companion feedback")
	}

	metrics.RecordDecision(suggestion.Status)
	s.emitter.EmitSuggestionDecided(ctx, suggestion)

	return suggestion, nil
}

// TopPairs returns the highest-count co-occurrence pairs
func (s *Service) TopPairs(ctx context.Context, limit int, categoryID *int64) ([]models.CoOccurrencePair, error) {
	return s.pairStore.TopPairs(ctx, limit, categoryID)
}

// Stats computes the dashboard rollup
func (s *Service) Stats(ctx context.Context) (*models.CompanionStats, error) {
	ctx, span := tracing.StartSpan(ctx, "companions.Service.Stats")
	defer span.End()

	total, active, err := s.ruleStore.CountByActive(ctx)
	if err != nil {
		return nil, err
	}

	counts, err := s.suggestionStore.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	pairs, err := s.pairStore.Count(ctx)
	if err != nil {
		return nil, err
	}

	refreshedAt, err := s.pairStore.LastComputedAt(ctx)
	if err != nil {
		return nil, err
	}

	approved := counts[models.SuggestionStatusApproved]
	discarded := counts[models.SuggestionStatusDiscarded]
	rate := 0.0
	if approved+discarded > 0 {
		rate = float64(approved) / float64(approved+discarded)
	}

	return &models.CompanionStats{
		TotalRules:              total,
		ActiveRules:             active,
		PendingSuggestions:      counts[models.SuggestionStatusPending],
		ApprovedSuggestions:     approved,
		DiscardedSuggestions:    discarded,
		ApprovalRate:            rate,
		CoOccurrencePairs:       pairs,
		CoOccurrenceRefreshedAt: refreshedAt,
	}, nil
}
