package companionrule

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Repository handles companion rule persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new companion rule repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create persists a new companion rule with its source and target sets
func (r *Repository) Create(ctx context.Context, rule *models.CompanionRule) (*models.CompanionRule, error) {
	ctx, span := tracing.StartSpan(ctx, "companionrule.Repository.Create")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method": "Create",
		"name":   rule.Name,
	})

	rule.ID = uuid.New().String()
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("companion_rules")
	sb.Cols("id", "name", "description", "style_match", "qty_mode", "qty_ratio", "is_active", "created_by", "created_at", "updated_at")
	sb.Values(rule.ID, rule.Name, rule.Description, rule.StyleMatch, rule.QtyMode, rule.QtyRatio, rule.IsActive, rule.CreatedBy, rule.CreatedAt, rule.UpdatedAt)

	query, args := sb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Error("Failed to create companion rule")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create companion rule")
	}

	if err := insertPartRefs(ctx, tx, "companion_rule_sources", rule.ID, rule.Sources); err != nil {
		log.WithError(err).Error("Failed to insert rule sources")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create companion rule")
	}
	if err := insertPartRefs(ctx, tx, "companion_rule_targets", rule.ID, rule.Targets); err != nil {
		log.WithError(err).Error("Failed to insert rule targets")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create companion rule")
	}

	if err := tx.Commit(ctx); err != nil {
		log.WithError(err).Error("Failed to commit transaction")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create companion rule")
	}

	log.WithFields(map[string]any{"id": rule.ID}).Info("Created companion rule")
	return rule, nil
}

// Get retrieves a companion rule by ID, including its sources and targets
func (r *Repository) Get(ctx context.Context, id string) (*models.CompanionRule, error) {
	ctx, span := tracing.StartSpan(ctx, "companionrule.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "name", "description", "style_match", "qty_mode", "qty_ratio", "is_active", "created_by", "created_at", "updated_at", "deleted_at")
	sb.From("companion_rules")
	sb.Where(
		sb.Equal("id", id),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var rule models.CompanionRule
	if err := r.db.GetContext(ctx, &rule, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("companion rule %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get companion rule")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get companion rule")
	}

	if err := r.loadPartRefs(ctx, []*models.CompanionRule{&rule}); err != nil {
		return nil, err
	}

	return &rule, nil
}

// List retrieves companion rules, optionally filtered to active only
func (r *Repository) List(ctx context.Context, activeOnly bool) ([]models.CompanionRule, error) {
	ctx, span := tracing.StartSpan(ctx, "companionrule.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "name", "description", "style_match", "qty_mode", "qty_ratio", "is_active", "created_by", "created_at", "updated_at", "deleted_at")
	sb.From("companion_rules")
	where := []string{sb.IsNull("deleted_at")}
	if activeOnly {
		where = append(where, sb.Equal("is_active", true))
	}
	sb.Where(where...)
	sb.OrderBy("created_at DESC")

	query, args := sb.Build()
	var rules []models.CompanionRule
	if err := r.db.SelectContext(ctx, &rules, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list companion rules")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list companion rules")
	}

	ptrs := make([]*models.CompanionRule, len(rules))
	for i := range rules {
		ptrs[i] = &rules[i]
	}
	if err := r.loadPartRefs(ctx, ptrs); err != nil {
		return nil, err
	}

	return rules, nil
}

// ListActive retrieves all active companion rules
func (r *Repository) ListActive(ctx context.Context) ([]models.CompanionRule, error) {
	return r.List(ctx, true)
}

// Update applies the rule's current field values and fully replaces its
// source and target sets
func (r *Repository) Update(ctx context.Context, rule *models.CompanionRule) (*models.CompanionRule, error) {
	ctx, span := tracing.StartSpan(ctx, "companionrule.Repository.Update")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method": "Update",
		"id":     rule.ID,
	})

	rule.UpdatedAt = time.Now().UTC()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("companion_rules")
	ub.Set(
		ub.Assign("name", rule.Name),
		ub.Assign("description", rule.Description),
		ub.Assign("style_match", rule.StyleMatch),
		ub.Assign("qty_mode", rule.QtyMode),
		ub.Assign("qty_ratio", rule.QtyRatio),
		ub.Assign("is_active", rule.IsActive),
		ub.Assign("updated_at", rule.UpdatedAt),
	)
	ub.Where(
		ub.Equal("id", rule.ID),
		ub.IsNull("deleted_at"),
	)

	query, args := ub.Build()
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		log.WithError(err).Error("Failed to update companion rule")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update companion rule")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("companion rule %s not found", rule.ID))
	}

	for _, table := range []string{"companion_rule_sources", "companion_rule_targets"} {
		db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
		db.DeleteFrom(table)
		db.Where(db.Equal("rule_id", rule.ID))
		query, args := db.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			log.WithError(err).Error("Failed to replace rule part refs")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update companion rule")
		}
	}

	if err := insertPartRefs(ctx, tx, "companion_rule_sources", rule.ID, rule.Sources); err != nil {
		log.WithError(err).Error("Failed to insert rule sources")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update companion rule")
	}
	if err := insertPartRefs(ctx, tx, "companion_rule_targets", rule.ID, rule.Targets); err != nil {
		log.WithError(err).Error("Failed to insert rule targets")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update companion rule")
	}

	if err := tx.Commit(ctx); err != nil {
		log.WithError(err).Error("Failed to commit transaction")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update companion rule")
	}

	return rule, nil
}

// Deactivate soft deletes a companion rule. Historical suggestions that
// reference the rule are untouched.
func (r *Repository) Deactivate(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "companionrule.Repository.Deactivate")
	defer span.End()

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("companion_rules")
	ub.Set(
		ub.Assign("is_active", false),
		ub.Assign("deleted_at", now),
		ub.Assign("updated_at", now),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.IsNull("deleted_at"),
	)

	query, args := ub.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to deactivate companion rule")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to deactivate companion rule")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("companion rule %s not found", id))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Deactivated companion rule")
	return nil
}

// CountByActive returns total and active rule counts
func (r *Repository) CountByActive(ctx context.Context) (total int64, active int64, err error) {
	ctx, span := tracing.StartSpan(ctx, "companionrule.Repository.CountByActive")
	defer span.End()

	query := `SELECT COUNT(*), COUNT(*) FILTER (WHERE is_active) FROM companion_rules WHERE deleted_at IS NULL`
	row := r.db.QueryRowxContext(ctx, query)
	if err := row.Scan(&total, &active); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count companion rules")
		return 0, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count companion rules")
	}

	return total, active, nil
}

func insertPartRefs(ctx context.Context, tx database.Tx, table string, ruleID string, refs []models.RulePartRef) error {
	if len(refs) == 0 {
		return nil
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols("rule_id", "category_id", "style_id", "position")
	for i, ref := range refs {
		sb.Values(ruleID, ref.CategoryID, ref.StyleID, i)
	}

	query, args := sb.Build()
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// loadPartRefs populates Sources and Targets for the given rules
func (r *Repository) loadPartRefs(ctx context.Context, rules []*models.CompanionRule) error {
	if len(rules) == 0 {
		return nil
	}

	ids := make([]any, len(rules))
	byID := make(map[string]*models.CompanionRule, len(rules))
	for i, rule := range rules {
		ids[i] = rule.ID
		byID[rule.ID] = rule
		rule.Sources = []models.RulePartRef{}
		rule.Targets = []models.RulePartRef{}
	}

	for _, table := range []string{"companion_rule_sources", "companion_rule_targets"} {
		sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
		sb.Select("id", "rule_id", "category_id", "style_id", "position")
		sb.From(table)
		sb.Where(sb.In("rule_id", ids...))
		sb.OrderBy("rule_id", "position")

		query, args := sb.Build()
		var refs []models.RulePartRef
		if err := r.db.SelectContext(ctx, &refs, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to load rule part refs")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to load companion rule definitions")
		}

		for _, ref := range refs {
			rule := byID[ref.RuleID]
			if rule == nil {
				continue
			}
			if table == "companion_rule_sources" {
				rule.Sources = append(rule.Sources, ref)
			} else {
				rule.Targets = append(rule.Targets, ref)
			}
		}
	}

	return nil
}
