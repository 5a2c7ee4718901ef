package suggestion

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

const suggestionColumns = "id, rule_id, source_job_id, target_category_id, target_style_id, target_description, suggested_qty, approved_qty, trigger_snapshot, reason_text, status, triggered_by, decided_by, decided_at, notes, created_at, updated_at"

// pendingConflictTarget matches the partial unique index that enforces at
// most one pending suggestion per (rule, job, target) key.
var pendingConflictColumns = []string{"rule_id", "source_job_id", "target_category_id", "COALESCE(target_style_id, 0)"}

// Repository handles companion suggestion persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new suggestion repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

type upsertRow struct {
	models.CompanionSuggestion
	Inserted bool `db:"inserted"`
}

// Upsert inserts a pending suggestion, or refreshes the existing pending
// suggestion for the same (rule, job, target) key in place. Terminal
// suggestions never conflict, so a re-trigger after a decision inserts a new
// row. Returns the suggestion and whether it was newly created.
func (r *Repository) Upsert(ctx context.Context, s *models.CompanionSuggestion) (*models.CompanionSuggestion, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Repository.Upsert")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":        "Upsert",
		"rule_id":       s.RuleID,
		"source_job_id": s.SourceJobID,
	})

	now := time.Now().UTC()

	ib := database.NewInsertBuilder()
	ib.InsertInto("companion_suggestions")
	ib.Cols("id", "rule_id", "source_job_id", "target_category_id", "target_style_id", "target_description", "suggested_qty", "trigger_snapshot", "reason_text", "status", "triggered_by", "created_at", "updated_at")
	ib.Values(uuid.New().String(), s.RuleID, s.SourceJobID, s.TargetCategoryID, s.TargetStyleID, s.TargetDescription, s.SuggestedQty, s.TriggerSnapshot, s.ReasonText, models.SuggestionStatusPending, s.TriggeredBy, now, now)

	ub := ib.OnConflictWhere("status = 'pending'", pendingConflictColumns...)
	ub.Set(
		ub.Assign("target_description", database.Excluded("target_description")),
		ub.Assign("suggested_qty", database.Excluded("suggested_qty")),
		ub.Assign("trigger_snapshot", database.Excluded("trigger_snapshot")),
		ub.Assign("reason_text", database.Excluded("reason_text")),
		ub.Assign("updated_at", database.Excluded("updated_at")),
	)
	// xmax = 0 distinguishes a fresh insert from a refreshed pending row
	ib.Returning(suggestionColumns + ", (xmax = 0) AS inserted")

	query, args := ib.Build()
	var row upsertRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		log.WithError(err).Error("Failed to upsert suggestion")
		return nil, false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert suggestion")
	}

	return &row.CompanionSuggestion, row.Inserted, nil
}

// Get retrieves a suggestion by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.CompanionSuggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Repository.Get")
	defer span.End()

	query := fmt.Sprintf("SELECT %s FROM companion_suggestions WHERE id = $1", suggestionColumns)
	var s models.CompanionSuggestion
	if err := r.db.GetContext(ctx, &s, query, id); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("suggestion %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get suggestion")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get suggestion")
	}

	return &s, nil
}

// List retrieves suggestions, newest first, optionally filtered by status
// and source job. Pagination is clamped by the service before it gets here.
func (r *Repository) List(ctx context.Context, status *string, sourceJobID *string, page, pageSize int) ([]models.CompanionSuggestion, int64, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Repository.List")
	defer span.End()

	offset := (page - 1) * pageSize

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("companion_suggestions")
	countWhere := []string{}
	if status != nil {
		countWhere = append(countWhere, countSb.Equal("status", *status))
	}
	if sourceJobID != nil {
		countWhere = append(countWhere, countSb.Equal("source_job_id", *sourceJobID))
	}
	if len(countWhere) > 0 {
		countSb.Where(countWhere...)
	}

	countQuery, countArgs := countSb.Build()
	var total int64
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count suggestions")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count suggestions")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "rule_id", "source_job_id", "target_category_id", "target_style_id", "target_description", "suggested_qty", "approved_qty", "trigger_snapshot", "reason_text", "status", "triggered_by", "decided_by", "decided_at", "notes", "created_at", "updated_at")
	sb.From("companion_suggestions")
	where := []string{}
	if status != nil {
		where = append(where, sb.Equal("status", *status))
	}
	if sourceJobID != nil {
		where = append(where, sb.Equal("source_job_id", *sourceJobID))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var suggestions []models.CompanionSuggestion
	if err := r.db.SelectContext(ctx, &suggestions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list suggestions")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list suggestions")
	}

	return suggestions, total, nil
}

// Decide atomically transitions a pending suggestion to a terminal status.
// The conditional update is the only writer path out of pending, so two
// concurrent decides can never both succeed. On conflict the error's meta
// carries the already-recorded outcome.
func (r *Repository) Decide(ctx context.Context, id string, outcome string, decidedBy *string, approvedQty *int, notes *string) (*models.CompanionSuggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Repository.Decide")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":  "Decide",
		"id":      id,
		"outcome": outcome,
	})

	now := time.Now().UTC()
	query := fmt.Sprintf(`
		UPDATE companion_suggestions
		SET status = $1, decided_by = $2, decided_at = $3, approved_qty = $4, notes = COALESCE($5, notes), updated_at = $3
		WHERE id = $6 AND status = 'pending'
		RETURNING %s`, suggestionColumns)

	var s models.CompanionSuggestion
	err := r.db.GetContext(ctx, &s, query, outcome, decidedBy, now, approvedQty, notes, id)
	if err == nil {
		log.Info("Decided suggestion")
		return &s, nil
	}
	if err.Error() != "sql: no rows in result set" {
		log.WithError(err).Error("Failed to decide suggestion")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to decide suggestion")
	}

	// Zero rows: either the suggestion does not exist or it was already
	// decided. Re-read to tell the caller which.
	existing, getErr := r.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}

	conflict := httperror.ToHTTPError(httperror.NewHTTPErrorf(http.StatusConflict, "suggestion %s was already %s", id, existing.Status))
	conflict.Meta = map[string]any{
		"status":     existing.Status,
		"decided_by": existing.DecidedBy,
		"decided_at": existing.DecidedAt,
	}
	return nil, conflict
}

// CountByStatus returns pending/approved/discarded counts
func (r *Repository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Repository.CountByStatus")
	defer span.End()

	rows, err := r.db.QueryxContext(ctx, "SELECT status, COUNT(*) FROM companion_suggestions GROUP BY status")
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count suggestions by status")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count suggestions")
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count suggestions")
		}
		counts[status] = count
	}

	return counts, nil
}

// RecordFeedback appends the final outcome of a decided suggestion
func (r *Repository) RecordFeedback(ctx context.Context, f *models.CompanionFeedback) error {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Repository.RecordFeedback")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("companion_feedback")
	sb.Cols("rule_id", "suggestion_id", "outcome", "suggested_qty", "final_qty", "target_category_id", "target_style_id", "decided_by", "created_at")
	sb.Values(f.RuleID, f.SuggestionID, f.Outcome, f.SuggestedQty, f.FinalQty, f.TargetCategoryID, f.TargetStyleID, f.DecidedBy, time.Now().UTC())

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to record companion feedback")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record companion feedback")
	}

	return nil
}
