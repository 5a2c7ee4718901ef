package cooccurrence

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// insertBatchSize keeps the multi-row insert under Postgres' 65535 bind
// parameter limit
const insertBatchSize = 500

// Repository handles co-occurrence pair persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new co-occurrence repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ReplaceAll swaps the published pair set in a single transaction. Readers
// see the old rows or the new rows, never a mix.
func (r *Repository) ReplaceAll(ctx context.Context, pairs []models.CoOccurrencePair) error {
	ctx, span := tracing.StartSpan(ctx, "cooccurrence.Repository.ReplaceAll")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method": "ReplaceAll",
		"pairs":  len(pairs),
	})

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.ExecContext(ctx, "DELETE FROM co_occurrence_pairs"); err != nil {
		log.WithError(err).Error("Failed to clear co-occurrence pairs")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to replace co-occurrence pairs")
	}

	for start := 0; start < len(pairs); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(pairs) {
			end = len(pairs)
		}

		sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
		sb.InsertInto("co_occurrence_pairs")
		sb.Cols("category_a_id", "category_b_id", "co_occurrence_count", "transactions_a", "transactions_b", "confidence", "window_start", "window_end", "last_computed_at")
		for _, p := range pairs[start:end] {
			sb.Values(p.CategoryAID, p.CategoryBID, p.CoOccurrenceCount, p.TransactionsA, p.TransactionsB, p.Confidence, p.WindowStart, p.WindowEnd, p.LastComputedAt)
		}

		query, args := sb.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			log.WithError(err).Error("Failed to insert co-occurrence pairs")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to replace co-occurrence pairs")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		log.WithError(err).Error("Failed to commit transaction")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to replace co-occurrence pairs")
	}

	log.Info("Replaced co-occurrence pairs")
	return nil
}

// TopPairs returns the highest-count pairs, optionally restricted to pairs
// involving one category
func (r *Repository) TopPairs(ctx context.Context, limit int, categoryID *int64) ([]models.CoOccurrencePair, error) {
	ctx, span := tracing.StartSpan(ctx, "cooccurrence.Repository.TopPairs")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 20
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "category_a_id", "category_b_id", "co_occurrence_count", "transactions_a", "transactions_b", "confidence", "window_start", "window_end", "last_computed_at")
	sb.From("co_occurrence_pairs")
	if categoryID != nil {
		sb.Where(sb.Or(
			sb.Equal("category_a_id", *categoryID),
			sb.Equal("category_b_id", *categoryID),
		))
	}
	sb.OrderBy("co_occurrence_count DESC", "confidence DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	var pairs []models.CoOccurrencePair
	if err := r.db.SelectContext(ctx, &pairs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list co-occurrence pairs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list co-occurrence pairs")
	}

	return pairs, nil
}

// Count returns the number of published pairs
func (r *Repository) Count(ctx context.Context) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "cooccurrence.Repository.Count")
	defer span.End()

	var count int64
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM co_occurrence_pairs"); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count co-occurrence pairs")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count co-occurrence pairs")
	}

	return count, nil
}

// LastComputedAt returns the most recent refresh timestamp, or nil when no
// pairs have been published
func (r *Repository) LastComputedAt(ctx context.Context) (*time.Time, error) {
	ctx, span := tracing.StartSpan(ctx, "cooccurrence.Repository.LastComputedAt")
	defer span.End()

	var last *time.Time
	if err := r.db.GetContext(ctx, &last, "SELECT MAX(last_computed_at) FROM co_occurrence_pairs"); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to read last computed timestamp")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read co-occurrence state")
	}

	return last, nil
}
