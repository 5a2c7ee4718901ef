// Package movementlog reads the append-only stock movement log owned by the
// inventory system. Consumption events feed the co-occurrence analyzer.
package movementlog

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

// Repository reads consumption events. Never writes.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new movement log reader
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ListConsumptions returns up to limit consumption events with id > afterID,
// ordered by id, optionally bounded to a time window. The id ordering gives
// the analyzer a stable cursor over the append-only log.
func (r *Repository) ListConsumptions(ctx context.Context, afterID int64, limit int, windowStart, windowEnd *time.Time) ([]models.StockMovement, error) {
	ctx, span := tracing.StartSpan(ctx, "movementlog.Repository.ListConsumptions")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "category_id", "style_id", "qty", "movement_type", "transaction_key", "occurred_at")
	sb.From("stock_movements")
	where := []string{
		sb.GreaterThan("id", afterID),
		sb.Equal("movement_type", "consume"),
	}
	if windowStart != nil {
		where = append(where, sb.GreaterEqualThan("occurred_at", *windowStart))
	}
	if windowEnd != nil {
		where = append(where, sb.LessThan("occurred_at", *windowEnd))
	}
	sb.Where(where...)
	sb.OrderBy("id")
	sb.Limit(limit)

	query, args := sb.Build()
	var movements []models.StockMovement
	if err := r.db.SelectContext(ctx, &movements, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to read stock movements")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read stock movements")
	}

	return movements, nil
}
