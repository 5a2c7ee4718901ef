// Package catalog implements the read-only catalog lookup over the shared
// part_categories and part_styles tables.
package catalog

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	pkgcatalog "github.com/Ramsey-B/clover/pkg/catalog"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Repository resolves catalog references. Never writes.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new catalog lookup repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ResolveCategory resolves a category id, returning 404 when unknown
func (r *Repository) ResolveCategory(ctx context.Context, id int64) (*pkgcatalog.Category, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Repository.ResolveCategory")
	defer span.End()

	var category pkgcatalog.Category
	if err := r.db.GetContext(ctx, &category, "SELECT id, name FROM part_categories WHERE id = $1", id); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("category %d not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to resolve category")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve category")
	}

	return &category, nil
}

// ResolveStyle resolves a style id, returning 404 when unknown
func (r *Repository) ResolveStyle(ctx context.Context, id int64) (*pkgcatalog.Style, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Repository.ResolveStyle")
	defer span.End()

	var style pkgcatalog.Style
	if err := r.db.GetContext(ctx, &style, "SELECT id, category_id, name FROM part_styles WHERE id = $1", id); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("style %d not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to resolve style")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve style")
	}

	return &style, nil
}

// Names loads display names for the given ids in two queries. Unknown ids
// are simply absent from the snapshot.
func (r *Repository) Names(ctx context.Context, categoryIDs []int64, styleIDs []int64) (pkgcatalog.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Repository.Names")
	defer span.End()

	snap := pkgcatalog.Snapshot{
		Categories: map[int64]string{},
		Styles:     map[int64]string{},
	}

	if err := r.loadNames(ctx, "part_categories", categoryIDs, snap.Categories); err != nil {
		return snap, err
	}
	if err := r.loadNames(ctx, "part_styles", styleIDs, snap.Styles); err != nil {
		return snap, err
	}

	return snap, nil
}

func (r *Repository) loadNames(ctx context.Context, table string, ids []int64, into map[int64]string) error {
	if len(ids) == 0 {
		return nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "name")
	sb.From(table)
	sb.Where(sb.In("id", args...))

	query, queryArgs := sb.Build()
	rows, err := r.db.QueryxContext(ctx, query, queryArgs...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load catalog names")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to load catalog names")
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to load catalog names")
		}
		into[id] = name
	}

	return nil
}
