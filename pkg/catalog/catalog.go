// Package catalog exposes the read-only part catalog lookup consumed by the
// companion engine. The catalog itself is owned by another service.
package catalog

import (
	"context"
	"fmt"
)

// Category is a part category reference
type Category struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// Style is a part style reference
type Style struct {
	ID         int64  `json:"id" db:"id"`
	CategoryID int64  `json:"category_id" db:"category_id"`
	Name       string `json:"name" db:"name"`
}

// Lookup resolves catalog identifiers. Resolve methods return a NotFound
// error for unknown ids.
type Lookup interface {
	ResolveCategory(ctx context.Context, id int64) (*Category, error)
	ResolveStyle(ctx context.Context, id int64) (*Style, error)
	Names(ctx context.Context, categoryIDs []int64, styleIDs []int64) (Snapshot, error)
}

// Snapshot is a point-in-time name lookup used to render suggestion reason
// text without further catalog round trips
type Snapshot struct {
	Categories map[int64]string
	Styles     map[int64]string
}

func (s Snapshot) CategoryName(id int64) string {
	if name, ok := s.Categories[id]; ok {
		return name
	}
	return fmt.Sprintf("category %d", id)
}

func (s Snapshot) StyleName(id int64) string {
	if name, ok := s.Styles[id]; ok {
		return name
	}
	return fmt.Sprintf("style %d", id)
}
