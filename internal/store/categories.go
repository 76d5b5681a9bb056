package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garagesale/treasury/internal/model"
)

const categorySelect = `
	SELECT c.id, c.name, c.kind, COALESCE(p.name, '')
	FROM categories c LEFT JOIN categories p ON p.id = c.parent_id`

// CreateCategory inserts a category. The parent, when named, must exist.
func (q *Queries) CreateCategory(ctx context.Context, c *model.Category) error {
	var parentID sql.NullInt64
	if c.Parent != "" {
		parent, err := q.GetCategory(ctx, c.Parent)
		if err != nil {
			return fmt.Errorf("parent category: %w", err)
		}
		parentID = sql.NullInt64{Int64: parent.ID, Valid: true}
	}
	res, err := q.q.ExecContext(ctx, `INSERT INTO categories (name, kind, parent_id) VALUES (?, ?, ?)`,
		c.Name, string(c.Kind), parentID)
	if err != nil {
		return fmt.Errorf("insert category %q: %w", c.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("category id: %w", err)
	}
	c.ID = id
	return nil
}

// GetCategory returns a category by name.
func (q *Queries) GetCategory(ctx context.Context, name string) (model.Category, error) {
	row := q.q.QueryRowContext(ctx, categorySelect+` WHERE c.name = ?`, name)
	c, err := scanCategory(row)
	if err != nil {
		return model.Category{}, notFound(err, fmt.Sprintf("category %q", name))
	}
	return c, nil
}

// ListCategories returns every category ordered by name.
func (q *Queries) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := q.q.QueryContext(ctx, categorySelect+` ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []model.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCategory(s scanner) (model.Category, error) {
	var c model.Category
	var kind string
	if err := s.Scan(&c.ID, &c.Name, &kind, &c.Parent); err != nil {
		return model.Category{}, err
	}
	c.Kind = model.Kind(kind)
	return c, nil
}
