package store

import (
	"context"
	"fmt"
	"time"

	"github.com/garagesale/treasury/internal/model"
)

const fySelect = `SELECT id, label, year_start, year_end, active FROM financial_years`

// CreateFinancialYear inserts a financial year and sets its ID.
func (q *Queries) CreateFinancialYear(ctx context.Context, fy *model.FinancialYear) error {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO financial_years (label, year_start, year_end, active) VALUES (?, ?, ?, ?)`,
		fy.Label, formatDate(fy.Start), formatDate(fy.End), fy.Active)
	if err != nil {
		return fmt.Errorf("insert financial year %q: %w", fy.Label, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("financial year id: %w", err)
	}
	fy.ID = id
	return nil
}

// UpdateFinancialYear rewrites a year's label and range.
func (q *Queries) UpdateFinancialYear(ctx context.Context, fy model.FinancialYear) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE financial_years SET label = ?, year_start = ?, year_end = ? WHERE id = ?`,
		fy.Label, formatDate(fy.Start), formatDate(fy.End), fy.ID)
	if err != nil {
		return fmt.Errorf("update financial year %d: %w", fy.ID, err)
	}
	return affected(res, fmt.Sprintf("financial year %d", fy.ID))
}

// SetActiveFinancialYear marks one year active and every other inactive.
func (q *Queries) SetActiveFinancialYear(ctx context.Context, id int64) error {
	if _, err := q.q.ExecContext(ctx, `UPDATE financial_years SET active = (id = ?)`, id); err != nil {
		return fmt.Errorf("activate financial year %d: %w", id, err)
	}
	return nil
}

// GetFinancialYear returns a year by label.
func (q *Queries) GetFinancialYear(ctx context.Context, label string) (model.FinancialYear, error) {
	fy, err := scanFinancialYear(q.q.QueryRowContext(ctx, fySelect+` WHERE label = ?`, label))
	if err != nil {
		return model.FinancialYear{}, notFound(err, fmt.Sprintf("financial year %q", label))
	}
	return fy, nil
}

// ActiveFinancialYear returns the year flagged active.
func (q *Queries) ActiveFinancialYear(ctx context.Context) (model.FinancialYear, error) {
	fy, err := scanFinancialYear(q.q.QueryRowContext(ctx, fySelect+` WHERE active = 1 ORDER BY year_start LIMIT 1`))
	if err != nil {
		return model.FinancialYear{}, notFound(err, "active financial year")
	}
	return fy, nil
}

// ListFinancialYears returns every year ordered by start date.
func (q *Queries) ListFinancialYears(ctx context.Context) ([]model.FinancialYear, error) {
	return q.queryFinancialYears(ctx, fySelect+` ORDER BY year_start`)
}

// OverlappingFinancialYears returns years sharing a day with [start, end],
// ignoring the year with ID exclude.
func (q *Queries) OverlappingFinancialYears(ctx context.Context, start, end time.Time, exclude int64) ([]model.FinancialYear, error) {
	return q.queryFinancialYears(ctx, fySelect+`
		WHERE year_start <= ? AND year_end >= ? AND id != ? ORDER BY year_start`,
		formatDate(end), formatDate(start), exclude)
}

func (q *Queries) queryFinancialYears(ctx context.Context, query string, args ...any) ([]model.FinancialYear, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query financial years: %w", err)
	}
	defer rows.Close()

	var out []model.FinancialYear
	for rows.Next() {
		fy, err := scanFinancialYear(rows)
		if err != nil {
			return nil, fmt.Errorf("scan financial year: %w", err)
		}
		out = append(out, fy)
	}
	return out, rows.Err()
}

func scanFinancialYear(s scanner) (model.FinancialYear, error) {
	var fy model.FinancialYear
	var start, end string
	if err := s.Scan(&fy.ID, &fy.Label, &start, &end, &fy.Active); err != nil {
		return model.FinancialYear{}, err
	}
	var err error
	if fy.Start, err = parseDate(start); err != nil {
		return model.FinancialYear{}, err
	}
	if fy.End, err = parseDate(end); err != nil {
		return model.FinancialYear{}, err
	}
	return fy, nil
}
