package store

import (
	"context"
	"fmt"
	"time"

	"github.com/garagesale/treasury/internal/model"
)

const reportSelect = `SELECT id, shape, account_id, period_start, period_end, file_id, path, file_name,
	uploaded_by, uploaded_at FROM published_reports`

// CreatePublishedReport records an archived report. A second record for the
// same shape, account and period fails with a unique violation.
func (q *Queries) CreatePublishedReport(ctx context.Context, r *model.PublishedReport) error {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO published_reports (shape, account_id, period_start, period_end, file_id, path,
			file_name, uploaded_by, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.Shape), r.AccountID, formatDate(r.PeriodStart), formatDate(r.PeriodEnd),
		r.FileID, r.Path, r.FileName, r.UploadedBy, formatTime(r.UploadedAt))
	if err != nil {
		return fmt.Errorf("insert published report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("published report id: %w", err)
	}
	r.ID = id
	return nil
}

// SetPublishedFileID records the file store id of an archived report.
func (q *Queries) SetPublishedFileID(ctx context.Context, id int64, fileID string) error {
	res, err := q.q.ExecContext(ctx, `UPDATE published_reports SET file_id = ? WHERE id = ?`, fileID, id)
	if err != nil {
		return fmt.Errorf("update published report %d: %w", id, err)
	}
	return affected(res, fmt.Sprintf("published report %d", id))
}

// GetPublishedReport looks up the archive record for a report.
func (q *Queries) GetPublishedReport(ctx context.Context, shape model.ReportShape, accountID int64, start, end time.Time) (model.PublishedReport, error) {
	row := q.q.QueryRowContext(ctx, reportSelect+`
		WHERE shape = ? AND account_id = ? AND period_start = ? AND period_end = ?`,
		string(shape), accountID, formatDate(start), formatDate(end))
	r, err := scanReport(row)
	if err != nil {
		return model.PublishedReport{}, notFound(err, "published report")
	}
	return r, nil
}

// LatestPublishedReport returns the archived report with the latest period end.
func (q *Queries) LatestPublishedReport(ctx context.Context, accountID int64) (model.PublishedReport, error) {
	row := q.q.QueryRowContext(ctx, reportSelect+`
		WHERE account_id = ? ORDER BY period_end DESC, uploaded_at DESC LIMIT 1`, accountID)
	r, err := scanReport(row)
	if err != nil {
		return model.PublishedReport{}, notFound(err, "published report")
	}
	return r, nil
}

// ListPublishedReports returns an account's archive, newest first.
func (q *Queries) ListPublishedReports(ctx context.Context, accountID int64) ([]model.PublishedReport, error) {
	rows, err := q.q.QueryContext(ctx, reportSelect+` WHERE account_id = ? ORDER BY uploaded_at DESC, id DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query published reports: %w", err)
	}
	defer rows.Close()

	var out []model.PublishedReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan published report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReport(s scanner) (model.PublishedReport, error) {
	var r model.PublishedReport
	var shape, start, end, at string
	if err := s.Scan(&r.ID, &shape, &r.AccountID, &start, &end, &r.FileID, &r.Path, &r.FileName,
		&r.UploadedBy, &at); err != nil {
		return model.PublishedReport{}, err
	}
	r.Shape = model.ReportShape(shape)
	var err error
	if r.PeriodStart, err = parseDate(start); err != nil {
		return model.PublishedReport{}, err
	}
	if r.PeriodEnd, err = parseDate(end); err != nil {
		return model.PublishedReport{}, err
	}
	if r.UploadedAt, err = parseTime(at); err != nil {
		return model.PublishedReport{}, err
	}
	return r, nil
}
