package store

import (
	"context"
	"fmt"

	"github.com/garagesale/treasury/internal/model"
)

// CreateUploadHistory inserts an upload history and sets its ID.
func (q *Queries) CreateUploadHistory(ctx context.Context, h *model.UploadHistory) error {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO upload_histories (account_id, start_date, end_date, uploaded_by, uploaded_at)
		VALUES (?, ?, ?, ?, ?)`,
		h.AccountID, formatDate(h.StartDate), formatDate(h.EndDate), h.UploadedBy, formatTime(h.UploadedAt))
	if err != nil {
		return fmt.Errorf("insert upload history: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("upload history id: %w", err)
	}
	h.ID = id
	return nil
}

const historySelect = `
	SELECT h.id AS id, h.account_id AS account_id, h.start_date AS start_date, h.end_date AS end_date,
		h.uploaded_by AS uploaded_by, h.uploaded_at AS uploaded_at,
		(SELECT COUNT(*) FROM upload_errors e WHERE e.upload_history_id = h.id) AS error_count
	FROM upload_histories h`

// GetUploadHistory returns an upload history with its current error count.
func (q *Queries) GetUploadHistory(ctx context.Context, id int64) (model.UploadHistory, error) {
	row := q.q.QueryRowContext(ctx, historySelect+` WHERE h.id = ?`, id)
	h, err := scanHistory(row)
	if err != nil {
		return model.UploadHistory{}, notFound(err, fmt.Sprintf("upload %d", id))
	}
	return h, nil
}

// ListUploadHistories returns an account's uploads ordered by start date.
// With onlyErrors set, uploads without errors are omitted and the rest are
// ordered most errors first.
func (q *Queries) ListUploadHistories(ctx context.Context, accountID int64, onlyErrors bool) ([]model.UploadHistory, error) {
	query := `SELECT * FROM (` + historySelect + ` WHERE h.account_id = ?)`
	if onlyErrors {
		query += ` WHERE error_count > 0 ORDER BY error_count DESC, start_date, id`
	} else {
		query += ` ORDER BY start_date, id`
	}
	rows, err := q.q.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("query upload histories: %w", err)
	}
	defer rows.Close()

	var out []model.UploadHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// CountUploadHistories returns how many uploads an account has.
func (q *Queries) CountUploadHistories(ctx context.Context, accountID int64) (int, error) {
	var n int
	if err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM upload_histories WHERE account_id = ?`, accountID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count upload histories: %w", err)
	}
	return n, nil
}

// CreateUploadError journals a problem against a transaction.
func (q *Queries) CreateUploadError(ctx context.Context, e *model.UploadError) error {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO upload_errors (upload_history_id, transaction_id, message) VALUES (?, ?, ?)`,
		e.UploadHistoryID, e.TransactionID, e.Message)
	if err != nil {
		return fmt.Errorf("insert upload error: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("upload error id: %w", err)
	}
	e.ID = id
	return nil
}

// UpdateUploadErrorMessage rewrites a journal entry's message.
func (q *Queries) UpdateUploadErrorMessage(ctx context.Context, id int64, message string) error {
	res, err := q.q.ExecContext(ctx, `UPDATE upload_errors SET message = ? WHERE id = ?`, message, id)
	if err != nil {
		return fmt.Errorf("update upload error %d: %w", id, err)
	}
	return affected(res, fmt.Sprintf("upload error %d", id))
}

// DeleteUploadErrors removes every journal entry for a transaction and
// returns how many were removed.
func (q *Queries) DeleteUploadErrors(ctx context.Context, transactionID int64) (int64, error) {
	res, err := q.q.ExecContext(ctx, `DELETE FROM upload_errors WHERE transaction_id = ?`, transactionID)
	if err != nil {
		return 0, fmt.Errorf("delete upload errors for %d: %w", transactionID, err)
	}
	return res.RowsAffected()
}

// ErrorFilter narrows an error listing. Zero fields match everything.
type ErrorFilter struct {
	AccountID       int64
	UploadHistoryID int64
	TransactionID   int64
}

// UploadErrors returns journal entries with their transactions, ordered by
// transaction date then tx_number.
func (q *Queries) UploadErrors(ctx context.Context, f ErrorFilter) ([]model.UploadError, error) {
	query := `SELECT e.id, e.upload_history_id, e.transaction_id, e.message,
		t.id, t.account_id, COALESCE(t.upload_history_id, 0), COALESCE(t.parent_id, 0), COALESCE(t.tx_number, 0),
		t.transaction_date, t.description, t.name, t.category, t.debit, t.credit, t.statement_balance
		FROM upload_errors e JOIN transactions t ON t.id = e.transaction_id
		WHERE 1 = 1`
	var args []any
	if f.AccountID != 0 {
		query += ` AND t.account_id = ?`
		args = append(args, f.AccountID)
	}
	if f.UploadHistoryID != 0 {
		query += ` AND e.upload_history_id = ?`
		args = append(args, f.UploadHistoryID)
	}
	if f.TransactionID != 0 {
		query += ` AND e.transaction_id = ?`
		args = append(args, f.TransactionID)
	}
	query += ` ORDER BY t.transaction_date, t.tx_number, e.id`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query upload errors: %w", err)
	}
	defer rows.Close()

	var out []model.UploadError
	for rows.Next() {
		var e model.UploadError
		var rest txRow
		if err := rows.Scan(append([]any{&e.ID, &e.UploadHistoryID, &e.TransactionID, &e.Message}, rest.dest()...)...); err != nil {
			return nil, fmt.Errorf("scan upload error: %w", err)
		}
		t, err := rest.transaction()
		if err != nil {
			return nil, err
		}
		e.Transaction = t
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanHistory(s scanner) (model.UploadHistory, error) {
	var h model.UploadHistory
	var start, end, at string
	if err := s.Scan(&h.ID, &h.AccountID, &start, &end, &h.UploadedBy, &at, &h.ErrorCount); err != nil {
		return model.UploadHistory{}, err
	}
	var err error
	if h.StartDate, err = parseDate(start); err != nil {
		return model.UploadHistory{}, err
	}
	if h.EndDate, err = parseDate(end); err != nil {
		return model.UploadHistory{}, err
	}
	if h.UploadedAt, err = parseTime(at); err != nil {
		return model.UploadHistory{}, err
	}
	return h, nil
}
