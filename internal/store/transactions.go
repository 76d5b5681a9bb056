package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garagesale/treasury/internal/model"
)

const txColumns = `id, account_id, COALESCE(upload_history_id, 0), COALESCE(parent_id, 0), COALESCE(tx_number, 0),
	transaction_date, description, name, category, debit, credit, statement_balance`

// InsertTransaction inserts a bank line or split child and sets its ID.
// Split children are stored without a tx_number or upload history.
func (q *Queries) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	var txNumber, uploadID, parentID sql.NullInt64
	if t.IsSplit() {
		parentID = sql.NullInt64{Int64: t.ParentID, Valid: true}
	} else {
		txNumber = sql.NullInt64{Int64: int64(t.TxNumber), Valid: true}
		uploadID = sql.NullInt64{Int64: t.UploadHistoryID, Valid: t.UploadHistoryID != 0}
	}
	var balance sql.NullString
	if t.StatementBalance.Valid {
		balance = sql.NullString{String: formatAmount(t.StatementBalance.Decimal), Valid: true}
	}

	res, err := q.q.ExecContext(ctx, `
		INSERT INTO transactions (account_id, upload_history_id, parent_id, tx_number,
			transaction_date, description, name, category, debit, credit, statement_balance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.AccountID, uploadID, parentID, txNumber,
		formatDate(t.Date), t.Description, t.Name, t.Category,
		formatAmount(t.Debit), formatAmount(t.Credit), balance)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("transaction id: %w", err)
	}
	t.ID = id
	return nil
}

// GetTransaction returns a transaction by ID.
func (q *Queries) GetTransaction(ctx context.Context, id int64) (model.Transaction, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		return model.Transaction{}, notFound(err, fmt.Sprintf("transaction %d", id))
	}
	return t, nil
}

// UpdateClassification sets the operator-editable name and category.
func (q *Queries) UpdateClassification(ctx context.Context, id int64, name, category string) error {
	res, err := q.q.ExecContext(ctx, `UPDATE transactions SET name = ?, category = ? WHERE id = ?`, name, category, id)
	if err != nil {
		return fmt.Errorf("update transaction %d: %w", id, err)
	}
	return affected(res, fmt.Sprintf("transaction %d", id))
}

// UpdateSplit rewrites a split child's category and amounts.
func (q *Queries) UpdateSplit(ctx context.Context, id int64, category string, debit, credit decimal.Decimal) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE transactions SET category = ?, debit = ?, credit = ?
		WHERE id = ? AND parent_id IS NOT NULL`,
		category, formatAmount(debit), formatAmount(credit), id)
	if err != nil {
		return fmt.Errorf("update split %d: %w", id, err)
	}
	return affected(res, fmt.Sprintf("split %d", id))
}

// DeleteTransaction removes a transaction. Children and journal entries cascade.
func (q *Queries) DeleteTransaction(ctx context.Context, id int64) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction %d: %w", id, err)
	}
	return affected(res, fmt.Sprintf("transaction %d", id))
}

// CountBankLines returns the number of bank lines in an account.
func (q *Queries) CountBankLines(ctx context.Context, accountID int64) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE account_id = ? AND parent_id IS NULL`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count bank lines: %w", err)
	}
	return n, nil
}

// MinTxNumberAfter returns the lowest tx_number among bank lines dated after d.
// ok is false when no bank line is later than d.
func (q *Queries) MinTxNumberAfter(ctx context.Context, accountID int64, d time.Time) (slot int, ok bool, err error) {
	var n sql.NullInt64
	err = q.q.QueryRowContext(ctx, `
		SELECT MIN(tx_number) FROM transactions
		WHERE account_id = ? AND parent_id IS NULL AND transaction_date > ?`,
		accountID, formatDate(d)).Scan(&n)
	if err != nil {
		return 0, false, fmt.Errorf("find insert slot: %w", err)
	}
	return int(n.Int64), n.Valid, nil
}

// ShiftTxNumbersFrom moves every bank line numbered slot or higher up by one.
func (q *Queries) ShiftTxNumbersFrom(ctx context.Context, accountID int64, slot int) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE transactions SET tx_number = tx_number + 1
		WHERE account_id = ? AND parent_id IS NULL AND tx_number >= ?`,
		accountID, slot)
	if err != nil {
		return 0, fmt.Errorf("shift tx numbers from %d: %w", slot, err)
	}
	return res.RowsAffected()
}

// FindBankLine looks up a bank line by its identity tuple.
func (q *Queries) FindBankLine(ctx context.Context, accountID int64, d time.Time, description string, debit, credit decimal.Decimal) (model.Transaction, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions
		WHERE account_id = ? AND parent_id IS NULL AND transaction_date = ?
		AND description = ? AND debit = ? AND credit = ?`,
		accountID, formatDate(d), description, formatAmount(debit), formatAmount(credit))
	t, err := scanTransaction(row)
	if err != nil {
		return model.Transaction{}, notFound(err, "bank line")
	}
	return t, nil
}

// BankLines returns an account's bank lines in tx_number order, limited to
// the period when one is given.
func (q *Queries) BankLines(ctx context.Context, accountID int64, period *model.Period) ([]model.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE account_id = ? AND parent_id IS NULL`
	args := []any{accountID}
	if period != nil {
		query += ` AND transaction_date BETWEEN ? AND ?`
		args = append(args, formatDate(period.Start), formatDate(period.End))
	}
	query += ` ORDER BY tx_number`
	return q.queryTransactions(ctx, query, args...)
}

// BankLinesBefore returns bank lines numbered below txNumber, in order.
func (q *Queries) BankLinesBefore(ctx context.Context, accountID int64, txNumber int) ([]model.Transaction, error) {
	return q.queryTransactions(ctx, `SELECT `+txColumns+` FROM transactions
		WHERE account_id = ? AND parent_id IS NULL AND tx_number < ? ORDER BY tx_number`,
		accountID, txNumber)
}

// LastBankLineBefore returns the latest bank line dated strictly before d.
func (q *Queries) LastBankLineBefore(ctx context.Context, accountID int64, d time.Time) (model.Transaction, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions
		WHERE account_id = ? AND parent_id IS NULL AND transaction_date < ?
		ORDER BY tx_number DESC LIMIT 1`,
		accountID, formatDate(d))
	t, err := scanTransaction(row)
	if err != nil {
		return model.Transaction{}, notFound(err, "bank line before "+formatDate(d))
	}
	return t, nil
}

// CountBankLinesInRange counts bank lines dated inside the closed range.
func (q *Queries) CountBankLinesInRange(ctx context.Context, accountID int64, start, end time.Time) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE account_id = ? AND parent_id IS NULL AND transaction_date BETWEEN ? AND ?`,
		accountID, formatDate(start), formatDate(end)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count bank lines in range: %w", err)
	}
	return n, nil
}

// DateBounds returns the earliest and latest bank-line dates of an account.
// ok is false for an empty account.
func (q *Queries) DateBounds(ctx context.Context, accountID int64) (first, last time.Time, ok bool, err error) {
	var lo, hi sql.NullString
	err = q.q.QueryRowContext(ctx, `
		SELECT MIN(transaction_date), MAX(transaction_date) FROM transactions
		WHERE account_id = ? AND parent_id IS NULL`, accountID).Scan(&lo, &hi)
	if err != nil {
		return first, last, false, fmt.Errorf("date bounds: %w", err)
	}
	if !lo.Valid {
		return first, last, false, nil
	}
	if first, err = parseDate(lo.String); err != nil {
		return first, last, false, err
	}
	if last, err = parseDate(hi.String); err != nil {
		return first, last, false, err
	}
	return first, last, true, nil
}

// SplitsOf returns the children of a bank line, largest amount first.
func (q *Queries) SplitsOf(ctx context.Context, parentID int64) ([]model.Transaction, error) {
	splits, err := q.queryTransactions(ctx, `SELECT `+txColumns+` FROM transactions
		WHERE parent_id = ? ORDER BY id`, parentID)
	if err != nil {
		return nil, err
	}
	model.SortSplits(splits)
	return splits, nil
}

// Splits returns every split child of an account whose parent falls in the
// period (all of them when period is nil), grouped by parent in tx_number
// order with each group sorted largest amount first.
func (q *Queries) Splits(ctx context.Context, accountID int64, period *model.Period) ([]model.Transaction, error) {
	query := `SELECT c.id, c.account_id, 0, COALESCE(c.parent_id, 0), 0,
		c.transaction_date, c.description, c.name, c.category, c.debit, c.credit, c.statement_balance
		FROM transactions c JOIN transactions p ON p.id = c.parent_id
		WHERE p.account_id = ?`
	args := []any{accountID}
	if period != nil {
		query += ` AND p.transaction_date BETWEEN ? AND ?`
		args = append(args, formatDate(period.Start), formatDate(period.End))
	}
	query += ` ORDER BY p.tx_number, c.id`

	splits, err := q.queryTransactions(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	start := 0
	for i := 1; i <= len(splits); i++ {
		if i == len(splits) || splits[i].ParentID != splits[start].ParentID {
			model.SortSplits(splits[start:i])
			start = i
		}
	}
	return splits, nil
}

func (q *Queries) queryTransactions(ctx context.Context, query string, args ...any) ([]model.Transaction, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// txRow receives the txColumns of one row.
type txRow struct {
	t                   model.Transaction
	date, debit, credit string
	balance             sql.NullString
}

func (r *txRow) dest() []any {
	return []any{&r.t.ID, &r.t.AccountID, &r.t.UploadHistoryID, &r.t.ParentID, &r.t.TxNumber,
		&r.date, &r.t.Description, &r.t.Name, &r.t.Category, &r.debit, &r.credit, &r.balance}
}

func (r *txRow) transaction() (model.Transaction, error) {
	t := r.t
	var err error
	if t.Date, err = parseDate(r.date); err != nil {
		return model.Transaction{}, err
	}
	if t.Debit, err = parseAmount(r.debit); err != nil {
		return model.Transaction{}, err
	}
	if t.Credit, err = parseAmount(r.credit); err != nil {
		return model.Transaction{}, err
	}
	if r.balance.Valid {
		d, err := parseAmount(r.balance.String)
		if err != nil {
			return model.Transaction{}, err
		}
		t.StatementBalance = decimal.NewNullDecimal(d)
	}
	return t, nil
}

func scanTransaction(s scanner) (model.Transaction, error) {
	var r txRow
	if err := s.Scan(r.dest()...); err != nil {
		return model.Transaction{}, err
	}
	return r.transaction()
}

func affected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
