package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/garagesale/treasury/internal/model"
)

const accountColumns = `id, bank_name, sort_code, account_number, starting_balance, last_transaction_number`

// CreateAccount inserts a new account and sets its ID.
func (q *Queries) CreateAccount(ctx context.Context, a *model.Account) error {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO accounts (bank_name, sort_code, account_number, starting_balance)
		VALUES (?, ?, ?, ?)`,
		a.BankName, a.SortCode, a.AccountNumber, formatAmount(a.StartingBalance))
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("account id: %w", err)
	}
	a.ID = id
	a.LastTransactionNumber = 0
	return nil
}

// GetAccount returns an account by ID.
func (q *Queries) GetAccount(ctx context.Context, id int64) (model.Account, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		return model.Account{}, notFound(err, fmt.Sprintf("account %d", id))
	}
	return a, nil
}

// ListAccounts returns all accounts ordered by bank name.
func (q *Queries) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY bank_name, id`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetStartingBalance changes the opening balance. It is refused once the
// account has transactions.
func (q *Queries) SetStartingBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	n, err := q.CountBankLines(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("account %d has %d transactions: %w", id, n, ErrBalanceFixed)
	}
	res, err := q.q.ExecContext(ctx, `UPDATE accounts SET starting_balance = ? WHERE id = ?`, formatAmount(balance), id)
	if err != nil {
		return fmt.Errorf("update starting balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetLastTransactionNumber stores the denormalised bank-line counter.
func (q *Queries) SetLastTransactionNumber(ctx context.Context, id int64, n int) error {
	if _, err := q.q.ExecContext(ctx, `UPDATE accounts SET last_transaction_number = ? WHERE id = ?`, n, id); err != nil {
		return fmt.Errorf("update last transaction number: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (model.Account, error) {
	var a model.Account
	var balance string
	if err := s.Scan(&a.ID, &a.BankName, &a.SortCode, &a.AccountNumber, &balance, &a.LastTransactionNumber); err != nil {
		return model.Account{}, err
	}
	d, err := parseAmount(balance)
	if err != nil {
		return model.Account{}, err
	}
	a.StartingBalance = d
	return a, nil
}
