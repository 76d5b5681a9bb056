// Package ledger maintains each account's gap-free, date-ordered sequence of
// bank lines together with their split children and derived balances.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garagesale/treasury/internal/categories"
	"github.com/garagesale/treasury/internal/model"
	"github.com/garagesale/treasury/internal/store"
)

// ErrNotFound is returned for unknown transactions.
var ErrNotFound = store.ErrNotFound

// DuplicateBankLineError rejects a bank line whose date, description and
// amounts already exist in the account.
type DuplicateBankLineError struct {
	TxNumber    int
	Date        string
	Description string
}

func (e *DuplicateBankLineError) Error() string {
	if e.TxNumber == 0 {
		return fmt.Sprintf("duplicate bank line %s %q", e.Date, e.Description)
	}
	return fmt.Sprintf("duplicate of transaction #%d (%s %q)", e.TxNumber, e.Date, e.Description)
}

// Ledger runs ledger operations through one set of queries, normally an
// open database transaction.
type Ledger struct {
	q    *store.Queries
	cats *categories.Service
}

// New creates a Ledger. cats may be nil for callers that neither split nor
// need the splittable flag.
func New(q *store.Queries, cats *categories.Service) *Ledger {
	return &Ledger{q: q, cats: cats}
}

// AppendBankLine stores a new bank line at its date-ordered slot. Later
// lines move up by one to make room; a line dated on or after every
// existing line is appended. Lines sharing a date keep insertion order.
func (l *Ledger) AppendBankLine(ctx context.Context, acct model.Account, line model.Transaction) (model.Transaction, error) {
	line.AccountID = acct.ID
	line.ParentID = 0

	existing, err := l.q.FindBankLine(ctx, acct.ID, line.Date, line.Description, line.Debit, line.Credit)
	switch {
	case err == nil:
		return model.Transaction{}, &DuplicateBankLineError{
			TxNumber:    existing.TxNumber,
			Date:        line.Date.Format(model.DateFormat),
			Description: line.Description,
		}
	case !errors.Is(err, store.ErrNotFound):
		return model.Transaction{}, err
	}

	slot, later, err := l.q.MinTxNumberAfter(ctx, acct.ID, line.Date)
	if err != nil {
		return model.Transaction{}, err
	}
	if later {
		if _, err := l.q.ShiftTxNumbersFrom(ctx, acct.ID, slot); err != nil {
			return model.Transaction{}, err
		}
	} else {
		n, err := l.q.CountBankLines(ctx, acct.ID)
		if err != nil {
			return model.Transaction{}, err
		}
		slot = n + 1
	}

	line.TxNumber = slot
	if line.Name == "" {
		line.Name = DerivedName(line.Description)
	}
	if err := l.q.InsertTransaction(ctx, &line); err != nil {
		if store.IsUniqueViolation(err) {
			return model.Transaction{}, &DuplicateBankLineError{
				Date:        line.Date.Format(model.DateFormat),
				Description: line.Description,
			}
		}
		return model.Transaction{}, err
	}
	return line, nil
}

// SyncLastTransactionNumber stores the account's bank-line count as its
// last transaction number and returns it.
func (l *Ledger) SyncLastTransactionNumber(ctx context.Context, acct model.Account) (int, error) {
	n, err := l.q.CountBankLines(ctx, acct.ID)
	if err != nil {
		return 0, err
	}
	if err := l.q.SetLastTransactionNumber(ctx, acct.ID, n); err != nil {
		return 0, err
	}
	return n, nil
}

// BalanceBefore returns the running balance immediately before a bank line,
// using its current position.
func (l *Ledger) BalanceBefore(ctx context.Context, acct model.Account, id int64) (decimal.Decimal, error) {
	t, err := l.q.GetTransaction(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	if t.IsSplit() {
		return decimal.Zero, fmt.Errorf("transaction %d is a split and has no balance", id)
	}
	if t.AccountID != acct.ID {
		return decimal.Zero, fmt.Errorf("transaction %d is not in account %d: %w", id, acct.ID, ErrNotFound)
	}
	return l.openingBalance(ctx, acct, t.TxNumber)
}

// openingBalance is the balance after every bank line numbered below n.
func (l *Ledger) openingBalance(ctx context.Context, acct model.Account, n int) (decimal.Decimal, error) {
	prior, err := l.q.BankLinesBefore(ctx, acct.ID, n)
	if err != nil {
		return decimal.Zero, err
	}
	bal := acct.StartingBalance
	for _, p := range prior {
		bal = bal.Add(p.Net())
	}
	return bal, nil
}

// BalanceBeforeDate returns the balance after the last bank line dated
// strictly before d. With no such line it returns the starting balance and
// found is false.
func (l *Ledger) BalanceBeforeDate(ctx context.Context, acct model.Account, d time.Time) (bal decimal.Decimal, found bool, err error) {
	last, err := l.q.LastBankLineBefore(ctx, acct.ID, d)
	if errors.Is(err, store.ErrNotFound) {
		return acct.StartingBalance, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	bal, err = l.openingBalance(ctx, acct, last.TxNumber)
	if err != nil {
		return decimal.Zero, false, err
	}
	return bal.Add(last.Net()), true, nil
}
