package ledger

import (
	"context"
	"iter"

	"github.com/shopspring/decimal"

	"github.com/garagesale/treasury/internal/model"
)

// BankOnly yields the account's bank lines in tx_number order, limited to
// the period when one is given. Each iteration reads the ledger afresh.
func (l *Ledger) BankOnly(ctx context.Context, acct model.Account, period *model.Period) iter.Seq2[model.BankLine, error] {
	return func(yield func(model.BankLine, error) bool) {
		lines, _, err := l.load(ctx, acct, period)
		if err != nil {
			yield(model.BankLine{}, err)
			return
		}
		for _, line := range lines {
			if !yield(line, nil) {
				return
			}
		}
	}
}

// Combined yields bank lines in tx_number order, each followed by its split
// children largest first.
func (l *Ledger) Combined(ctx context.Context, acct model.Account, period *model.Period) iter.Seq2[model.Entry, error] {
	return func(yield func(model.Entry, error) bool) {
		lines, children, err := l.load(ctx, acct, period)
		if err != nil {
			yield(model.Entry{}, err)
			return
		}
		for i := range lines {
			if !yield(model.Entry{Line: &lines[i]}, nil) {
				return
			}
			for j := range children[lines[i].ID] {
				if !yield(model.Entry{Split: &children[lines[i].ID][j]}, nil) {
					return
				}
			}
		}
	}
}

// Lines collects BankOnly into a slice.
func (l *Ledger) Lines(ctx context.Context, acct model.Account, period *model.Period) ([]model.BankLine, error) {
	lines, _, err := l.load(ctx, acct, period)
	return lines, err
}

// Splits returns the split children of bank lines in the period, grouped by
// parent in tx_number order.
func (l *Ledger) Splits(ctx context.Context, acct model.Account, period *model.Period) ([]model.Transaction, error) {
	return l.q.Splits(ctx, acct.ID, period)
}

func (l *Ledger) load(ctx context.Context, acct model.Account, period *model.Period) ([]model.BankLine, map[int64][]model.Transaction, error) {
	txs, err := l.q.BankLines(ctx, acct.ID, period)
	if err != nil {
		return nil, nil, err
	}
	splits, err := l.q.Splits(ctx, acct.ID, period)
	if err != nil {
		return nil, nil, err
	}
	children := make(map[int64][]model.Transaction)
	for _, s := range splits {
		children[s.ParentID] = append(children[s.ParentID], s)
	}

	bal := acct.StartingBalance
	if len(txs) > 0 && txs[0].TxNumber > 1 {
		if bal, err = l.openingBalance(ctx, acct, txs[0].TxNumber); err != nil {
			return nil, nil, err
		}
	}

	lines := make([]model.BankLine, 0, len(txs))
	for _, t := range txs {
		line := model.BankLine{Transaction: t, BalanceBefore: bal}
		bal = bal.Add(t.Net())
		line.Balance = bal

		allocCredit, allocDebit := decimal.Zero, decimal.Zero
		for _, c := range children[t.ID] {
			allocCredit = allocCredit.Add(c.Credit)
			allocDebit = allocDebit.Add(c.Debit)
		}
		line.RemainingCredit = t.Credit.Sub(allocCredit)
		line.RemainingDebit = t.Debit.Sub(allocDebit)
		line.HasSplits = len(children[t.ID]) > 0
		line.Splittable = l.cats != nil && l.cats.HasChildren(t.Category)
		lines = append(lines, line)
	}
	return lines, children, nil
}
