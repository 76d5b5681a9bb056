package model

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one row of the ledger table. It is either a bank line
// (ParentID == 0, one row of a bank statement) or a split child
// (ParentID != 0) re-categorising part of its parent.
type Transaction struct {
	ID          int64
	AccountID   int64
	Date        time.Time
	Description string
	Name        string // derived from Description, operator editable
	Category    string
	Debit       decimal.Decimal // zero if credit
	Credit      decimal.Decimal // zero if debit

	// Bank line only.
	TxNumber         int
	UploadHistoryID  int64
	StatementBalance decimal.NullDecimal // Balance column as uploaded

	// Split child only.
	ParentID int64
}

// IsSplit reports whether the transaction is a split child.
func (t Transaction) IsSplit() bool {
	return t.ParentID != 0
}

// Kind returns the side carrying the amount.
func (t Transaction) Kind() Kind {
	if t.Credit.IsPositive() {
		return KindCredit
	}
	return KindDebit
}

// Amount returns the non-zero amount.
func (t Transaction) Amount() decimal.Decimal {
	if t.Credit.IsPositive() {
		return t.Credit
	}
	return t.Debit
}

// Net is credit minus debit.
func (t Transaction) Net() decimal.Decimal {
	return t.Credit.Sub(t.Debit)
}

// OneSided reports whether exactly one of debit and credit is non-zero.
func (t Transaction) OneSided() bool {
	return t.Debit.IsZero() != t.Credit.IsZero()
}

// BankLine is a bank-line transaction with its derived running balances and
// the amounts not yet allocated to split children.
type BankLine struct {
	Transaction
	BalanceBefore   decimal.Decimal
	Balance         decimal.Decimal
	RemainingCredit decimal.Decimal
	RemainingDebit  decimal.Decimal
	Splittable      bool
	HasSplits       bool
}

// Entry is one element of the combined ledger view: either a bank line or a
// split child following its parent.
type Entry struct {
	Line  *BankLine    // set for bank lines
	Split *Transaction // set for split children
}

// Transaction returns the shared header of either variant.
func (e Entry) Transaction() Transaction {
	if e.Line != nil {
		return e.Line.Transaction
	}
	return *e.Split
}

// SortSplits orders split children largest amount first, then by ID.
func SortSplits(splits []Transaction) {
	slices.SortStableFunc(splits, func(a, b Transaction) int {
		if c := b.Amount().Cmp(a.Amount()); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
