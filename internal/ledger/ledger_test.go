package ledger

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garagesale/treasury/internal/auth"
	"github.com/garagesale/treasury/internal/categories"
	"github.com/garagesale/treasury/internal/importer"
	"github.com/garagesale/treasury/internal/model"
	"github.com/garagesale/treasury/internal/store"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(y int, m time.Month, d int) time.Time {
	return model.Date(y, m, d)
}

type fixture struct {
	db      *store.Store
	account model.Account
	ledger  *Ledger
}

func setup(t *testing.T, starting string) fixture {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, filepath.Join(t.TempDir(), "treasury.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, c := range categories.Defaults() {
		require.NoError(t, db.CreateCategory(ctx, &c))
	}
	a := model.Account{BankName: "Lloyds", SortCode: "30-00-00", AccountNumber: "12345678", StartingBalance: dec(starting)}
	require.NoError(t, db.CreateAccount(ctx, &a))

	cats, err := categories.Load(ctx, db)
	require.NoError(t, err)
	return fixture{db: db, account: a, ledger: New(db.Queries, cats)}
}

func (f fixture) credit(t *testing.T, d time.Time, desc, amount string) model.Transaction {
	t.Helper()
	tx, err := f.ledger.AppendBankLine(context.Background(), f.account, model.Transaction{
		Date: d, Description: desc, Category: "Sale", Credit: dec(amount),
	})
	require.NoError(t, err)
	return tx
}

func (f fixture) debit(t *testing.T, d time.Time, desc, amount string) model.Transaction {
	t.Helper()
	tx, err := f.ledger.AppendBankLine(context.Background(), f.account, model.Transaction{
		Date: d, Description: desc, Category: "Advertisement", Debit: dec(amount),
	})
	require.NoError(t, err)
	return tx
}

func (f fixture) numbers(t *testing.T) map[string]int {
	t.Helper()
	lines, err := f.ledger.Lines(context.Background(), f.account, nil)
	require.NoError(t, err)
	out := make(map[string]int, len(lines))
	for _, l := range lines {
		out[l.Description] = l.TxNumber
	}
	return out
}

func TestAppendBankLineOrdersByDate(t *testing.T) {
	f := setup(t, "0.00")

	f.credit(t, date(2025, 3, 10), "C1", "1.00")
	f.credit(t, date(2025, 3, 1), "A1", "1.00")
	f.credit(t, date(2025, 3, 20), "D1", "1.00")
	f.credit(t, date(2025, 3, 5), "B1", "1.00")
	f.credit(t, date(2025, 3, 5), "B2", "1.00")

	assert.Equal(t, map[string]int{"A1": 1, "B1": 2, "B2": 3, "C1": 4, "D1": 5}, f.numbers(t))

	n, err := f.ledger.SyncLastTransactionNumber(context.Background(), f.account)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	acct, err := f.db.GetAccount(context.Background(), f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, acct.LastTransactionNumber)
}

func TestAppendBankLineDerivesName(t *testing.T) {
	f := setup(t, "0.00")
	tx := f.credit(t, date(2025, 3, 1), "MR J SMITH REF 0042", "1.00")
	assert.Equal(t, "Mr J Smith Ref", tx.Name)

	named, err := f.ledger.AppendBankLine(context.Background(), f.account, model.Transaction{
		Date: date(2025, 3, 2), Description: "BGC 77", Name: "Mrs Jones", Category: "Sale", Credit: dec("1.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Mrs Jones", named.Name)
}

func TestAppendBankLineDuplicate(t *testing.T) {
	f := setup(t, "0.00")
	f.credit(t, date(2025, 3, 1), "Mr Smith", "8.00")
	f.credit(t, date(2025, 3, 2), "Mr Jones", "11.00")

	_, err := f.ledger.AppendBankLine(context.Background(), f.account, model.Transaction{
		Date: date(2025, 3, 1), Description: "Mr Smith", Category: "Sale", Credit: dec("8"),
	})
	var dup *DuplicateBankLineError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, 1, dup.TxNumber)
	assert.Equal(t, map[string]int{"Mr Smith": 1, "Mr Jones": 2}, f.numbers(t))
}

func TestBalances(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "10.00")
	late := f.credit(t, date(2025, 3, 20), "late", "5.00")
	f.credit(t, date(2025, 3, 1), "early", "50.00")
	f.debit(t, date(2025, 3, 10), "middle", "20.00")

	bal, err := f.ledger.BalanceBefore(ctx, f.account, late.ID)
	require.NoError(t, err)
	assert.Equal(t, "40.00", bal.StringFixed(2))

	var got []string
	for line, err := range f.ledger.BankOnly(ctx, f.account, nil) {
		require.NoError(t, err)
		got = append(got, line.BalanceBefore.StringFixed(2)+">"+line.Balance.StringFixed(2))
		assert.True(t, line.Balance.Equal(line.BalanceBefore.Add(line.Credit).Sub(line.Debit)))
	}
	assert.Equal(t, []string{"10.00>60.00", "60.00>40.00", "40.00>45.00"}, got)

	period := &model.Period{Start: date(2025, 3, 5), End: date(2025, 3, 31)}
	lines, err := f.ledger.Lines(ctx, f.account, period)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "60.00", lines[0].BalanceBefore.StringFixed(2))
	assert.Equal(t, 2, lines[0].TxNumber)
}

func TestBankOnlyIsRestartable(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "0.00")
	f.credit(t, date(2025, 3, 1), "a", "1.00")
	f.credit(t, date(2025, 3, 2), "b", "1.00")

	seq := f.ledger.BankOnly(ctx, f.account, nil)
	count := func() int {
		n := 0
		for _, err := range seq {
			require.NoError(t, err)
			n++
		}
		return n
	}
	assert.Equal(t, 2, count())
	f.credit(t, date(2025, 3, 3), "c", "1.00")
	assert.Equal(t, 3, count())

	for range seq {
		break
	}
}

func TestBalanceBeforeRejectsSplit(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "0.00")
	parent := f.credit(t, date(2025, 3, 1), "Stall", "30.00")
	child, err := f.ledger.AddSplit(ctx, parent.ID, Split{Amount: dec("10.00"), Kind: model.KindCredit, Category: "Sale: Cakes"})
	require.NoError(t, err)

	_, err = f.ledger.BalanceBefore(ctx, f.account, child.ID)
	assert.Error(t, err)
}

func TestCombinedOrdersChildrenBySize(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "0.00")
	first := f.credit(t, date(2025, 3, 1), "Stall", "30.00")
	second := f.credit(t, date(2025, 3, 2), "Stall again", "5.00")

	for _, amt := range []string{"4.00", "12.00", "7.50"} {
		_, err := f.ledger.AddSplit(ctx, first.ID, Split{Amount: dec(amt), Kind: model.KindCredit, Category: "Sale: Cakes"})
		require.NoError(t, err)
	}

	var got []string
	for e, err := range f.ledger.Combined(ctx, f.account, nil) {
		require.NoError(t, err)
		tx := e.Transaction()
		if e.Line != nil {
			got = append(got, "line:"+tx.Description)
		} else {
			got = append(got, "split:"+tx.Amount().StringFixed(2))
		}
	}
	assert.Equal(t, []string{"line:Stall", "split:12.00", "split:7.50", "split:4.00", "line:Stall again"}, got)

	lines, err := f.ledger.Lines(ctx, f.account, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, lines[0].ID)
	assert.Equal(t, "6.50", lines[0].RemainingCredit.StringFixed(2))
	assert.True(t, lines[0].HasSplits)
	assert.True(t, lines[0].Splittable)
	assert.Equal(t, second.ID, lines[1].ID)
	assert.False(t, lines[1].HasSplits)
}

func TestAddSplitRules(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "0.00")
	parent := f.credit(t, date(2025, 3, 1), "Stall", "30.00")
	child, err := f.ledger.AddSplit(ctx, parent.ID, Split{Amount: dec("20.00"), Kind: model.KindCredit, Category: "Sale: Cakes"})
	require.NoError(t, err)
	assert.Equal(t, parent.Date, child.Date)
	assert.Equal(t, parent.AccountID, child.AccountID)
	assert.Equal(t, 0, child.TxNumber)
	assert.Zero(t, child.UploadHistoryID)
	assert.True(t, child.Debit.IsZero())

	tests := []struct {
		name   string
		parent int64
		split  Split
		reason SplitReason
	}{
		{"grandchild", child.ID, Split{Amount: dec("1.00"), Kind: model.KindCredit, Category: "Sale: Cakes"}, ReasonNotBankLine},
		{"wrong parent category", parent.ID, Split{Amount: dec("1.00"), Kind: model.KindCredit, Category: "Advertisement: Printing"}, ReasonCategoryMismatch},
		{"top-level category", parent.ID, Split{Amount: dec("1.00"), Kind: model.KindCredit, Category: "Sale"}, ReasonCategoryMismatch},
		{"over allocated", parent.ID, Split{Amount: dec("10.01"), Kind: model.KindCredit, Category: "Sale: Refreshments"}, ReasonOverAllocated},
		{"debit on credit line", parent.ID, Split{Amount: dec("1.00"), Kind: model.KindDebit, Category: "Sale: Refreshments"}, ReasonOverAllocated},
		{"zero", parent.ID, Split{Amount: decimal.Zero, Kind: model.KindCredit, Category: "Sale: Cakes"}, ReasonInvalidAmount},
		{"three places", parent.ID, Split{Amount: dec("1.005"), Kind: model.KindCredit, Category: "Sale: Cakes"}, ReasonInvalidAmount},
		{"bad kind", parent.ID, Split{Amount: dec("1.00"), Kind: "both", Category: "Sale: Cakes"}, ReasonInvalidKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.AddSplit(ctx, tt.parent, tt.split)
			var se *SplitError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.reason, se.Reason)
		})
	}

	_, err = f.ledger.AddSplit(ctx, parent.ID, Split{Amount: dec("10.00"), Kind: model.KindCredit, Category: "Sale: Refreshments"})
	require.NoError(t, err)
	credit, debit, err := f.ledger.Remaining(ctx, parent, 0)
	require.NoError(t, err)
	assert.True(t, credit.IsZero())
	assert.True(t, debit.IsZero())

	stored, err := f.db.GetTransaction(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, "30.00", stored.Credit.StringFixed(2))
}

func TestEditAndDeleteSplit(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "0.00")
	parent := f.debit(t, date(2025, 3, 1), "Printing", "50.00")
	a, err := f.ledger.AddSplit(ctx, parent.ID, Split{Amount: dec("30.00"), Kind: model.KindDebit, Category: "Advertisement: Printing"})
	require.NoError(t, err)
	b, err := f.ledger.AddSplit(ctx, parent.ID, Split{Amount: dec("20.00"), Kind: model.KindDebit, Category: "Advertisement: Signage"})
	require.NoError(t, err)

	_, err = f.ledger.EditSplit(ctx, a.ID, Split{Amount: dec("31.00"), Kind: model.KindDebit, Category: "Advertisement: Printing"})
	var se *SplitError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ReasonOverAllocated, se.Reason)

	edited, err := f.ledger.EditSplit(ctx, a.ID, Split{Amount: dec("25.00"), Kind: model.KindDebit, Category: "Advertisement: Signage"})
	require.NoError(t, err)
	assert.Equal(t, "25.00", edited.Debit.StringFixed(2))
	assert.Equal(t, "Advertisement: Signage", edited.Category)

	_, err = f.ledger.EditSplit(ctx, parent.ID, Split{Amount: dec("1.00"), Kind: model.KindDebit, Category: "Advertisement: Signage"})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ReasonNotSplit, se.Reason)

	_, err = f.ledger.DeleteSplit(ctx, parent.ID)
	require.ErrorAs(t, err, &se)

	_, err = f.ledger.DeleteSplit(ctx, b.ID)
	require.NoError(t, err)
	_, debit, err := f.ledger.Remaining(ctx, parent, 0)
	require.NoError(t, err)
	assert.Equal(t, "25.00", debit.StringFixed(2))

	_, err = f.ledger.DeleteSplit(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheck(t *testing.T) {
	line := func(id int64, n int, d time.Time, credit string) model.BankLine {
		return model.BankLine{Transaction: model.Transaction{ID: id, TxNumber: n, Date: d, Credit: dec(credit)}}
	}

	clean := []model.BankLine{line(1, 1, date(2025, 3, 1), "1.00"), line(2, 2, date(2025, 3, 2), "1.00")}
	assert.Empty(t, Check(clean, nil))

	gap := []model.BankLine{line(1, 1, date(2025, 3, 1), "1.00"), line(2, 3, date(2025, 3, 2), "1.00")}
	errs := Check(gap, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, RuleSequence, errs[0].Rule)

	disorder := []model.BankLine{line(1, 1, date(2025, 3, 2), "1.00"), line(2, 2, date(2025, 3, 1), "1.00")}
	errs = Check(disorder, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, RuleDateOrder, errs[0].Rule)

	mismatch := []model.BankLine{line(1, 1, date(2025, 3, 1), "1.00")}
	mismatch[0].Balance = dec("1.00")
	mismatch[0].StatementBalance = decimal.NewNullDecimal(dec("2.00"))
	errs = Check(mismatch, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, RuleStatementBalance, errs[0].Rule)

	both := []model.BankLine{{Transaction: model.Transaction{ID: 1, TxNumber: 1, Date: date(2025, 3, 1), Credit: dec("1.00"), Debit: dec("1.00")}}}
	errs = Check(both, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, RuleOneSided, errs[0].Rule)

	over := []model.Transaction{{ID: 9, ParentID: 1, Credit: dec("0.60")}, {ID: 10, ParentID: 1, Credit: dec("0.50")}}
	errs = Check(clean, over)
	require.Len(t, errs, 1)
	assert.Equal(t, RuleSplitAllocation, errs[0].Rule)
}

func TestVerifyCleanLedger(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "0.00")
	f.credit(t, date(2025, 3, 2), "b", "1.00")
	f.credit(t, date(2025, 3, 1), "a", "1.00")

	errs, err := f.ledger.Verify(ctx, f.account, nil)
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestVerifySplitCategory(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "0.00")
	parent := f.credit(t, date(2025, 3, 1), "cake stall", "30.00")
	child, err := f.ledger.AddSplit(ctx, parent.ID, Split{Amount: dec("10.00"), Kind: model.KindCredit, Category: "Sale: Cakes"})
	require.NoError(t, err)

	errs, err := f.ledger.Verify(ctx, f.account, nil)
	require.NoError(t, err)
	assert.Empty(t, errs)

	require.NoError(t, f.db.UpdateClassification(ctx, parent.ID, "", "Sponsorship"))
	errs, err = f.ledger.Verify(ctx, f.account, nil)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, RuleSplitCategory, errs[0].Rule)
	assert.Equal(t, child.ID, errs[0].TransactionID)
	assert.Equal(t, parent.TxNumber, errs[0].TxNumber)

	errs, err = New(f.db.Queries, nil).Verify(ctx, f.account, nil)
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestSetStartingBalance(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "0.00")
	svc := NewService(f.db, zerolog.Nop())

	viewer := auth.Principal{User: "bob", Permissions: []auth.Permission{auth.View}}
	_, err := svc.SetStartingBalance(ctx, viewer, f.account.ID, dec("10.00"))
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = svc.SetStartingBalance(ctx, auth.System("alice"), f.account.ID, dec("10.005"))
	assert.ErrorIs(t, err, ErrInvalidAccount)

	_, err = svc.SetStartingBalance(ctx, auth.System("alice"), f.account.ID+99, dec("10.00"))
	assert.ErrorIs(t, err, ErrNotFound)

	acct, err := svc.SetStartingBalance(ctx, auth.System("alice"), f.account.ID, dec("125.50"))
	require.NoError(t, err)
	assert.Equal(t, "125.50", acct.StartingBalance.StringFixed(2))

	f.credit(t, date(2025, 3, 1), "first sale", "5.00")
	_, err = svc.SetStartingBalance(ctx, auth.System("alice"), f.account.ID, dec("0.00"))
	assert.ErrorIs(t, err, ErrBalanceFixed)

	lines, err := svc.Lines(ctx, auth.System("alice"), f.account.ID, nil)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "125.50", lines[0].BalanceBefore.StringFixed(2))
}

func TestDerivedName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Sarah's SweetShop", "Sarah's Sweetshop"},
		{"Big Company", "Big Company"},
		{"MR J SMITH REF 0042", "Mr J Smith Ref"},
		{"CARD PAYMENT TO TESCO3456", "Card Payment To Tes"},
		{"  Petes   Photo  Workshop", "Petes Photo Workshop"},
		{"0042 REF", ""},
		{"A1 CARS", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DerivedName(tt.in), tt.in)
	}
}

func TestWriteStatementRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "0.00")
	f.credit(t, date(2025, 3, 1), "Sarah's SweetShop", "50.00")
	f.debit(t, date(2025, 3, 2), "Bammer Guy's", "20.00")

	var buf bytes.Buffer
	require.NoError(t, WriteStatement(&buf, f.account, f.ledger.BankOnly(ctx, f.account, nil)))

	st, err := (&importer.StatementParser{}).Parse(&buf)
	require.NoError(t, err)
	require.Len(t, st.Rows, 2)
	assert.Equal(t, "30.00", st.Rows[1].Balance.StringFixed(2))
	assert.Equal(t, f.account.SortCode, st.Rows[0].SortCode)
	assert.Equal(t, "Advertisement", st.Rows[1].Category)
}

func TestBalanceBeforeDate(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "10.00")

	bal, found, err := f.ledger.BalanceBeforeDate(ctx, f.account, date(2025, 3, 1))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "10.00", bal.StringFixed(2))

	f.credit(t, date(2025, 3, 1), "A", "5.00")
	f.debit(t, date(2025, 3, 2), "B", "2.50")
	f.credit(t, date(2025, 3, 3), "C", "1.00")

	bal, found, err = f.ledger.BalanceBeforeDate(ctx, f.account, date(2025, 3, 3))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "12.50", bal.StringFixed(2))
}
