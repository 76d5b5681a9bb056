package upload

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garagesale/treasury/internal/auth"
	"github.com/garagesale/treasury/internal/categories"
	"github.com/garagesale/treasury/internal/importer"
	"github.com/garagesale/treasury/internal/journal"
	"github.com/garagesale/treasury/internal/ledger"
	"github.com/garagesale/treasury/internal/model"
	"github.com/garagesale/treasury/internal/store"
)

const header = "Transaction Date,Transaction Type,Sort Code,Account Number,Transaction Description,Debit Amount,Credit Amount,Balance,Category\n"

var operator = auth.System("alice")

type row struct {
	date     time.Time
	desc     string
	debit    string
	credit   string
	balance  string
	category string
}

func statement(rows ...row) string {
	var b strings.Builder
	b.WriteString(header)
	for _, r := range rows {
		bal := r.balance
		if bal == "" {
			bal = "0.00"
		}
		fmt.Fprintf(&b, "%s,FPI,'30-00-00,12345678,%s,%s,%s,%s,%s\n",
			r.date.Format(importer.StatementDateFormat), r.desc, r.debit, r.credit, bal, r.category)
	}
	return b.String()
}

type fixture struct {
	db      *store.Store
	session *Session
	account model.Account
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, filepath.Join(t.TempDir(), "treasury.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, c := range categories.Defaults() {
		require.NoError(t, db.CreateCategory(ctx, &c))
	}
	a := model.Account{BankName: "Lloyds", SortCode: "30-00-00", AccountNumber: "12345678"}
	require.NoError(t, db.CreateAccount(ctx, &a))

	s := NewSession(db, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return fixture{db: db, session: s, account: a}
}

func (f fixture) upload(t *testing.T, csv string) (Result, error) {
	t.Helper()
	return f.session.ApplyReader(context.Background(), operator, f.account.ID, strings.NewReader(csv), "test.csv")
}

func (f fixture) mustUpload(t *testing.T, csv string) Result {
	t.Helper()
	res, err := f.upload(t, csv)
	require.NoError(t, err)
	return res
}

func (f fixture) lines(t *testing.T) []model.BankLine {
	t.Helper()
	acct, err := f.db.GetAccount(context.Background(), f.account.ID)
	require.NoError(t, err)
	lines, err := ledger.New(f.db.Queries, nil).Lines(context.Background(), acct, nil)
	require.NoError(t, err)
	return lines
}

var base = model.Date(2025, 6, 1)

func daysBefore(n int) time.Time {
	return base.AddDate(0, 0, -n)
}

func batchA() string {
	return statement(
		row{date: daysBefore(100), desc: "Sarah's SweetShop", credit: "50.00", balance: "50.00", category: "Sale"},
		row{date: daysBefore(99), desc: "Big Company", credit: "100.00", balance: "150.00", category: "Sponsorship"},
	)
}

func batchB() string {
	return statement(
		row{date: daysBefore(90), desc: "Petes Photo Workshop", credit: "500.00", balance: "650.00", category: "Sponsorship"},
		row{date: daysBefore(89), desc: "Bammer Guy's", debit: "50.00", balance: "600.00", category: "Advertisement"},
	)
}

func batchC() string {
	return statement(
		row{date: daysBefore(80), desc: "Mr Smith", credit: "8.00", balance: "608.00", category: "Sale"},
		row{date: daysBefore(79), desc: "Mr Jones", credit: "11.00", balance: "619.00", category: "Sale"},
	)
}

func TestSingleRowGoodCategory(t *testing.T) {
	f := setup(t)
	res := f.mustUpload(t, statement(row{date: model.Date(2025, 3, 1), desc: "Sarah's SweetShop", credit: "50.00", balance: "50.00", category: "Sale"}))

	require.Len(t, res.Transactions, 1)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Mismatches)
	assert.Equal(t, 1, res.Transactions[0].TxNumber)
	assert.Equal(t, "Sarah's Sweetshop", res.Transactions[0].Name)
	assert.Equal(t, model.Date(2025, 3, 1), res.Upload.StartDate)
	assert.Equal(t, model.Date(2025, 3, 1), res.Upload.EndDate)
	assert.Equal(t, "alice", res.Upload.UploadedBy)

	lines := f.lines(t)
	require.Len(t, lines, 1)
	assert.Equal(t, "0.00", lines[0].BalanceBefore.StringFixed(2))
	assert.Equal(t, "50.00", lines[0].Balance.StringFixed(2))

	acct, err := f.db.GetAccount(context.Background(), f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, acct.LastTransactionNumber)
}

func TestOutOfOrderUploads(t *testing.T) {
	f := setup(t)
	f.mustUpload(t, batchB())
	res := f.mustUpload(t, batchA())

	lines := f.lines(t)
	require.Len(t, lines, 4)
	for i, l := range lines {
		assert.Equal(t, i+1, l.TxNumber)
		if i > 0 {
			assert.True(t, l.Date.After(lines[i-1].Date))
		}
	}
	assert.Equal(t, 1, res.Transactions[0].TxNumber)
	assert.Equal(t, 2, res.Transactions[1].TxNumber)

	n, err := f.db.CountUploadHistories(context.Background(), f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	acct, err := f.db.GetAccount(context.Background(), f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, acct.LastTransactionNumber)

	// Every file balance agrees once the ledger is back in date order.
	errs, err := ledger.New(f.db.Queries, nil).Verify(context.Background(), acct, nil)
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestInsertIntoTheMiddle(t *testing.T) {
	f := setup(t)
	f.mustUpload(t, batchA())
	f.mustUpload(t, batchC())
	res := f.mustUpload(t, batchB())

	lines := f.lines(t)
	require.Len(t, lines, 6)
	for i, l := range lines {
		assert.Equal(t, i+1, l.TxNumber)
	}
	assert.Equal(t, 3, res.Transactions[0].TxNumber)
	assert.Equal(t, 4, res.Transactions[1].TxNumber)
	assert.Equal(t, "Mr Smith", lines[4].Description)
	assert.Equal(t, "619.00", lines[5].Balance.StringFixed(2))
}

func TestDuplicateRangeRejected(t *testing.T) {
	f := setup(t)
	csv := statement(row{date: model.Date(2025, 3, 1), desc: "Sarah's SweetShop", credit: "50.00", balance: "50.00", category: "Sale"})
	f.mustUpload(t, csv)

	_, err := f.upload(t, csv)
	var scope *ScopeError
	require.ErrorAs(t, err, &scope)
	assert.Equal(t, ScopeOverlap, scope.Reason)
	assert.Contains(t, err.Error(), "01/03/2025 - 01/03/2025")
	assert.Contains(t, err.Error(), "Lloyds")

	ctx := context.Background()
	n, err := f.db.CountUploadHistories(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.lines(t), 1)
}

func TestUnknownCategoryJournalled(t *testing.T) {
	f := setup(t)
	res := f.mustUpload(t, statement(row{date: model.Date(2025, 3, 1), desc: "Mystery", credit: "5.00", balance: "5.00", category: "Nonesuch"}))

	require.Len(t, res.Transactions, 1)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Nonesuch", res.Transactions[0].Category)
	assert.Contains(t, res.Errors[0].Message, "Nonesuch")
	assert.Equal(t, 1, res.Upload.ErrorCount)

	svc := journal.NewService(f.db, zerolog.Nop())
	sale := "Sale"
	_, change, err := svc.EditTransaction(context.Background(), operator, res.Transactions[0].ID, journal.Edit{Category: &sale})
	require.NoError(t, err)
	assert.Equal(t, journal.Cleared, change)

	errs, err := f.db.UploadErrors(context.Background(), store.ErrorFilter{TransactionID: res.Transactions[0].ID})
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestRowLevelErrorsDoNotAbort(t *testing.T) {
	f := setup(t)
	res := f.mustUpload(t, statement(
		row{date: model.Date(2025, 3, 1), desc: "No category", credit: "5.00"},
		row{date: model.Date(2025, 3, 2), desc: "Wrong side", debit: "5.00", category: "Sale"},
		row{date: model.Date(2025, 3, 3), desc: "Child", credit: "5.00", category: "Sale: Cakes"},
		row{date: model.Date(2025, 3, 4), desc: "Fine", credit: "5.00", category: "Donation"},
	))

	assert.Len(t, res.Transactions, 4)
	require.Len(t, res.Errors, 3)
	assert.Equal(t, "Missing category", res.Errors[0].Message)
	assert.Equal(t, "Category Sale cannot be used on a debit", res.Errors[1].Message)
	assert.Contains(t, res.Errors[2].Message, "split of Sale")
}

func TestBalanceMismatchAccepted(t *testing.T) {
	f := setup(t)
	res := f.mustUpload(t, statement(
		row{date: model.Date(2025, 3, 1), desc: "Sarah's SweetShop", credit: "50.00", balance: "50.00", category: "Sale"},
		row{date: model.Date(2025, 3, 2), desc: "Big Company", credit: "100.00", balance: "999.00", category: "Sponsorship"},
	))

	require.Len(t, res.Mismatches, 1)
	assert.Equal(t, 2, res.Mismatches[0].TxNumber)
	assert.Equal(t, "999.00", res.Mismatches[0].Reported.StringFixed(2))
	assert.Equal(t, "150.00", res.Mismatches[0].Computed.StringFixed(2))

	lines := f.lines(t)
	assert.Equal(t, "150.00", lines[1].Balance.StringFixed(2))
}

func TestScopeErrors(t *testing.T) {
	f := setup(t)

	_, err := f.upload(t, "")
	var scope *ScopeError
	require.ErrorAs(t, err, &scope)
	assert.Equal(t, ScopeNoRows, scope.Reason)

	_, err = f.upload(t, header)
	require.ErrorAs(t, err, &scope)
	assert.Equal(t, ScopeNoRows, scope.Reason)

	other := header + "01/03/2025,FPI,'40-00-00,12345678,Mr Smith,,8.00,8.00,Sale\n"
	_, err = f.upload(t, other)
	require.ErrorAs(t, err, &scope)
	assert.Equal(t, ScopeAccountMismatch, scope.Reason)
	assert.Equal(t, 2, scope.Line)

	_, err = f.upload(t, "Transaction Date,Sort Code\n01/03/2025,30-00-00\n")
	var missing *importer.MissingColumnsError
	require.ErrorAs(t, err, &missing)

	assert.Empty(t, f.lines(t))
	n, err := f.db.CountUploadHistories(context.Background(), f.account.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDuplicateRowAbortsBatch(t *testing.T) {
	f := setup(t)
	r := row{date: model.Date(2025, 3, 1), desc: "Mr Smith", credit: "8.00", category: "Sale"}
	_, err := f.upload(t, statement(r, row{date: model.Date(2025, 3, 1), desc: "Mr Jones", credit: "1.00", category: "Nonesuch"}, r))

	var dup *ledger.DuplicateBankLineError
	require.ErrorAs(t, err, &dup)
	assert.Empty(t, f.lines(t))

	errs, err := f.db.UploadErrors(context.Background(), store.ErrorFilter{AccountID: f.account.ID})
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestTouchingRanges(t *testing.T) {
	f := setup(t)
	f.mustUpload(t, statement(
		row{date: model.Date(2025, 3, 1), desc: "a", credit: "1.00", category: "Sale"},
		row{date: model.Date(2025, 3, 5), desc: "b", credit: "1.00", category: "Sale"},
	))

	_, err := f.upload(t, statement(
		row{date: model.Date(2025, 3, 5), desc: "c", credit: "1.00", category: "Sale"},
		row{date: model.Date(2025, 3, 9), desc: "d", credit: "1.00", category: "Sale"},
	))
	var scope *ScopeError
	require.ErrorAs(t, err, &scope)

	f.mustUpload(t, statement(
		row{date: model.Date(2025, 3, 6), desc: "c", credit: "1.00", category: "Sale"},
		row{date: model.Date(2025, 3, 9), desc: "d", credit: "1.00", category: "Sale"},
	))
	assert.Len(t, f.lines(t), 4)
}

func TestExportedStatementIsDuplicate(t *testing.T) {
	f := setup(t)
	f.mustUpload(t, batchA())

	var buf bytes.Buffer
	svc := ledger.NewService(f.db, zerolog.Nop())
	require.NoError(t, svc.Export(context.Background(), operator, f.account.ID, nil, &buf))

	_, err := f.upload(t, buf.String())
	var scope *ScopeError
	require.ErrorAs(t, err, &scope)
	assert.Equal(t, ScopeOverlap, scope.Reason)
}

func TestUploadOrderDoesNotMatter(t *testing.T) {
	batches := []string{batchA(), batchB(), batchC()}
	orders := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}

	var want map[string]int
	for _, order := range orders {
		f := setup(t)
		for _, i := range order {
			f.mustUpload(t, batches[i])
		}
		got := make(map[string]int)
		for _, l := range f.lines(t) {
			got[fmt.Sprintf("%s|%s|%s|%s", l.Date.Format(model.DateFormat), l.Description, l.Debit.StringFixed(2), l.Credit.StringFixed(2))] = l.TxNumber
		}
		if want == nil {
			want = got
			continue
		}
		assert.Equal(t, want, got, "order %v", order)
	}
	assert.Len(t, want, 6)
}

func TestUploadRequiresPermission(t *testing.T) {
	f := setup(t)
	viewer := auth.Principal{User: "bob", Permissions: []auth.Permission{auth.View}}
	_, err := f.session.ApplyReader(context.Background(), viewer, f.account.ID, strings.NewReader(batchA()), "a.csv")
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestApplyDir(t *testing.T) {
	f := setup(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01-a.csv"), []byte(batchA()), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "02-dup.csv"), []byte(batchA()), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "03-b.csv"), []byte(batchB()), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	results, err := f.session.ApplyDir(context.Background(), operator, f.account.ID, dir)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)

	_, err = os.Stat(filepath.Join(dir, importer.ProcessedDir, "01-a.csv"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "02-dup.csv"))
	assert.NoError(t, err)
	assert.Len(t, f.lines(t), 4)
}
