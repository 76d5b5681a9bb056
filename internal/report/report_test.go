package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garagesale/treasury/internal/auth"
	"github.com/garagesale/treasury/internal/categories"
	"github.com/garagesale/treasury/internal/ledger"
	"github.com/garagesale/treasury/internal/model"
	"github.com/garagesale/treasury/internal/store"
)

var treasurer = auth.System("treasurer")

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	db      *store.Store
	account model.Account
	ledger  *ledger.Ledger
	engine  *Engine
}

func setup(t *testing.T, today time.Time) fixture {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, filepath.Join(t.TempDir(), "treasury.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, c := range categories.Defaults() {
		require.NoError(t, db.CreateCategory(ctx, &c))
	}
	a := model.Account{BankName: "Lloyds", SortCode: "30-00-00", AccountNumber: "12345678", StartingBalance: decimal.Zero}
	require.NoError(t, db.CreateAccount(ctx, &a))
	for _, fy := range []model.FinancialYear{
		{Label: "2023", Start: model.Date(2022, 10, 1), End: model.Date(2023, 9, 30)},
		{Label: "2024", Start: model.Date(2023, 10, 1), End: model.Date(2024, 9, 30)},
		{Label: "2025", Start: model.Date(2024, 10, 1), End: model.Date(2025, 9, 30)},
	} {
		require.NoError(t, db.CreateFinancialYear(ctx, &fy))
	}

	cats, err := categories.Load(ctx, db)
	require.NoError(t, err)
	e := NewEngine(db, DefaultOptions(), zerolog.Nop())
	e.now = func() time.Time { return today }
	return fixture{db: db, account: a, ledger: ledger.New(db.Queries, cats), engine: e}
}

func (f fixture) line(t *testing.T, d time.Time, desc, category, credit, debit string) model.Transaction {
	t.Helper()
	tx := model.Transaction{Date: d, Description: desc, Category: category}
	if credit != "" {
		tx.Credit = dec(credit)
	}
	if debit != "" {
		tx.Debit = dec(debit)
	}
	tx, err := f.ledger.AppendBankLine(context.Background(), f.account, tx)
	require.NoError(t, err)
	return tx
}

func amount(t *testing.T, d decimal.NullDecimal) string {
	t.Helper()
	require.True(t, d.Valid, "expected a value")
	return d.Decimal.StringFixed(2)
}

func TestYearlyReportWithComparison(t *testing.T) {
	f := setup(t, model.Date(2025, 1, 10))
	f.line(t, model.Date(2023, 3, 1), "GOLD SPONSOR", "Sponsorship", "60.00", "")
	f.line(t, model.Date(2024, 2, 1), "ACME LTD", "Sponsorship", "100.00", "")

	r, err := f.engine.Yearly(context.Background(), treasurer, f.account.ID, "2024")
	require.NoError(t, err)

	assert.Equal(t, "Yearly report for 2024 (2023-10-01 to 2024-09-30)", r.Title)
	require.NotNil(t, r.Compare)
	assert.Equal(t, model.Date(2022, 10, 1), r.Compare.Start)

	fig, ok := r.IncomeFor("Sponsorship")
	require.True(t, ok)
	assert.Equal(t, "100.00", fig.This.StringFixed(2))
	assert.Equal(t, "60.00", amount(t, fig.Previous))

	assert.Equal(t, "60.00", amount(t, r.CarriedOver.This))
	assert.Equal(t, "0.00", amount(t, r.CarriedOver.Previous))
	assert.Equal(t, "160.00", r.IncomeTotal.StringFixed(2))
	assert.Equal(t, "60.00", amount(t, r.PreviousIncomeTotal))
	assert.Equal(t, "0.00", amount(t, r.PreviousExpenditureTotal))

	require.Len(t, r.MainSponsors, 1)
	assert.Equal(t, ledger.DerivedName("ACME LTD"), r.MainSponsors[0].Name)
	assert.Equal(t, "100.00", r.MainSponsors[0].Total.StringFixed(2))
	assert.Equal(t, []string{OpDownload, OpArchive}, r.Operations)
	assert.Empty(t, r.Problems)
}

func TestYearlyFigures(t *testing.T) {
	ctx := context.Background()
	f := setup(t, model.Date(2024, 6, 1))
	f.line(t, model.Date(2023, 4, 1), "VILLAGE HALL", "Hall Hire", "", "20.00")
	f.line(t, model.Date(2023, 5, 1), "CAKES", "Sale", "15.00", "")
	f.line(t, model.Date(2024, 1, 5), "STALL TAKINGS", "Sale", "30.00", "")
	f.line(t, model.Date(2024, 1, 6), "PRINT SHOP", "Advertisement", "", "12.00")
	f.line(t, model.Date(2024, 1, 7), "BIG CORP", "Sponsorship", "50.00", "")
	takings, err := f.db.FindBankLine(ctx, f.account.ID, model.Date(2024, 1, 5), "STALL TAKINGS", decimal.Zero, dec("30.00"))
	require.NoError(t, err)
	_, err = f.ledger.AddSplit(ctx, takings.ID, ledger.Split{Amount: dec("10.00"), Kind: model.KindCredit, Category: "Sale: Cakes"})
	require.NoError(t, err)

	r, err := f.engine.Yearly(ctx, treasurer, f.account.ID, "2024")
	require.NoError(t, err)
	assert.Equal(t, "Partial Yearly report for 2024 (2023-10-01 up to 2024-06-01)", r.Title)

	require.Len(t, r.Income, 2)
	assert.Equal(t, "Sponsorship", r.Income[0].Category)
	assert.Equal(t, "0.00", amount(t, r.Income[0].Previous), "no activity in the comparison year")
	assert.Equal(t, "Sale", r.Income[1].Category)
	assert.Equal(t, "15.00", amount(t, r.Income[1].Previous))

	hall, ok := r.ExpenditureFor("Hall Hire")
	require.True(t, ok, "comparison-only category is listed")
	assert.True(t, hall.This.IsZero())
	assert.Equal(t, "20.00", amount(t, hall.Previous))
	assert.Equal(t, "12.00", r.ExpenditureTotal.StringFixed(2))

	assert.Equal(t, "-5.00", amount(t, r.CarriedOver.This))
	assert.Equal(t, "75.00", r.IncomeTotal.StringFixed(2))

	require.Len(t, r.IncomeDetails, 1)
	assert.Equal(t, "Sale", r.IncomeDetails[0].ParentCategory)
	assert.Equal(t, "Sale: Cakes", r.IncomeDetails[0].Category)
	assert.Empty(t, r.ExpenditureDetails)
}

func TestYearlyWithoutPriorYear(t *testing.T) {
	f := setup(t, model.Date(2025, 1, 10))
	f.line(t, model.Date(2023, 3, 1), "A", "Sale", "5.00", "")

	r, err := f.engine.Yearly(context.Background(), treasurer, f.account.ID, "2023")
	require.NoError(t, err)
	assert.Nil(t, r.Compare)
	assert.False(t, r.PreviousIncomeTotal.Valid)
	assert.False(t, r.CarriedOver.Previous.Valid)
	fig, ok := r.IncomeFor("Sale")
	require.True(t, ok)
	assert.False(t, fig.Previous.Valid)

	_, err = f.engine.Yearly(context.Background(), treasurer, f.account.ID, "1999")
	var pe *ParamError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "year", pe.Field)
}

func TestSponsorsTopFive(t *testing.T) {
	f := setup(t, model.Date(2025, 1, 10))
	day := model.Date(2024, 2, 1)
	for i, s := range []struct{ name, amount string }{
		{"ALPHA", "10.00"}, {"BRAVO", "20.00"}, {"CHARLIE", "30.00"}, {"DELTA", "40.00"},
		{"ECHO", "50.00"}, {"FOXTROT", "60.00"}, {"ALPHA", "55.00"},
	} {
		f.line(t, day.AddDate(0, 0, i), s.name, "Sponsorship", s.amount, "")
	}
	f.line(t, day, "NOT A SPONSOR", "Donation", "500.00", "")

	r, err := f.engine.Yearly(context.Background(), treasurer, f.account.ID, "2024")
	require.NoError(t, err)
	require.Len(t, r.MainSponsors, 5)
	assert.Equal(t, ledger.DerivedName("ALPHA"), r.MainSponsors[0].Name)
	assert.Equal(t, "65.00", r.MainSponsors[0].Total.StringFixed(2))
	for _, s := range r.MainSponsors {
		assert.NotEqual(t, ledger.DerivedName("BRAVO"), s.Name)
	}
}

func TestCustomRange(t *testing.T) {
	ctx := context.Background()
	f := setup(t, model.Date(2024, 12, 20))
	f.line(t, model.Date(2024, 9, 1), "A", "Sale", "5.00", "")
	f.line(t, model.Date(2024, 10, 2), "B", "Sale", "7.00", "")

	r, err := f.engine.Custom(ctx, treasurer, f.account.ID, model.Date(2024, 9, 1), model.Date(2024, 12, 1))
	require.NoError(t, err)
	assert.Equal(t, "Report from 2024-09-01 to 2024-12-01", r.Title)
	assert.False(t, r.CarriedOver.This.Valid, "carry-over excluded")
	assert.Equal(t, "12.00", r.IncomeTotal.StringFixed(2))
	assert.Nil(t, r.Compare)
	require.Len(t, r.Warnings, 2)
	assert.Contains(t, r.Warnings[0], "2024, 2025")
	assert.Contains(t, r.Warnings[1], "More than 30 days")

	r, err = f.engine.Custom(ctx, treasurer, f.account.ID, model.Date(2024, 10, 1), model.Date(2024, 10, 31))
	require.NoError(t, err)
	assert.Equal(t, "2025", r.Year)
	assert.Equal(t, "7.00", r.IncomeTotal.StringFixed(2))
}

func TestCustomRangeParams(t *testing.T) {
	f := setup(t, model.Date(2024, 12, 20))
	f.line(t, model.Date(2024, 9, 1), "A", "Sale", "5.00", "")

	cases := []struct {
		name       string
		start, end time.Time
		field      string
	}{
		{"reversed", model.Date(2024, 11, 1), model.Date(2024, 10, 1), "start"},
		{"same day", model.Date(2024, 11, 1), model.Date(2024, 11, 1), "start"},
		{"future", model.Date(2024, 10, 1), model.Date(2025, 1, 1), "end"},
		{"before data", model.Date(2024, 8, 1), model.Date(2024, 10, 1), "start"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Custom(context.Background(), treasurer, f.account.ID, tc.start, tc.end)
			var pe *ParamError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.field, pe.Field)
		})
	}
}

func TestSinceLast(t *testing.T) {
	ctx := context.Background()
	f := setup(t, model.Date(2024, 12, 20))
	f.line(t, model.Date(2024, 10, 5), "A", "Sale", "5.00", "")
	f.line(t, model.Date(2024, 12, 10), "B", "Sale", "7.00", "")

	r, err := f.engine.SinceLast(ctx, treasurer, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Date(2024, 10, 1), r.Period.Start, "latest financial year start")
	assert.Equal(t, model.Date(2024, 12, 20), r.Period.End)
	assert.Equal(t, "12.00", r.IncomeTotal.StringFixed(2))
	assert.Empty(t, r.Warnings)

	pub := model.PublishedReport{
		Shape: model.ShapeCustom, AccountID: f.account.ID,
		PeriodStart: model.Date(2024, 10, 1), PeriodEnd: model.Date(2024, 11, 1),
		FileID: "x", UploadedBy: "treasurer", UploadedAt: time.Now(),
	}
	require.NoError(t, f.db.CreatePublishedReport(ctx, &pub))

	r, err = f.engine.SinceLast(ctx, treasurer, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Date(2024, 11, 1), r.Period.Start)
	assert.Equal(t, "7.00", r.IncomeTotal.StringFixed(2))
}

func TestArchivedReportDropsArchiveOperation(t *testing.T) {
	ctx := context.Background()
	f := setup(t, model.Date(2025, 1, 10))
	pub := model.PublishedReport{
		Shape: model.ShapeYearly, AccountID: f.account.ID,
		PeriodStart: model.Date(2023, 10, 1), PeriodEnd: model.Date(2024, 9, 30),
		FileID: "abc", UploadedBy: "treasurer", UploadedAt: time.Now(),
	}
	require.NoError(t, f.db.CreatePublishedReport(ctx, &pub))

	r, err := f.engine.Run(ctx, treasurer, Request{Shape: model.ShapeYearly, AccountID: f.account.ID, Year: "2024"})
	require.NoError(t, err)
	require.NotNil(t, r.Archived)
	assert.Equal(t, "abc", r.Archived.FileID)
	assert.Equal(t, []string{OpDownload}, r.Operations)
}

func TestReportPermission(t *testing.T) {
	f := setup(t, model.Date(2025, 1, 10))
	viewer := auth.Principal{User: "viewer", Permissions: []auth.Permission{auth.View}}
	_, err := f.engine.Yearly(context.Background(), viewer, f.account.ID, "2024")
	assert.True(t, errors.Is(err, auth.ErrForbidden))
}

func TestRenderers(t *testing.T) {
	f := setup(t, model.Date(2025, 1, 10))
	f.line(t, model.Date(2023, 3, 1), "GOLD SPONSOR", "Sponsorship", "60.00", "")
	f.line(t, model.Date(2024, 2, 1), "ACME LTD", "Sponsorship", "100.00", "")
	r, err := f.engine.Yearly(context.Background(), treasurer, f.account.ID, "2024")
	require.NoError(t, err)

	var text bytes.Buffer
	require.NoError(t, Render(&text, r, FormatText))
	assert.Contains(t, text.String(), "Yearly report for 2024")
	assert.Contains(t, text.String(), "Brought forward")
	assert.Contains(t, text.String(), "160.00")

	var raw bytes.Buffer
	require.NoError(t, Render(&raw, r, FormatJSON))
	var got struct {
		Income []struct {
			Category string  `json:"category"`
			This     string  `json:"this"`
			Previous *string `json:"previous"`
		} `json:"income"`
		IncomeTotal string     `json:"income_total"`
		CarriedOver [2]*string `json:"carried_over"`
	}
	require.NoError(t, json.Unmarshal(raw.Bytes(), &got))
	require.Len(t, got.Income, 1)
	assert.Equal(t, "100.00", got.Income[0].This)
	require.NotNil(t, got.Income[0].Previous)
	assert.Equal(t, "60.00", *got.Income[0].Previous)
	assert.Equal(t, "160.00", got.IncomeTotal)

	assert.Error(t, Render(&raw, r, "pdf"))
}
