// Package report builds income and expenditure reports over an account's
// ledger: fixed financial years, custom ranges and the period since the
// last archived report.
package report

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/garagesale/treasury/internal/auth"
	"github.com/garagesale/treasury/internal/categories"
	"github.com/garagesale/treasury/internal/fiscal"
	"github.com/garagesale/treasury/internal/ledger"
	"github.com/garagesale/treasury/internal/model"
	"github.com/garagesale/treasury/internal/store"
)

// Post-actions a caller may offer on a finished report.
const (
	OpDownload = "download"
	OpArchive  = "archive"
)

// ParamError rejects report parameters.
type ParamError struct {
	Field   string
	Message string
}

func (e *ParamError) Error() string {
	return e.Field + ": " + e.Message
}

// Options tune report content.
type Options struct {
	StaleAfterDays  int
	SponsorCategory string
	TopSponsors     int
}

// DefaultOptions flags data older than 30 days and lists the top five
// sponsors.
func DefaultOptions() Options {
	return Options{StaleAfterDays: 30, SponsorCategory: categories.SponsorshipCategory, TopSponsors: 5}
}

// Figure is one category's total with the comparison period's total when
// the report has one.
type Figure struct {
	Category string
	This     decimal.Decimal
	Previous decimal.NullDecimal
}

// CarriedOver holds opening balances. This is null when carry-over is
// excluded, Previous when there is no comparison period.
type CarriedOver struct {
	This     decimal.NullDecimal
	Previous decimal.NullDecimal
}

// SplitDetail is a split child shown under its parent's category.
type SplitDetail struct {
	TransactionID  int64
	ParentID       int64
	Date           time.Time
	Name           string
	ParentCategory string
	Category       string
	Debit          decimal.Decimal
	Credit         decimal.Decimal
}

// Sponsor is a sponsor's total over the period.
type Sponsor struct {
	Name  string
	Total decimal.Decimal
}

// Report is the structured result handed to renderers.
type Report struct {
	Shape   model.ReportShape
	Title   string
	Account model.Account
	Year    string // financial year label, when the period lies inside one
	Period  model.Period
	Compare *model.Period

	CarriedOver              CarriedOver
	Income                   []Figure
	IncomeTotal              decimal.Decimal
	Expenditure              []Figure
	ExpenditureTotal         decimal.Decimal
	PreviousIncomeTotal      decimal.NullDecimal
	PreviousExpenditureTotal decimal.NullDecimal
	IncomeDetails            []SplitDetail
	ExpenditureDetails       []SplitDetail
	MainSponsors             []Sponsor

	Warnings   []string
	Operations []string
	Archived   *model.PublishedReport
	Problems   []ledger.ValidationError
}

// IncomeFor returns the current and previous figure for a category.
func (r *Report) IncomeFor(category string) (Figure, bool) {
	return find(r.Income, category)
}

// ExpenditureFor returns the current and previous figure for a category.
func (r *Report) ExpenditureFor(category string) (Figure, bool) {
	return find(r.Expenditure, category)
}

func find(figs []Figure, category string) (Figure, bool) {
	for _, f := range figs {
		if f.Category == category {
			return f, true
		}
	}
	return Figure{}, false
}

// Engine computes reports.
type Engine struct {
	db   *store.Store
	opts Options
	log  zerolog.Logger
	now  func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(db *store.Store, opts Options, log zerolog.Logger) *Engine {
	if opts.TopSponsors <= 0 {
		opts.TopSponsors = DefaultOptions().TopSponsors
	}
	if opts.SponsorCategory == "" {
		opts.SponsorCategory = categories.SponsorshipCategory
	}
	if opts.StaleAfterDays <= 0 {
		opts.StaleAfterDays = DefaultOptions().StaleAfterDays
	}
	return &Engine{db: db, opts: opts, log: log, now: time.Now}
}

// Request selects a report. Year is used by the yearly shape, Start and End
// by the custom shape.
type Request struct {
	Shape     model.ReportShape
	AccountID int64
	Year      string
	Start     time.Time
	End       time.Time
}

// Run dispatches on the request's shape.
func (e *Engine) Run(ctx context.Context, p auth.Principal, req Request) (*Report, error) {
	switch req.Shape {
	case model.ShapeYearly:
		return e.Yearly(ctx, p, req.AccountID, req.Year)
	case model.ShapeCustom:
		return e.Custom(ctx, p, req.AccountID, req.Start, req.End)
	case model.ShapeSinceLast:
		return e.SinceLast(ctx, p, req.AccountID)
	}
	return nil, &ParamError{Field: "shape", Message: fmt.Sprintf("unknown report shape %q", req.Shape)}
}

// Yearly reports a financial year against the year before it, carrying
// over the balance at the year's start.
func (e *Engine) Yearly(ctx context.Context, p auth.Principal, accountID int64, label string) (*Report, error) {
	if err := p.Require(auth.Report); err != nil {
		return nil, err
	}
	if label == "" {
		return nil, &ParamError{Field: "year", Message: "a financial year is required"}
	}
	var r *Report
	err := e.db.WithTx(ctx, func(q *store.Queries) error {
		fy, err := q.GetFinancialYear(ctx, label)
		if errors.Is(err, store.ErrNotFound) {
			return &ParamError{Field: "year", Message: fmt.Sprintf("unknown financial year %q", label)}
		}
		if err != nil {
			return err
		}
		years, err := q.ListFinancialYears(ctx)
		if err != nil {
			return err
		}
		var compare *model.Period
		if prior, ok := fiscal.Prior(years, fy); ok {
			cp := prior.Period()
			compare = &cp
		}

		r, err = e.build(ctx, q, model.ShapeYearly, accountID, fy.Period(), compare, true)
		if err != nil {
			return err
		}
		r.Year = fy.Label
		today := model.Day(e.now())
		if today.After(fy.End) {
			r.Title = fmt.Sprintf("Yearly report for %s (%s to %s)", fy.Label, fmtDate(fy.Start), fmtDate(fy.End))
		} else {
			r.Title = fmt.Sprintf("Partial Yearly report for %s (%s up to %s)", fy.Label, fmtDate(fy.Start), fmtDate(today))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Custom reports an arbitrary range with no comparison and no carry-over.
func (e *Engine) Custom(ctx context.Context, p auth.Principal, accountID int64, start, end time.Time) (*Report, error) {
	if err := p.Require(auth.Report); err != nil {
		return nil, err
	}
	start, end = model.Day(start), model.Day(end)
	var r *Report
	err := e.db.WithTx(ctx, func(q *store.Queries) error {
		if err := e.checkRange(ctx, q, accountID, start, end); err != nil {
			return err
		}
		var err error
		r, err = e.build(ctx, q, model.ShapeCustom, accountID, model.Period{Start: start, End: end}, nil, false)
		if err != nil {
			return err
		}
		r.Title = fmt.Sprintf("Report from %s to %s", fmtDate(start), fmtDate(end))
		return e.rangeWarnings(ctx, q, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// SinceLast reports from the end of the latest archived report, or the
// start of the latest financial year, up to today.
func (e *Engine) SinceLast(ctx context.Context, p auth.Principal, accountID int64) (*Report, error) {
	if err := p.Require(auth.Report); err != nil {
		return nil, err
	}
	end := model.Day(e.now())
	var r *Report
	err := e.db.WithTx(ctx, func(q *store.Queries) error {
		start, err := e.sinceLastStart(ctx, q, accountID)
		if err != nil {
			return err
		}
		if start.After(end) {
			return &ParamError{Field: "start", Message: fmt.Sprintf("last report ends %s, after today", fmtDate(start))}
		}
		r, err = e.build(ctx, q, model.ShapeSinceLast, accountID, model.Period{Start: start, End: end}, nil, false)
		if err != nil {
			return err
		}
		r.Title = fmt.Sprintf("Report since %s up to %s", fmtDate(start), fmtDate(end))
		return e.rangeWarnings(ctx, q, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (e *Engine) sinceLastStart(ctx context.Context, q *store.Queries, accountID int64) (time.Time, error) {
	last, err := q.LatestPublishedReport(ctx, accountID)
	if err == nil {
		return last.PeriodEnd, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return time.Time{}, err
	}
	years, err := q.ListFinancialYears(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if len(years) == 0 {
		return time.Time{}, &ParamError{Field: "start", Message: "no archived report or financial year to start from"}
	}
	return years[len(years)-1].Start, nil
}

// checkRange validates a custom range: start before end, not before the
// account's first transaction (or the first financial year when the
// account is empty) and not after today.
func (e *Engine) checkRange(ctx context.Context, q *store.Queries, accountID int64, start, end time.Time) error {
	if !start.Before(end) {
		return &ParamError{Field: "start", Message: fmt.Sprintf("Start date %s must be before end date %s", fmtDate(start), fmtDate(end))}
	}
	if today := model.Day(e.now()); end.After(today) {
		return &ParamError{Field: "end", Message: fmt.Sprintf("End date %s cannot be after today", fmtDate(end))}
	}

	first, _, ok, err := q.DateBounds(ctx, accountID)
	if err != nil {
		return err
	}
	if !ok {
		years, err := q.ListFinancialYears(ctx)
		if err != nil {
			return err
		}
		if len(years) == 0 {
			return nil
		}
		first = years[0].Start
	}
	if start.Before(first) {
		return &ParamError{Field: "start", Message: fmt.Sprintf("Start date %s is before the earliest date %s", fmtDate(start), fmtDate(first))}
	}
	return nil
}

// rangeWarnings flags ranges spanning several financial years and accounts
// whose data looks stale.
func (e *Engine) rangeWarnings(ctx context.Context, q *store.Queries, r *Report) error {
	years, err := q.ListFinancialYears(ctx)
	if err != nil {
		return err
	}
	touched := fiscal.Touching(years, r.Period)
	switch {
	case len(touched) > 1:
		labels := make([]string, len(touched))
		for i, y := range touched {
			labels[i] = y.Label
		}
		r.Warnings = append(r.Warnings, "Report spans more than one financial year: "+strings.Join(labels, ", "))
	case len(touched) == 1 && touched[0].Period().Contains(r.Period.Start) && touched[0].Period().Contains(r.Period.End):
		r.Year = touched[0].Label
	}

	_, last, ok, err := q.DateBounds(ctx, r.Account.ID)
	if err != nil {
		return err
	}
	today := model.Day(e.now())
	switch {
	case !ok:
		r.Warnings = append(r.Warnings, "No transaction data uploaded - report is empty")
	case today.Sub(last) > time.Duration(e.opts.StaleAfterDays)*24*time.Hour:
		r.Warnings = append(r.Warnings, fmt.Sprintf("More than %d days since last uploaded transaction data - report may be incomplete", e.opts.StaleAfterDays))
	}
	return nil
}

// period holds the sums of one reporting range.
type period struct {
	lines       []model.BankLine
	splits      []model.Transaction
	income      map[string]decimal.Decimal
	expenditure map[string]decimal.Decimal
	credits     decimal.Decimal
	debits      decimal.Decimal
}

func (e *Engine) sum(ctx context.Context, l *ledger.Ledger, acct model.Account, rng model.Period) (period, error) {
	lines, err := l.Lines(ctx, acct, &rng)
	if err != nil {
		return period{}, err
	}
	splits, err := l.Splits(ctx, acct, &rng)
	if err != nil {
		return period{}, err
	}
	s := period{
		lines:       lines,
		splits:      splits,
		income:      make(map[string]decimal.Decimal),
		expenditure: make(map[string]decimal.Decimal),
	}
	for _, line := range lines {
		if line.Credit.IsPositive() {
			s.income[line.Category] = s.income[line.Category].Add(line.Credit)
			s.credits = s.credits.Add(line.Credit)
		}
		if line.Debit.IsPositive() {
			s.expenditure[line.Category] = s.expenditure[line.Category].Add(line.Debit)
			s.debits = s.debits.Add(line.Debit)
		}
	}
	return s, nil
}

func (e *Engine) build(ctx context.Context, q *store.Queries, shape model.ReportShape, accountID int64, rng model.Period, compare *model.Period, carry bool) (*Report, error) {
	acct, err := q.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	l := ledger.New(q, nil)

	this, err := e.sum(ctx, l, acct, rng)
	if err != nil {
		return nil, err
	}
	r := &Report{Shape: shape, Account: acct, Period: rng, Compare: compare}

	r.IncomeTotal = this.credits
	r.ExpenditureTotal = this.debits
	if carry {
		opening, _, err := l.BalanceBeforeDate(ctx, acct, rng.Start)
		if err != nil {
			return nil, err
		}
		r.CarriedOver.This = decimal.NewNullDecimal(opening)
		r.IncomeTotal = r.IncomeTotal.Add(opening)
	}

	var prev *period
	if compare != nil {
		p, err := e.sum(ctx, l, acct, *compare)
		if err != nil {
			return nil, err
		}
		prev = &p
		prevIncome := p.credits
		if carry {
			opening, _, err := l.BalanceBeforeDate(ctx, acct, compare.Start)
			if err != nil {
				return nil, err
			}
			r.CarriedOver.Previous = decimal.NewNullDecimal(opening)
			prevIncome = prevIncome.Add(opening)
		}
		r.PreviousIncomeTotal = decimal.NewNullDecimal(prevIncome)
		r.PreviousExpenditureTotal = decimal.NewNullDecimal(p.debits)
	}

	var prevIncome, prevExpenditure map[string]decimal.Decimal
	if prev != nil {
		prevIncome, prevExpenditure = prev.income, prev.expenditure
	}
	r.Income = figures(this.income, prevIncome, prev != nil)
	r.Expenditure = figures(this.expenditure, prevExpenditure, prev != nil)
	r.IncomeDetails, r.ExpenditureDetails = details(this.lines, this.splits)
	r.MainSponsors = sponsors(this.lines, e.opts.SponsorCategory, e.opts.TopSponsors)

	r.Operations = []string{OpDownload, OpArchive}
	archived, err := q.GetPublishedReport(ctx, shape, acct.ID, rng.Start, rng.End)
	switch {
	case err == nil:
		r.Archived = &archived
		r.Operations = []string{OpDownload}
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	problems, err := l.Verify(ctx, acct, &rng)
	if err != nil {
		return nil, err
	}
	for _, pe := range problems {
		e.log.Error().
			Int64("account", acct.ID).
			Str("period", rng.String()).
			Str("rule", pe.Rule).
			Int("tx_number", pe.TxNumber).
			Msg(pe.Description)
	}
	r.Problems = problems
	return r, nil
}

// figures orders categories by this period's total, largest first. With a
// comparison every category gets a previous figure, zero when it had no
// activity, and categories seen only in the comparison are kept.
func figures(this, prev map[string]decimal.Decimal, comparing bool) []Figure {
	out := make([]Figure, 0, len(this))
	for cat, amt := range this {
		f := Figure{Category: cat, This: amt}
		if comparing {
			f.Previous = decimal.NewNullDecimal(prev[cat])
		}
		out = append(out, f)
	}
	for cat, amt := range prev {
		if _, ok := this[cat]; !ok {
			out = append(out, Figure{Category: cat, This: decimal.Zero, Previous: decimal.NewNullDecimal(amt)})
		}
	}
	slices.SortFunc(out, func(a, b Figure) int {
		if c := b.This.Cmp(a.This); c != 0 {
			return c
		}
		if c := b.Previous.Decimal.Cmp(a.Previous.Decimal); c != 0 {
			return c
		}
		return cmp.Compare(a.Category, b.Category)
	})
	return out
}

func details(lines []model.BankLine, splits []model.Transaction) (income, expenditure []SplitDetail) {
	parents := make(map[int64]model.BankLine, len(lines))
	for _, l := range lines {
		parents[l.ID] = l
	}
	for _, s := range splits {
		d := SplitDetail{
			TransactionID:  s.ID,
			ParentID:       s.ParentID,
			Date:           s.Date,
			Name:           s.Name,
			ParentCategory: parents[s.ParentID].Category,
			Category:       s.Category,
			Debit:          s.Debit,
			Credit:         s.Credit,
		}
		if s.Credit.IsPositive() {
			income = append(income, d)
		} else {
			expenditure = append(expenditure, d)
		}
	}
	return income, expenditure
}

// sponsors totals sponsorship credits by name and keeps the top n.
func sponsors(lines []model.BankLine, category string, n int) []Sponsor {
	totals := make(map[string]decimal.Decimal)
	for _, l := range lines {
		if l.Category != category || !l.Credit.IsPositive() {
			continue
		}
		name := l.Name
		if name == "" {
			name = ledger.DerivedName(l.Description)
		}
		totals[name] = totals[name].Add(l.Credit)
	}
	out := make([]Sponsor, 0, len(totals))
	for name, total := range totals {
		out = append(out, Sponsor{Name: name, Total: total})
	}
	slices.SortFunc(out, func(a, b Sponsor) int {
		if c := b.Total.Cmp(a.Total); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func fmtDate(t time.Time) string {
	return t.Format(model.DateFormat)
}
