package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Statement column names. Matching is case-sensitive.
const (
	ColDate          = "Transaction Date"
	ColType          = "Transaction Type"
	ColSortCode      = "Sort Code"
	ColAccountNumber = "Account Number"
	ColDescription   = "Transaction Description"
	ColDebit         = "Debit Amount"
	ColCredit        = "Credit Amount"
	ColBalance       = "Balance"
	ColCategory      = "Category"
)

// StatementDateFormat is the DD/MM/YYYY layout used by the bank.
const StatementDateFormat = "02/01/2006"

// RequiredColumns must all be present in a statement header.
var RequiredColumns = []string{
	ColDate, ColSortCode, ColAccountNumber, ColDescription, ColDebit, ColCredit, ColBalance,
}

// OptionalColumns may be present.
var OptionalColumns = []string{ColType, ColCategory}

// Row is one parsed statement line.
type Row struct {
	Line          int // 1-based line in the file, header is line 1
	Date          time.Time
	Type          string
	SortCode      string
	AccountNumber string
	Description   string
	Debit         decimal.Decimal
	Credit        decimal.Decimal
	Balance       decimal.Decimal
	Category      string
}

// Statement is a parsed upload batch.
type Statement struct {
	Source string
	Rows   []Row
}

// Range returns the earliest and latest row dates. ok is false for an empty statement.
func (s *Statement) Range() (start, end time.Time, ok bool) {
	for i, r := range s.Rows {
		if i == 0 || r.Date.Before(start) {
			start = r.Date
		}
		if i == 0 || r.Date.After(end) {
			end = r.Date
		}
	}
	return start, end, len(s.Rows) > 0
}

// MissingColumnsError reports every required column absent from the header.
type MissingColumnsError struct {
	Source  string
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("missing columns %s", strings.Join(e.Columns, ","))
	}
	return fmt.Sprintf("missing columns %s in %s", strings.Join(e.Columns, ","), e.Source)
}

// RowError is a value in a statement row that does not meet the column contract.
type RowError struct {
	Line   int
	Column string
	Value  string
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %s %q: %v", e.Line, e.Column, e.Value, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

var (
	errTooManyPlaces = errors.New("more than 2 decimal places")
	errNegative      = errors.New("negative amount")
	errOneSided      = errors.New("exactly one of debit and credit must be non-zero")
)

// StatementParser parses header-addressed bank statement CSV exports.
type StatementParser struct{}

// Parse reads a statement. It rejects the whole batch on the first format error.
func (p *StatementParser) Parse(r io.Reader) (*Statement, error) {
	return p.ParseNamed(r, "")
}

// ParseNamed is Parse with the source name used in error messages.
func (p *StatementParser) ParseNamed(r io.Reader, source string) (*Statement, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading statement CSV: %w", err)
	}

	st := &Statement{Source: source}
	if len(records) == 0 {
		return st, nil
	}

	index := headerIndex(records[0])
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Source: source, Columns: missing}
	}

	for i, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		row, err := parseRow(rec, index, i+2)
		if err != nil {
			return nil, err
		}
		st.Rows = append(st.Rows, row)
	}
	return st, nil
}

func headerIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		index[strings.TrimSpace(h)] = i
	}
	return index
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func parseRow(rec []string, index map[string]int, line int) (Row, error) {
	field := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	raw := field(ColDate)
	date, err := time.Parse(StatementDateFormat, raw)
	if err != nil {
		return Row{}, &RowError{Line: line, Column: ColDate, Value: raw, Err: err}
	}

	debit, err := parseAmount(field(ColDebit), line, ColDebit)
	if err != nil {
		return Row{}, err
	}
	credit, err := parseAmount(field(ColCredit), line, ColCredit)
	if err != nil {
		return Row{}, err
	}
	if debit.IsZero() == credit.IsZero() {
		return Row{}, &RowError{Line: line, Column: ColDebit + "/" + ColCredit,
			Value: field(ColDebit) + "/" + field(ColCredit), Err: errOneSided}
	}

	raw = field(ColBalance)
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return Row{}, &RowError{Line: line, Column: ColBalance, Value: raw, Err: err}
	}

	return Row{
		Line:          line,
		Date:          date,
		Type:          field(ColType),
		SortCode:      field(ColSortCode),
		AccountNumber: field(ColAccountNumber),
		Description:   field(ColDescription),
		Debit:         debit,
		Credit:        credit,
		Balance:       balance,
		Category:      field(ColCategory),
	}, nil
}

// parseAmount reads a non-negative amount with at most 2 decimal places; "" is zero.
func parseAmount(raw string, line int, col string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &RowError{Line: line, Column: col, Value: raw, Err: err}
	}
	if d.IsNegative() {
		return decimal.Zero, &RowError{Line: line, Column: col, Value: raw, Err: errNegative}
	}
	if !d.Equal(d.Round(2)) {
		return decimal.Zero, &RowError{Line: line, Column: col, Value: raw, Err: errTooManyPlaces}
	}
	return d, nil
}

// Columns returns the known column names in canonical order.
func Columns() []string {
	return []string{ColDate, ColType, ColSortCode, ColAccountNumber, ColDescription, ColDebit, ColCredit, ColBalance, ColCategory}
}

// WriteStatement writes rows as a statement CSV in canonical column order,
// readable by StatementParser.
func WriteStatement(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(Columns()); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, r := range rows {
		if err := cw.Write(MarshalRow(r)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarshalRow converts a Row to CSV fields in Columns() order.
func MarshalRow(r Row) []string {
	amount := func(d decimal.Decimal) string {
		if d.IsZero() {
			return ""
		}
		return d.StringFixed(2)
	}
	return []string{
		r.Date.Format(StatementDateFormat),
		r.Type,
		r.SortCode,
		r.AccountNumber,
		r.Description,
		amount(r.Debit),
		amount(r.Credit),
		r.Balance.StringFixed(2),
		r.Category,
	}
}
