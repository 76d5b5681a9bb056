package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garagesale/treasury/internal/model"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ContentType returns the MIME type of a rendered format.
func ContentType(format string) string {
	if format == FormatJSON {
		return "application/json"
	}
	return "text/plain; charset=utf-8"
}

// Extension returns the file extension of a rendered format.
func Extension(format string) string {
	if format == FormatJSON {
		return ".json"
	}
	return ".txt"
}

// Render writes the report in the named format.
func Render(w io.Writer, r *Report, format string) error {
	switch format {
	case FormatJSON:
		return RenderJSON(w, r)
	case FormatText, "":
		return RenderText(w, r)
	}
	return &ParamError{Field: "format", Message: fmt.Sprintf("unknown format %q", format)}
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func nullMoney(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := money(d.Decimal)
	return &s
}

func orBlank(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// RenderText writes an aligned plain-text report.
func RenderText(w io.Writer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	comparing := r.Compare != nil

	fmt.Fprintln(tw, r.Title+"\t")
	fmt.Fprintf(tw, "%s\t\n", r.Account)
	for _, warn := range r.Warnings {
		fmt.Fprintf(tw, "WARNING: %s\t\n", warn)
	}
	fmt.Fprintln(tw, "\t")

	header := "Income\tThis period\t"
	if comparing {
		header += "Previous\t"
	}
	fmt.Fprintln(tw, header)
	if r.CarriedOver.This.Valid {
		row := "Brought forward\t" + money(r.CarriedOver.This.Decimal) + "\t"
		if comparing {
			row += orBlank(nullMoney(r.CarriedOver.Previous)) + "\t"
		}
		fmt.Fprintln(tw, row)
	}
	writeFigures(tw, r.Income, comparing)
	total := "Total income\t" + money(r.IncomeTotal) + "\t"
	if comparing {
		total += orBlank(nullMoney(r.PreviousIncomeTotal)) + "\t"
	}
	fmt.Fprintln(tw, total)
	fmt.Fprintln(tw, "\t")

	header = "Expenditure\tThis period\t"
	if comparing {
		header += "Previous\t"
	}
	fmt.Fprintln(tw, header)
	writeFigures(tw, r.Expenditure, comparing)
	total = "Total expenditure\t" + money(r.ExpenditureTotal) + "\t"
	if comparing {
		total += orBlank(nullMoney(r.PreviousExpenditureTotal)) + "\t"
	}
	fmt.Fprintln(tw, total)

	if len(r.IncomeDetails)+len(r.ExpenditureDetails) > 0 {
		fmt.Fprintln(tw, "\t")
		fmt.Fprintln(tw, "Split detail\tCategory\tAmount\t")
		for _, d := range append(append([]SplitDetail{}, r.IncomeDetails...), r.ExpenditureDetails...) {
			amt := d.Credit
			if d.Debit.IsPositive() {
				amt = d.Debit.Neg()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t\n", d.ParentCategory, d.Category, money(amt))
		}
	}

	if len(r.MainSponsors) > 0 {
		fmt.Fprintln(tw, "\t")
		fmt.Fprintln(tw, "Main sponsors\tTotal\t")
		for _, s := range r.MainSponsors {
			fmt.Fprintf(tw, "%s\t%s\t\n", s.Name, money(s.Total))
		}
	}
	return tw.Flush()
}

func writeFigures(w io.Writer, figs []Figure, comparing bool) {
	for _, f := range figs {
		row := f.Category + "\t" + money(f.This) + "\t"
		if comparing {
			row += orBlank(nullMoney(f.Previous)) + "\t"
		}
		fmt.Fprintln(w, row)
	}
}

type jsonPeriod struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func periodJSON(p model.Period) jsonPeriod {
	return jsonPeriod{Start: p.Start.Format(model.DateFormat), End: p.End.Format(model.DateFormat)}
}

type jsonFigure struct {
	Category string  `json:"category"`
	This     string  `json:"this"`
	Previous *string `json:"previous"`
}

type jsonDetail struct {
	TransactionID  int64  `json:"transaction_id"`
	ParentID       int64  `json:"parent_id"`
	Date           string `json:"date"`
	Name           string `json:"name"`
	ParentCategory string `json:"parent_category"`
	Category       string `json:"category"`
	Debit          string `json:"debit"`
	Credit         string `json:"credit"`
}

type jsonSponsor struct {
	Name  string `json:"name"`
	Total string `json:"total"`
}

type jsonArchive struct {
	FileID     string `json:"file_id"`
	Path       string `json:"path"`
	FileName   string `json:"file_name"`
	UploadedBy string `json:"uploaded_by"`
	UploadedAt string `json:"uploaded_at"`
}

type jsonReport struct {
	Shape                    string        `json:"shape"`
	Title                    string        `json:"title"`
	AccountID                int64         `json:"account_id"`
	Account                  string        `json:"account"`
	Year                     string        `json:"year,omitempty"`
	Period                   jsonPeriod    `json:"period"`
	Compare                  *jsonPeriod   `json:"compare_period"`
	CarriedOver              [2]*string    `json:"carried_over"`
	Income                   []jsonFigure  `json:"income"`
	IncomeTotal              string        `json:"income_total"`
	Expenditure              []jsonFigure  `json:"expenditure"`
	ExpenditureTotal         string        `json:"expenditure_total"`
	PreviousIncomeTotal      *string       `json:"previous_income_total"`
	PreviousExpenditureTotal *string       `json:"previous_expenditure_total"`
	IncomeDetails            []jsonDetail  `json:"income_details"`
	ExpenditureDetails       []jsonDetail  `json:"expenditure_details"`
	MainSponsors             []jsonSponsor `json:"main_sponsors"`
	Warnings                 []string      `json:"warnings"`
	Operations               []string      `json:"operations"`
	Archived                 *jsonArchive  `json:"archived,omitempty"`
	Problems                 []string      `json:"ledger_problems,omitempty"`
}

// JSON converts the report to its wire form with amounts as fixed
// two-place strings.
func JSON(r *Report) any {
	out := jsonReport{
		Shape:                    string(r.Shape),
		Title:                    r.Title,
		AccountID:                r.Account.ID,
		Account:                  r.Account.String(),
		Year:                     r.Year,
		Period:                   periodJSON(r.Period),
		CarriedOver:              [2]*string{nullMoney(r.CarriedOver.This), nullMoney(r.CarriedOver.Previous)},
		Income:                   figuresJSON(r.Income),
		IncomeTotal:              money(r.IncomeTotal),
		Expenditure:              figuresJSON(r.Expenditure),
		ExpenditureTotal:         money(r.ExpenditureTotal),
		PreviousIncomeTotal:      nullMoney(r.PreviousIncomeTotal),
		PreviousExpenditureTotal: nullMoney(r.PreviousExpenditureTotal),
		IncomeDetails:            detailsJSON(r.IncomeDetails),
		ExpenditureDetails:       detailsJSON(r.ExpenditureDetails),
		MainSponsors:             make([]jsonSponsor, 0, len(r.MainSponsors)),
		Warnings:                 append([]string{}, r.Warnings...),
		Operations:               append([]string{}, r.Operations...),
	}
	if r.Compare != nil {
		cp := periodJSON(*r.Compare)
		out.Compare = &cp
	}
	for _, s := range r.MainSponsors {
		out.MainSponsors = append(out.MainSponsors, jsonSponsor{Name: s.Name, Total: money(s.Total)})
	}
	if a := r.Archived; a != nil {
		out.Archived = &jsonArchive{
			FileID:     a.FileID,
			Path:       a.Path,
			FileName:   a.FileName,
			UploadedBy: a.UploadedBy,
			UploadedAt: a.UploadedAt.Format(time.RFC3339),
		}
	}
	for _, p := range r.Problems {
		out.Problems = append(out.Problems, p.Error())
	}
	return out
}

// RenderJSON writes the report as indented JSON.
func RenderJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(JSON(r))
}

func figuresJSON(figs []Figure) []jsonFigure {
	out := make([]jsonFigure, 0, len(figs))
	for _, f := range figs {
		out = append(out, jsonFigure{Category: f.Category, This: money(f.This), Previous: nullMoney(f.Previous)})
	}
	return out
}

func detailsJSON(ds []SplitDetail) []jsonDetail {
	out := make([]jsonDetail, 0, len(ds))
	for _, d := range ds {
		out = append(out, jsonDetail{
			TransactionID:  d.TransactionID,
			ParentID:       d.ParentID,
			Date:           d.Date.Format(model.DateFormat),
			Name:           d.Name,
			ParentCategory: d.ParentCategory,
			Category:       d.Category,
			Debit:          money(d.Debit),
			Credit:         money(d.Credit),
		})
	}
	return out
}
