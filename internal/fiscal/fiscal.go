// Package fiscal keeps the catalogue of named financial years. Years label
// and bound reports; they never gate ledger writes.
package fiscal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/garagesale/treasury/internal/auth"
	"github.com/garagesale/treasury/internal/model"
	"github.com/garagesale/treasury/internal/store"
)

var (
	// ErrOverlap rejects a year sharing a day with an existing year.
	ErrOverlap = errors.New("financial years overlap")
	// ErrNotFound is returned for an unknown year.
	ErrNotFound = store.ErrNotFound
	// ErrHistorical rejects changes to a year that has ended.
	ErrHistorical = errors.New("historical record cannot be altered")
)

// Template gives the month and day every standard financial year starts on.
type Template struct {
	Month time.Month
	Day   int
}

// DefaultTemplate starts years on 1 October.
var DefaultTemplate = Template{Month: time.October, Day: 1}

// ParseTemplate reads an "MM-DD" year start.
func ParseTemplate(s string) (Template, error) {
	if s == "" {
		return DefaultTemplate, nil
	}
	mm, dd, ok := strings.Cut(s, "-")
	if !ok {
		return Template{}, fmt.Errorf("year start %q: want MM-DD", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 1 || m > 12 {
		return Template{}, fmt.Errorf("year start %q: bad month", s)
	}
	d, err := strconv.Atoi(dd)
	if err != nil || d < 1 || d > 28 {
		return Template{}, fmt.Errorf("year start %q: day must be 1-28", s)
	}
	return Template{Month: time.Month(m), Day: d}, nil
}

// YearAfter returns the standard year starting on the first template date
// after d. It is labelled with the calendar year it ends in.
func (t Template) YearAfter(d time.Time) model.FinancialYear {
	start := model.Date(d.Year(), t.Month, t.Day)
	if !start.After(d) {
		start = start.AddDate(1, 0, 0)
	}
	end := start.AddDate(1, 0, -1)
	return model.FinancialYear{Label: strconv.Itoa(end.Year()), Start: start, End: end}
}

// YearContaining returns the standard year that includes d.
func (t Template) YearContaining(d time.Time) model.FinancialYear {
	return t.YearAfter(d.AddDate(-1, 0, 0))
}

// Catalogue manages financial years.
type Catalogue struct {
	db       *store.Store
	template Template
	log      zerolog.Logger
	now      func() time.Time
}

// NewCatalogue creates a Catalogue.
func NewCatalogue(db *store.Store, template Template, log zerolog.Logger) *Catalogue {
	return &Catalogue{db: db, template: template, log: log, now: time.Now}
}

// Editable reports whether a year may still be changed: a year whose end
// has passed is a historical record.
func Editable(fy model.FinancialYear, today time.Time) bool {
	return !model.Day(today).After(fy.End)
}

// Create adds a year. It fails with ErrOverlap when the range shares a day
// with any existing year.
func (c *Catalogue) Create(ctx context.Context, p auth.Principal, label string, start, end time.Time) (model.FinancialYear, error) {
	if err := p.Require(auth.Edit); err != nil {
		return model.FinancialYear{}, err
	}
	fy := model.FinancialYear{Label: strings.TrimSpace(label), Start: model.Day(start), End: model.Day(end)}
	if err := validate(fy); err != nil {
		return model.FinancialYear{}, err
	}
	err := c.db.WithTx(ctx, func(q *store.Queries) error {
		if err := checkOverlap(ctx, q, fy); err != nil {
			return err
		}
		return q.CreateFinancialYear(ctx, &fy)
	})
	if err != nil {
		return model.FinancialYear{}, err
	}
	c.log.Info().Str("year", fy.Label).Str("period", fy.Period().String()).Msg("financial year created")
	return fy, nil
}

// Update changes a year's label and range. Historical years are frozen and
// the active year's start date cannot move.
func (c *Catalogue) Update(ctx context.Context, p auth.Principal, label string, updated model.FinancialYear) (model.FinancialYear, error) {
	if err := p.Require(auth.Edit); err != nil {
		return model.FinancialYear{}, err
	}
	var fy model.FinancialYear
	err := c.db.WithTx(ctx, func(q *store.Queries) error {
		existing, err := q.GetFinancialYear(ctx, label)
		if err != nil {
			return err
		}
		if !Editable(existing, c.now()) {
			return fmt.Errorf("financial year %s: %w", label, ErrHistorical)
		}
		fy = model.FinancialYear{
			ID:     existing.ID,
			Label:  strings.TrimSpace(updated.Label),
			Start:  model.Day(updated.Start),
			End:    model.Day(updated.End),
			Active: existing.Active,
		}
		if fy.Label == "" {
			fy.Label = existing.Label
		}
		if existing.Active && !fy.Start.Equal(existing.Start) {
			return fmt.Errorf("financial year %s is active: start date cannot change", label)
		}
		if err := validate(fy); err != nil {
			return err
		}
		if err := checkOverlap(ctx, q, fy); err != nil {
			return err
		}
		return q.UpdateFinancialYear(ctx, fy)
	})
	if err != nil {
		return model.FinancialYear{}, err
	}
	return fy, nil
}

// Get returns a year by label.
func (c *Catalogue) Get(ctx context.Context, label string) (model.FinancialYear, error) {
	return c.db.GetFinancialYear(ctx, label)
}

// List returns all years, earliest first.
func (c *Catalogue) List(ctx context.Context) ([]model.FinancialYear, error) {
	return c.db.ListFinancialYears(ctx)
}

// Current returns the active year, or failing that the year containing
// today. ok is false when neither exists.
func (c *Catalogue) Current(ctx context.Context) (fy model.FinancialYear, ok bool, err error) {
	fy, err = c.db.ActiveFinancialYear(ctx)
	if err == nil {
		return fy, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fy, false, err
	}
	today := model.Day(c.now())
	found, err := c.db.OverlappingFinancialYears(ctx, today, today, 0)
	if err != nil || len(found) == 0 {
		return model.FinancialYear{}, false, err
	}
	return found[0], true, nil
}

// Prior returns the latest year ending before fy starts.
func Prior(years []model.FinancialYear, fy model.FinancialYear) (model.FinancialYear, bool) {
	var prior model.FinancialYear
	found := false
	for _, y := range years {
		if y.End.Before(fy.Start) && (!found || y.End.After(prior.End)) {
			prior, found = y, true
		}
	}
	return prior, found
}

// Touching returns the years sharing at least one day with the period.
func Touching(years []model.FinancialYear, period model.Period) []model.FinancialYear {
	var out []model.FinancialYear
	for _, y := range years {
		if y.Period().Overlaps(period) {
			out = append(out, y)
		}
	}
	return out
}

// Close deactivates a year and activates its successor: the earliest year
// starting after it ends, or a new standard year when there is none.
func (c *Catalogue) Close(ctx context.Context, p auth.Principal, label string) (model.FinancialYear, error) {
	if err := p.Require(auth.Edit); err != nil {
		return model.FinancialYear{}, err
	}
	var next model.FinancialYear
	var created bool
	err := c.db.WithTx(ctx, func(q *store.Queries) error {
		fy, err := q.GetFinancialYear(ctx, label)
		if err != nil {
			return err
		}
		years, err := q.ListFinancialYears(ctx)
		if err != nil {
			return err
		}

		found := false
		for _, y := range years {
			if y.Start.After(fy.End) {
				next, found = y, true
				break
			}
		}
		if !found {
			next = c.template.YearAfter(fy.End)
			if labelTaken(years, next.Label) {
				next.Label = fmt.Sprintf("%d-%d", next.Start.Year(), next.End.Year())
			}
			if err := checkOverlap(ctx, q, next); err != nil {
				return err
			}
			if err := q.CreateFinancialYear(ctx, &next); err != nil {
				return err
			}
			created = true
		}
		if err := q.SetActiveFinancialYear(ctx, next.ID); err != nil {
			return err
		}
		next.Active = true
		return nil
	})
	if err != nil {
		return model.FinancialYear{}, err
	}
	c.log.Info().Str("closed", label).Str("active", next.Label).Bool("created", created).Msg("financial year closed")
	return next, nil
}

func validate(fy model.FinancialYear) error {
	if fy.Label == "" {
		return errors.New("financial year needs a label")
	}
	if fy.End.Before(fy.Start) {
		return fmt.Errorf("financial year %s ends before it starts", fy.Label)
	}
	return nil
}

func checkOverlap(ctx context.Context, q *store.Queries, fy model.FinancialYear) error {
	clash, err := q.OverlappingFinancialYears(ctx, fy.Start, fy.End, fy.ID)
	if err != nil {
		return err
	}
	if len(clash) > 0 {
		labels := make([]string, len(clash))
		for i, y := range clash {
			labels[i] = y.Label
		}
		return fmt.Errorf("%s overlaps %s: %w", fy.Period(), strings.Join(labels, ", "), ErrOverlap)
	}
	return nil
}

func labelTaken(years []model.FinancialYear, label string) bool {
	for _, y := range years {
		if y.Label == label {
			return true
		}
	}
	return false
}
