package model

import (
	"fmt"
	"time"
)

// DateFormat is the storage and display layout for calendar dates.
const DateFormat = "2006-01-02"

// Period is a closed date range [Start, End].
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether d falls inside the closed range.
func (p Period) Contains(d time.Time) bool {
	return !d.Before(p.Start) && !d.After(p.End)
}

// Overlaps reports whether two closed ranges share at least one day.
func (p Period) Overlaps(o Period) bool {
	return !p.End.Before(o.Start) && !o.End.Before(p.Start)
}

func (p Period) String() string {
	return fmt.Sprintf("%s to %s", p.Start.Format(DateFormat), p.End.Format(DateFormat))
}

// FinancialYear is a named fiscal period.
type FinancialYear struct {
	ID     int64
	Label  string
	Start  time.Time
	End    time.Time
	Active bool
}

// Period returns the year's date range.
func (fy FinancialYear) Period() Period {
	return Period{Start: fy.Start, End: fy.End}
}

// IsComplete reports whether the year ended before today.
func (fy FinancialYear) IsComplete(today time.Time) bool {
	return fy.End.Before(Day(today))
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date builds a UTC calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
