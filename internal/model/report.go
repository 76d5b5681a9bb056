package model

import "time"

// ReportShape names a report layout.
type ReportShape string

const (
	ShapeYearly    ReportShape = "yearly"
	ShapeCustom    ReportShape = "custom"
	ShapeSinceLast ReportShape = "since-last"
)

// PublishedReport records that a report was archived to the file store.
type PublishedReport struct {
	ID          int64
	Shape       ReportShape
	AccountID   int64
	PeriodStart time.Time
	PeriodEnd   time.Time
	FileID      string
	Path        string
	FileName    string
	UploadedBy  string
	UploadedAt  time.Time
}
