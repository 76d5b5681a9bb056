// Package archive publishes rendered reports to a file store and records
// each publication so the same report is archived at most once.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/garagesale/treasury/internal/auth"
	"github.com/garagesale/treasury/internal/model"
	"github.com/garagesale/treasury/internal/report"
	"github.com/garagesale/treasury/internal/store"
)

// FileStore accepts report files and returns a stable id for each.
type FileStore interface {
	Put(ctx context.Context, path, name string, body []byte, contentType string) (fileID string, err error)
}

// AlreadyArchivedError reports that the same shape and period was archived
// before. Nothing is uploaded when it is returned.
type AlreadyArchivedError struct {
	ArchivedAt time.Time
	FileID     string
	By         string
}

func (e *AlreadyArchivedError) Error() string {
	return fmt.Sprintf("report already archived on %s by %s (file %s)",
		e.ArchivedAt.Format("2006-01-02 15:04"), e.By, e.FileID)
}

// Names holds the path and file name templates for one report shape.
// Templates see .Year .Start .End .Shape .Account and .Ext.
type Names struct {
	Path     string
	FileName string
}

// DefaultNames files each report under its financial year.
func DefaultNames() map[model.ReportShape]Names {
	return map[model.ReportShape]Names{
		model.ShapeYearly:    {Path: "Accounts/{{.Year}}", FileName: "YearlyReport-{{.Year}}{{.Ext}}"},
		model.ShapeCustom:    {Path: "Accounts/{{.Year}}", FileName: "{{.Start}}-{{.End}}{{.Ext}}"},
		model.ShapeSinceLast: {Path: "Accounts/{{.Year}}", FileName: "{{.Start}}-{{.End}}{{.Ext}}"},
	}
}

type nameData struct {
	Year    string
	Start   string
	End     string
	Shape   string
	Account int64
	Ext     string
}

type compiled struct {
	path, file *template.Template
}

// Archive publishes reports.
type Archive struct {
	db    *store.Store
	files FileStore
	names map[model.ReportShape]compiled
	log   zerolog.Logger
	now   func() time.Time
}

// New creates an Archive. Shapes missing from names use DefaultNames.
func New(db *store.Store, files FileStore, names map[model.ReportShape]Names, log zerolog.Logger) (*Archive, error) {
	merged := DefaultNames()
	for shape, n := range names {
		d := merged[shape]
		if n.Path != "" {
			d.Path = n.Path
		}
		if n.FileName != "" {
			d.FileName = n.FileName
		}
		merged[shape] = d
	}

	a := &Archive{db: db, files: files, names: make(map[model.ReportShape]compiled), log: log, now: time.Now}
	for shape, n := range merged {
		path, err := template.New(string(shape) + "-path").Option("missingkey=error").Parse(n.Path)
		if err != nil {
			return nil, fmt.Errorf("archive path template for %s: %w", shape, err)
		}
		file, err := template.New(string(shape) + "-file").Option("missingkey=error").Parse(n.FileName)
		if err != nil {
			return nil, fmt.Errorf("archive file name template for %s: %w", shape, err)
		}
		a.names[shape] = compiled{path: path, file: file}
	}
	return a, nil
}

// Lookup returns the archive record for a report, if any.
func (a *Archive) Lookup(ctx context.Context, shape model.ReportShape, accountID int64, period model.Period) (model.PublishedReport, bool, error) {
	return lookup(ctx, a.db.Queries, shape, accountID, period)
}

func lookup(ctx context.Context, q *store.Queries, shape model.ReportShape, accountID int64, period model.Period) (model.PublishedReport, bool, error) {
	pr, err := q.GetPublishedReport(ctx, shape, accountID, period.Start, period.End)
	if errors.Is(err, store.ErrNotFound) {
		return model.PublishedReport{}, false, nil
	}
	if err != nil {
		return model.PublishedReport{}, false, err
	}
	return pr, true, nil
}

// List returns an account's archived reports, newest first.
func (a *Archive) List(ctx context.Context, p auth.Principal, accountID int64) ([]model.PublishedReport, error) {
	if err := p.Require(auth.Report); err != nil {
		return nil, err
	}
	return a.db.ListPublishedReports(ctx, accountID)
}

// Publish renders the report, stores the file and records the
// publication. A report whose shape and period were archived before is
// refused with *AlreadyArchivedError. The record is claimed before the
// upload and committed after it, so concurrent publishers of one report
// upload once.
func (a *Archive) Publish(ctx context.Context, p auth.Principal, r *report.Report, format string) (model.PublishedReport, error) {
	if err := p.Require(auth.Report); err != nil {
		return model.PublishedReport{}, err
	}
	path, name, err := a.Names(r, format)
	if err != nil {
		return model.PublishedReport{}, err
	}

	pr := model.PublishedReport{
		Shape:       r.Shape,
		AccountID:   r.Account.ID,
		PeriodStart: r.Period.Start,
		PeriodEnd:   r.Period.End,
		Path:        path,
		FileName:    name,
		UploadedBy:  p.User,
		UploadedAt:  a.now().UTC(),
	}
	err = a.db.WithTx(ctx, func(q *store.Queries) error {
		prior, found, err := lookup(ctx, q, r.Shape, r.Account.ID, r.Period)
		if err != nil {
			return err
		}
		if found {
			return already(prior)
		}
		if err := q.CreatePublishedReport(ctx, &pr); err != nil {
			if store.IsUniqueViolation(err) {
				return &AlreadyArchivedError{}
			}
			return err
		}

		var body bytes.Buffer
		if err := report.Render(&body, r, format); err != nil {
			return fmt.Errorf("rendering report: %w", err)
		}
		fileID, err := a.files.Put(ctx, path, name, body.Bytes(), report.ContentType(format))
		if err != nil {
			return fmt.Errorf("storing %s/%s: %w", path, name, err)
		}
		pr.FileID = fileID
		return q.SetPublishedFileID(ctx, pr.ID, fileID)
	})
	if err != nil {
		return model.PublishedReport{}, err
	}
	a.log.Info().
		Str("shape", string(pr.Shape)).
		Int64("account", pr.AccountID).
		Str("period", r.Period.String()).
		Str("file_id", pr.FileID).
		Str("user", p.User).
		Msg("report archived")
	return pr, nil
}

// Names expands the shape's path and file name templates for a report.
func (a *Archive) Names(r *report.Report, format string) (path, name string, err error) {
	c, ok := a.names[r.Shape]
	if !ok {
		return "", "", fmt.Errorf("no archive names for report shape %q", r.Shape)
	}
	year := r.Year
	if year == "" {
		year = "Unknown"
	}
	data := nameData{
		Year:    year,
		Start:   r.Period.Start.Format(model.DateFormat),
		End:     r.Period.End.Format(model.DateFormat),
		Shape:   string(r.Shape),
		Account: r.Account.ID,
		Ext:     report.Extension(format),
	}
	var pb, nb strings.Builder
	if err := c.path.Execute(&pb, data); err != nil {
		return "", "", fmt.Errorf("archive path: %w", err)
	}
	if err := c.file.Execute(&nb, data); err != nil {
		return "", "", fmt.Errorf("archive file name: %w", err)
	}
	return strings.Trim(pb.String(), "/"), nb.String(), nil
}

func already(pr model.PublishedReport) error {
	return &AlreadyArchivedError{ArchivedAt: pr.UploadedAt, FileID: pr.FileID, By: pr.UploadedBy}
}
