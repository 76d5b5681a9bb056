package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/garagesale/treasury/internal/auditlog"
	"github.com/garagesale/treasury/internal/model"
	"github.com/garagesale/treasury/internal/report"
)

func newReportCommand(dataDir func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Produce income and expenditure reports",
	}
	cmd.AddCommand(
		newReportShapeCommand(dataDir, model.ShapeYearly),
		newReportShapeCommand(dataDir, model.ShapeCustom),
		newReportShapeCommand(dataDir, model.ShapeSinceLast),
		newReportArchivedCommand(dataDir),
	)
	return cmd
}

var reportShort = map[model.ReportShape]string{
	model.ShapeYearly:    "Report a financial year against the year before",
	model.ShapeCustom:    "Report an arbitrary date range",
	model.ShapeSinceLast: "Report everything since the last archived report",
}

func newReportShapeCommand(dataDir func() string, shape model.ReportShape) *cobra.Command {
	var req report.Request
	var start, end, format, out string
	var publish bool
	req.Shape = shape

	cmd := &cobra.Command{
		Use:   string(shape),
		Short: reportShort[shape],
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if shape == model.ShapeCustom {
				var err error
				if req.Start, err = parseDate("start", start); err != nil {
					return err
				}
				if req.End, err = parseDate("end", end); err != nil {
					return err
				}
			}
			return withApp(cmd, dataDir(), func(a *app) error {
				r, err := a.reports.Run(cmd.Context(), a.principal, req)
				if err != nil {
					return err
				}
				if format == "" {
					format = a.cfg.Archive.Format
				}

				var w io.Writer = cmd.OutOrStdout()
				if out != "" {
					f, err := os.Create(out)
					if err != nil {
						return fmt.Errorf("creating %s: %w", out, err)
					}
					defer f.Close()
					w = f
				}
				if err := report.Render(w, r, format); err != nil {
					return err
				}

				if !publish {
					return nil
				}
				arc, err := a.openArchive(cmd.Context())
				if err != nil {
					return err
				}
				pr, err := arc.Publish(cmd.Context(), a.principal, r, format)
				if err != nil {
					return err
				}
				a.record(auditlog.ActionArchive, r.Account.ID, pr.FileID, pr.Path+"/"+pr.FileName)
				fmt.Fprintf(cmd.ErrOrStderr(), "Archived as %s/%s (%s)\n", pr.Path, pr.FileName, pr.FileID)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&req.AccountID, "account", 0, "account id")
	_ = cmd.MarkFlagRequired("account")
	switch shape {
	case model.ShapeYearly:
		cmd.Flags().StringVar(&req.Year, "year", "", "financial year label")
		_ = cmd.MarkFlagRequired("year")
	case model.ShapeCustom:
		cmd.Flags().StringVar(&start, "start", "", "first day (YYYY-MM-DD)")
		cmd.Flags().StringVar(&end, "end", "", "last day (YYYY-MM-DD)")
		_ = cmd.MarkFlagRequired("start")
		_ = cmd.MarkFlagRequired("end")
	}
	cmd.Flags().StringVar(&format, "format", "", "text or json (default archive.format)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&publish, "archive", false, "store the report in the configured archive")

	return cmd
}

func newReportArchivedCommand(dataDir func() string) *cobra.Command {
	var accountID int64

	cmd := &cobra.Command{
		Use:   "archived",
		Short: "List archived reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, dataDir(), func(a *app) error {
				arc, err := a.openArchive(cmd.Context())
				if err != nil {
					return err
				}
				prs, err := arc.List(cmd.Context(), a.principal, accountID)
				if err != nil {
					return err
				}
				t := newTable(cmd.OutOrStdout(), "SHAPE", "START", "END", "FILE", "BY", "AT")
				for _, pr := range prs {
					t.row(string(pr.Shape), fmtDate(pr.PeriodStart), fmtDate(pr.PeriodEnd),
						pr.Path+"/"+pr.FileName, pr.UploadedBy, pr.UploadedAt.Format("2006-01-02 15:04"))
				}
				return t.flush()
			})
		},
	}

	cmd.Flags().Int64Var(&accountID, "account", 0, "account id")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}
