package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/garagesale/treasury/internal/auditlog"
	"github.com/garagesale/treasury/internal/fiscal"
	"github.com/garagesale/treasury/internal/model"
)

func newFYCommand(dataDir func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fy",
		Short: "Manage financial years",
	}
	cmd.AddCommand(
		newFYCreateCommand(dataDir),
		newFYEditCommand(dataDir),
		newFYListCommand(dataDir),
		newFYCloseCommand(dataDir),
		newFYCurrentCommand(dataDir),
	)
	return cmd
}

func newFYCreateCommand(dataDir func() string) *cobra.Command {
	var label, start, end string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a financial year",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := parseDate("start", start)
			if err != nil {
				return err
			}
			e, err := parseDate("end", end)
			if err != nil {
				return err
			}
			return withApp(cmd, dataDir(), func(a *app) error {
				fy, err := a.years.Create(cmd.Context(), a.principal, label, s, e)
				if err != nil {
					return err
				}
				a.record(auditlog.ActionCreateYear, 0, fy.Label, fy.Period().String())
				fmt.Fprintf(cmd.OutOrStdout(), "Financial year %s: %s\n", fy.Label, fy.Period())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "year label, e.g. 2025")
	cmd.Flags().StringVar(&start, "start", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last day (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("label")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

func newFYEditCommand(dataDir func() string) *cobra.Command {
	var label, start, end string

	cmd := &cobra.Command{
		Use:   "edit <label>",
		Short: "Change a financial year's label or dates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, dataDir(), func(a *app) error {
				fy, err := a.years.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if label != "" {
					fy.Label = label
				}
				if start != "" {
					if fy.Start, err = parseDate("start", start); err != nil {
						return err
					}
				}
				if end != "" {
					if fy.End, err = parseDate("end", end); err != nil {
						return err
					}
				}
				updated, err := a.years.Update(cmd.Context(), a.principal, args[0], fy)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Financial year %s: %s\n", updated.Label, updated.Period())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "new label")
	cmd.Flags().StringVar(&start, "start", "", "new first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "new last day (YYYY-MM-DD)")

	return cmd
}

func newFYListCommand(dataDir func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List financial years",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, dataDir(), func(a *app) error {
				years, err := a.years.List(cmd.Context())
				if err != nil {
					return err
				}
				today := model.Day(time.Now())
				t := newTable(cmd.OutOrStdout(), "LABEL", "START", "END", "ACTIVE", "EDITABLE")
				for _, fy := range years {
					t.row(fy.Label, fmtDate(fy.Start), fmtDate(fy.End),
						strconv.FormatBool(fy.Active), strconv.FormatBool(fiscal.Editable(fy, today)))
				}
				return t.flush()
			})
		},
	}
}

func newFYCloseCommand(dataDir func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "close <label>",
		Short: "Close a financial year and activate the next one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, dataDir(), func(a *app) error {
				next, err := a.years.Close(cmd.Context(), a.principal, args[0])
				if err != nil {
					return err
				}
				a.record(auditlog.ActionCloseYear, 0, args[0], "active year now "+next.Label)
				fmt.Fprintf(cmd.OutOrStdout(), "Closed %s; active year is %s (%s)\n", args[0], next.Label, next.Period())
				return nil
			})
		},
	}
}

func newFYCurrentCommand(dataDir func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Show the current financial year",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, dataDir(), func(a *app) error {
				fy, ok, err := a.years.Current(cmd.Context())
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no financial year is active or covers today")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", fy.Label, fy.Period())
				return nil
			})
		},
	}
}
