package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/garagesale/treasury/internal/auditlog"
	"github.com/garagesale/treasury/internal/store"
)

func newErrorsCommand(dataDir func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Review category errors",
	}
	cmd.AddCommand(
		newErrorsListCommand(dataDir),
		newErrorsUploadsCommand(dataDir),
		newErrorsRecheckCommand(dataDir),
	)
	return cmd
}

func newErrorsListCommand(dataDir func() string) *cobra.Command {
	var f store.ErrorFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List outstanding category errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, dataDir(), func(a *app) error {
				errs, err := a.journal.Errors(cmd.Context(), a.principal, f)
				if err != nil {
					return err
				}
				t := newTable(cmd.OutOrStdout(), "TX", "DATE", "DESCRIPTION", "AMOUNT", "UPLOAD", "ERROR")
				for _, e := range errs {
					t.row(strconv.FormatInt(e.TransactionID, 10), fmtDate(e.Transaction.Date), e.Transaction.Description,
						e.Transaction.Amount().StringFixed(2), strconv.FormatInt(e.UploadHistoryID, 10), e.Message)
				}
				return t.flush()
			})
		},
	}

	cmd.Flags().Int64Var(&f.AccountID, "account", 0, "account id")
	cmd.Flags().Int64Var(&f.UploadHistoryID, "upload", 0, "only errors from this upload")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func newErrorsUploadsCommand(dataDir func() string) *cobra.Command {
	var accountID int64
	var onlyErrors bool

	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "List upload histories with their error counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, dataDir(), func(a *app) error {
				hs, err := a.journal.Uploads(cmd.Context(), a.principal, accountID, onlyErrors)
				if err != nil {
					return err
				}
				t := newTable(cmd.OutOrStdout(), "UPLOAD", "START", "END", "BY", "ERRORS")
				for _, h := range hs {
					t.row(strconv.FormatInt(h.ID, 10), fmtDate(h.StartDate), fmtDate(h.EndDate), h.UploadedBy, strconv.Itoa(h.ErrorCount))
				}
				return t.flush()
			})
		},
	}

	cmd.Flags().Int64Var(&accountID, "account", 0, "account id")
	cmd.Flags().BoolVar(&onlyErrors, "with-errors", false, "only uploads that still have errors")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func newErrorsRecheckCommand(dataDir func() string) *cobra.Command {
	var accountID int64

	cmd := &cobra.Command{
		Use:   "recheck",
		Short: "Reclassify every journalled transaction of an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, dataDir(), func(a *app) error {
				sum, err := a.journal.Revalidate(cmd.Context(), a.principal, accountID)
				if err != nil {
					return err
				}
				details := fmt.Sprintf("checked %d, cleared %d, updated %d", sum.Checked, sum.Cleared, sum.Updated)
				a.record(auditlog.ActionRecheck, accountID, "", details)
				fmt.Fprintln(cmd.OutOrStdout(), "Rechecked: "+details)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&accountID, "account", 0, "account id")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}
