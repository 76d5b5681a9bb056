package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/garagesale/treasury/internal/auditlog"
	"github.com/garagesale/treasury/internal/journal"
	"github.com/garagesale/treasury/internal/model"
)

func newTxCommand(dataDir func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "List, edit and export transactions",
	}
	cmd.AddCommand(
		newTxListCommand(dataDir),
		newTxEditCommand(dataDir),
		newTxCategoriesCommand(dataDir),
		newTxExportCommand(dataDir),
		newTxVerifyCommand(dataDir),
	)
	return cmd
}

// yearPeriod resolves an optional financial year label.
func (a *app) yearPeriod(cmd *cobra.Command, label string) (*model.Period, error) {
	if label == "" {
		return nil, nil
	}
	fy, err := a.years.Get(cmd.Context(), label)
	if err != nil {
		return nil, err
	}
	p := fy.Period()
	return &p, nil
}

func newTxListCommand(dataDir func() string) *cobra.Command {
	var accountID int64
	var year string
	var combined bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an account's transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, dataDir(), func(a *app) error {
				period, err := a.yearPeriod(cmd, year)
				if err != nil {
					return err
				}
				t := newTable(cmd.OutOrStdout(), "ID", "#", "DATE", "NAME", "CATEGORY", "DEBIT", "CREDIT", "BALANCE", "REMAINING")
				if !combined {
					lines, err := a.ledger.Lines(cmd.Context(), a.principal, accountID, period)
					if err != nil {
						return err
					}
					for _, l := range lines {
						lineRow(t, l)
					}
					return t.flush()
				}
				entries, err := a.ledger.Entries(cmd.Context(), a.principal, accountID, period)
				if err != nil {
					return err
				}
				for _, e := range entries {
					if e.Line != nil {
						lineRow(t, *e.Line)
						continue
					}
					s := e.Split
					t.row(strconv.FormatInt(s.ID, 10), "", "", "  split", s.Category, s.Debit.StringFixed(2), s.Credit.StringFixed(2), "", "")
				}
				return t.flush()
			})
		},
	}

	cmd.Flags().Int64Var(&accountID, "account", 0, "account id")
	cmd.Flags().StringVar(&year, "year", "", "financial year label")
	cmd.Flags().BoolVar(&combined, "combined", false, "show split children under their bank lines")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func lineRow(t *table, l model.BankLine) {
	remaining := ""
	if l.HasSplits || l.Splittable {
		remaining = l.RemainingCredit.Add(l.RemainingDebit).StringFixed(2)
	}
	t.row(strconv.FormatInt(l.ID, 10), strconv.Itoa(l.TxNumber), fmtDate(l.Date), l.Name, l.Category,
		l.Debit.StringFixed(2), l.Credit.StringFixed(2), l.Balance.StringFixed(2), remaining)
}

func newTxEditCommand(dataDir func() string) *cobra.Command {
	var name, category string

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a transaction's name or category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("transaction id %q: %w", args[0], err)
			}
			var edit journal.Edit
			if cmd.Flags().Changed("name") {
				edit.Name = &name
			}
			if cmd.Flags().Changed("category") {
				edit.Category = &category
			}
			if edit.Name == nil && edit.Category == nil {
				return fmt.Errorf("nothing to change: pass --name or --category")
			}
			return withApp(cmd, dataDir(), func(a *app) error {
				t, change, err := a.journal.EditTransaction(cmd.Context(), a.principal, id, edit)
				if err != nil {
					return err
				}
				a.record(auditlog.ActionEdit, t.AccountID, args[0], fmt.Sprintf("name=%q category=%q", t.Name, t.Category))
				fmt.Fprintf(cmd.OutOrStdout(), "Transaction %d: %s / %s (category error %s)\n", t.ID, t.Name, t.Category, change)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&category, "category", "", "category")

	return cmd
}

func newTxCategoriesCommand(dataDir func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "categories <id>",
		Short: "List the categories a transaction may take",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("transaction id %q: %w", args[0], err)
			}
			return withApp(cmd, dataDir(), func(a *app) error {
				cats, err := a.ledger.ValidCategories(cmd.Context(), a.principal, id)
				if err != nil {
					return err
				}
				for _, c := range cats {
					fmt.Fprintln(cmd.OutOrStdout(), c.Name)
				}
				return nil
			})
		},
	}
}

func newTxExportCommand(dataDir func() string) *cobra.Command {
	var accountID int64
	var year, out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an account's bank lines as a statement CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, dataDir(), func(a *app) error {
				period, err := a.yearPeriod(cmd, year)
				if err != nil {
					return err
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
				return a.ledger.Export(cmd.Context(), a.principal, accountID, period, w)
			})
		},
	}

	cmd.Flags().Int64Var(&accountID, "account", 0, "account id")
	cmd.Flags().StringVar(&year, "year", "", "financial year label")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func newTxVerifyCommand(dataDir func() string) *cobra.Command {
	var accountID int64

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check an account's ledger rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, dataDir(), func(a *app) error {
				problems, err := a.ledger.Verify(cmd.Context(), a.principal, accountID)
				if err != nil {
					return err
				}
				for _, p := range problems {
					fmt.Fprintln(cmd.OutOrStdout(), p.Error())
				}
				if len(problems) > 0 {
					return fmt.Errorf("%d ledger rule violations", len(problems))
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Ledger OK")
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&accountID, "account", 0, "account id")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}
