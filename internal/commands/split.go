package commands

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/garagesale/treasury/internal/auditlog"
	"github.com/garagesale/treasury/internal/ledger"
	"github.com/garagesale/treasury/internal/model"
)

func newSplitCommand(dataDir func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Allocate parts of a bank line to refining categories",
	}
	cmd.AddCommand(
		newSplitAddCommand(dataDir),
		newSplitEditCommand(dataDir),
		newSplitDeleteCommand(dataDir),
	)
	return cmd
}

type splitFlags struct {
	amount   string
	kind     string
	category string
}

func (f *splitFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.amount, "amount", "", "amount, at most 2 decimal places")
	cmd.Flags().StringVar(&f.kind, "kind", "", "credit or debit")
	cmd.Flags().StringVar(&f.category, "category", "", "child category of the bank line's category")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("category")
}

func (f *splitFlags) split() (ledger.Split, error) {
	amt, err := decimal.NewFromString(f.amount)
	if err != nil {
		return ledger.Split{}, fmt.Errorf("--amount %q: %w", f.amount, err)
	}
	kind, ok := model.ParseKind(f.kind)
	if !ok {
		return ledger.Split{}, fmt.Errorf("--kind %q: want credit or debit", f.kind)
	}
	return ledger.Split{Amount: amt, Kind: kind, Category: f.category}, nil
}

func parseTxID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("transaction id %q: %w", arg, err)
	}
	return id, nil
}

func newSplitAddCommand(dataDir func() string) *cobra.Command {
	var f splitFlags

	cmd := &cobra.Command{
		Use:   "add <parent-id>",
		Short: "Add a split child to a bank line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parentID, err := parseTxID(args[0])
			if err != nil {
				return err
			}
			sp, err := f.split()
			if err != nil {
				return err
			}
			return withApp(cmd, dataDir(), func(a *app) error {
				child, err := a.ledger.AddSplit(cmd.Context(), a.principal, parentID, sp)
				if err != nil {
					return err
				}
				a.record(auditlog.ActionSplitAdd, child.AccountID, strconv.FormatInt(child.ID, 10),
					fmt.Sprintf("parent %d: %s %s %s", parentID, sp.Kind, sp.Amount.StringFixed(2), sp.Category))
				fmt.Fprintf(cmd.OutOrStdout(), "Split %d: %s %s under %d\n", child.ID, child.Amount().StringFixed(2), child.Category, parentID)
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newSplitEditCommand(dataDir func() string) *cobra.Command {
	var f splitFlags

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a split child's amount or category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTxID(args[0])
			if err != nil {
				return err
			}
			sp, err := f.split()
			if err != nil {
				return err
			}
			return withApp(cmd, dataDir(), func(a *app) error {
				child, err := a.ledger.EditSplit(cmd.Context(), a.principal, id, sp)
				if err != nil {
					return err
				}
				a.record(auditlog.ActionSplitEdit, child.AccountID, args[0],
					fmt.Sprintf("%s %s %s", sp.Kind, sp.Amount.StringFixed(2), sp.Category))
				fmt.Fprintf(cmd.OutOrStdout(), "Split %d: %s %s\n", child.ID, child.Amount().StringFixed(2), child.Category)
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newSplitDeleteCommand(dataDir func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a split child",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTxID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, dataDir(), func(a *app) error {
				child, err := a.ledger.DeleteSplit(cmd.Context(), a.principal, id)
				if err != nil {
					return err
				}
				a.record(auditlog.ActionSplitDel, child.AccountID, args[0], fmt.Sprintf("parent %d", child.ParentID))
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted split %d\n", id)
				return nil
			})
		},
	}
}
