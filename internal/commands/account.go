package commands

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/garagesale/treasury/internal/auditlog"
	"github.com/garagesale/treasury/internal/model"
)

func newAccountCommand(dataDir func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage bank accounts",
	}
	cmd.AddCommand(newAccountAddCommand(dataDir), newAccountListCommand(dataDir), newAccountSetBalanceCommand(dataDir))
	return cmd
}

func newAccountAddCommand(dataDir func() string) *cobra.Command {
	var acct model.Account
	var balance string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a bank account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bal, err := decimal.NewFromString(balance)
			if err != nil {
				return fmt.Errorf("--starting-balance %q: %w", balance, err)
			}
			acct.StartingBalance = bal
			return withApp(cmd, dataDir(), func(a *app) error {
				created, err := a.ledger.OpenAccount(cmd.Context(), a.principal, acct)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Account %d: %s\n", created.ID, created)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&acct.BankName, "bank", "", "bank name")
	cmd.Flags().StringVar(&acct.SortCode, "sort-code", "", "sort code")
	cmd.Flags().StringVar(&acct.AccountNumber, "number", "", "account number")
	cmd.Flags().StringVar(&balance, "starting-balance", "0.00", "balance before the first statement line")
	_ = cmd.MarkFlagRequired("bank")
	_ = cmd.MarkFlagRequired("sort-code")
	_ = cmd.MarkFlagRequired("number")

	return cmd
}

func newAccountListCommand(dataDir func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List bank accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, dataDir(), func(a *app) error {
				accts, err := a.ledger.Accounts(cmd.Context(), a.principal)
				if err != nil {
					return err
				}
				t := newTable(cmd.OutOrStdout(), "ID", "BANK", "SORT CODE", "NUMBER", "STARTING", "LINES")
				for _, acct := range accts {
					t.row(strconv.FormatInt(acct.ID, 10), acct.BankName, acct.SortCode, acct.AccountNumber,
						acct.StartingBalance.StringFixed(2), strconv.Itoa(acct.LastTransactionNumber))
				}
				return t.flush()
			})
		},
	}
}

func newAccountSetBalanceCommand(dataDir func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "set-balance <account-id> <amount>",
		Short: "Change the starting balance of an account with no transactions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("account id %q: %w", args[0], err)
			}
			bal, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("amount %q: %w", args[1], err)
			}
			return withApp(cmd, dataDir(), func(a *app) error {
				acct, err := a.ledger.SetStartingBalance(cmd.Context(), a.principal, id, bal)
				if err != nil {
					return err
				}
				a.record(auditlog.ActionSetBalance, id, "", "starting balance "+acct.StartingBalance.StringFixed(2))
				fmt.Fprintf(cmd.OutOrStdout(), "Account %d starting balance %s\n", acct.ID, acct.StartingBalance.StringFixed(2))
				return nil
			})
		},
	}
}
