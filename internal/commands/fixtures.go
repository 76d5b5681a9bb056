package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garagesale/treasury/internal/fixtures"
)

func newFixturesCommand() *cobra.Command {
	opts := fixtures.DefaultOptions()
	var start string
	var catFile, userFile, acctFile string
	var historyOut, errorOut, txOut string

	cmd := &cobra.Command{
		Use:   "fixtures",
		Short: "Generate upload history, transaction and error fixtures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if start != "" {
				d, err := parseDate("start", start)
				if err != nil {
					return err
				}
				opts.Start = d
			}
			if err := opts.Validate(); err != nil {
				return err
			}
			in, err := fixtures.ReadInputs(catFile, userFile, acctFile)
			if err != nil {
				return err
			}
			out, err := fixtures.Generate(opts, in)
			if err != nil {
				return err
			}
			if err := fixtures.WriteFile(historyOut, out.Histories); err != nil {
				return err
			}
			if err := fixtures.WriteFile(txOut, out.Transactions); err != nil {
				return err
			}
			if err := fixtures.WriteFile(errorOut, out.Errors); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d histories, %d transactions, %d errors\n",
				len(out.Histories), len(out.Transactions), len(out.Errors))
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.Histories, "histories", "H", opts.Histories, "number of upload histories")
	f.IntVarP(&opts.MaxErrors, "errors", "E", opts.MaxErrors, "maximum category errors per history")
	f.IntVarP(&opts.Transactions, "transactions", "T", opts.Transactions, "transactions per history")
	f.StringVarP(&start, "start", "s", "", "date of the first history (YYYY-MM-DD)")
	f.Uint64Var(&opts.Seed, "seed", opts.Seed, "random seed")
	f.StringVarP(&catFile, "categories", "c", "", "category fixture file")
	f.StringVarP(&userFile, "users", "u", "", "user fixture file")
	f.StringVarP(&acctFile, "accounts", "a", "", "account fixture file")
	f.StringVar(&historyOut, "history-out", "upload_history.json", "upload history output file")
	f.StringVar(&errorOut, "error-out", "upload_errors.json", "upload error output file")
	f.StringVar(&txOut, "transaction-out", "transactions.json", "transaction output file")
	_ = cmd.MarkFlagRequired("categories")
	_ = cmd.MarkFlagRequired("users")
	_ = cmd.MarkFlagRequired("accounts")

	return cmd
}
