package commands

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/garagesale/treasury/internal/auditlog"
	"github.com/garagesale/treasury/internal/config"
	"github.com/garagesale/treasury/internal/upload"
)

func newUploadCommand(dataDir func() string) *cobra.Command {
	var accountID int64
	var fromDir bool

	cmd := &cobra.Command{
		Use:   "upload [file.csv]",
		Short: "Apply a bank statement to an account",
		Long: "Apply a bank statement CSV to an account. With --dir every CSV in the " +
			"configured import directory is applied in name order and moved to its processed/ subdirectory.",
		Args: func(cmd *cobra.Command, args []string) error {
			if fromDir {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, dataDir(), func(a *app) error {
				out := cmd.OutOrStdout()
				if !fromDir {
					res, err := a.uploads.ApplyFile(cmd.Context(), a.principal, accountID, args[0])
					if err != nil {
						return err
					}
					a.recordUpload(accountID, filepath.Base(args[0]), res)
					printUpload(out, filepath.Base(args[0]), res)
					return nil
				}

				dir := config.Resolve(a.dir, a.cfg.Import.Dir)
				results, err := a.uploads.ApplyDir(cmd.Context(), a.principal, accountID, dir)
				if err != nil {
					return err
				}
				if len(results) == 0 {
					fmt.Fprintf(out, "No statements in %s\n", dir)
					return nil
				}
				var failed []error
				for _, r := range results {
					if r.Err != nil {
						fmt.Fprintf(out, "%s: rejected: %v\n", r.Name, r.Err)
						failed = append(failed, fmt.Errorf("%s: %w", r.Name, r.Err))
						continue
					}
					a.recordUpload(accountID, r.Name, r.Result)
					printUpload(out, r.Name, r.Result)
				}
				return errors.Join(failed...)
			})
		},
	}

	cmd.Flags().Int64Var(&accountID, "account", 0, "account id")
	cmd.Flags().BoolVar(&fromDir, "dir", false, "apply every statement in the import directory")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func (a *app) recordUpload(accountID int64, source string, res upload.Result) {
	a.record(auditlog.ActionUpload, accountID, strconv.FormatInt(res.Upload.ID, 10),
		fmt.Sprintf("%s: %d rows, %d errors", source, len(res.Transactions), len(res.Errors)))
}

func printUpload(w io.Writer, source string, res upload.Result) {
	fmt.Fprintf(w, "%s: upload %d, %d transactions %s to %s, %d category errors\n",
		source, res.Upload.ID, len(res.Transactions), fmtDate(res.Upload.StartDate), fmtDate(res.Upload.EndDate), len(res.Errors))
	for _, m := range res.Mismatches {
		fmt.Fprintf(w, "  balance mismatch at #%d: statement %s, ledger %s\n",
			m.TxNumber, m.Reported.StringFixed(2), m.Computed.StringFixed(2))
	}
}
