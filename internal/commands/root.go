package commands

import (
	"github.com/spf13/cobra"

	"github.com/garagesale/treasury/internal/buildinfo"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	var dataDir string

	rootCmd := &cobra.Command{
		Use:     "treasury",
		Short:   "Bank statement ledger and reports for a community fundraiser",
		Version: buildinfo.String(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "C", ".", "data directory holding "+configFile)

	dir := func() string { return dataDir }
	rootCmd.AddCommand(
		newInitCommand(dir),
		newAccountCommand(dir),
		newCategoryCommand(dir),
		newFYCommand(dir),
		newUploadCommand(dir),
		newTxCommand(dir),
		newErrorsCommand(dir),
		newSplitCommand(dir),
		newReportCommand(dir),
		newFixturesCommand(),
		newServeCommand(dir),
	)

	return rootCmd
}
