package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/garagesale/treasury/internal/auth"
	"github.com/garagesale/treasury/internal/categories"
	"github.com/garagesale/treasury/internal/config"
	"github.com/garagesale/treasury/internal/importer"
	"github.com/garagesale/treasury/internal/journal"
	"github.com/garagesale/treasury/internal/logger"
	"github.com/garagesale/treasury/internal/store"
)

func newInitCommand(dataDir func() string) *cobra.Command {
	var name string
	var dbPath string

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new treasury data directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := dataDir()
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			if err := runInit(cmd, absDir, name, dbPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized treasury at %s\n", absDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "organisation name")
	cmd.Flags().StringVar(&dbPath, "db", "", "database file (default treasury.db in the data directory)")

	return cmd
}

func runInit(cmd *cobra.Command, dir, name, dbPath string) error {
	cfgPath := filepath.Join(dir, configFile)
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists", cfgPath)
	}

	cfg := config.Default(name)
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}

	// Create directory structure.
	dirs := []string{
		"logs",
		cfg.Import.Dir,
		filepath.Join(cfg.Import.Dir, importer.ProcessedDir),
		cfg.Archive.LocalDir,
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	// Create the database and seed the default categories.
	db, err := store.Open(cmd.Context(), config.Resolve(dir, cfg.Database.Path))
	if err != nil {
		return err
	}
	defer db.Close()

	svc := journal.NewService(db, logger.FromContext(cmd.Context()))
	if _, err := svc.AddCategories(cmd.Context(), auth.System(cfg.Operator.User), categories.Defaults()); err != nil {
		return fmt.Errorf("seeding categories: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, cfg.Import.Dir, ".gitkeep"), []byte{}, 0o644); err != nil {
		return fmt.Errorf("writing .gitkeep: %w", err)
	}
	return nil
}
