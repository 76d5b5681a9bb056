package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garagesale/treasury/internal/categories"
	"github.com/garagesale/treasury/internal/model"
)

func newCategoryCommand(dataDir func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "category",
		Short: "Manage the category registry",
	}
	cmd.AddCommand(
		newCategoryAddCommand(dataDir),
		newCategoryListCommand(dataDir),
		newCategoryLoadCommand(dataDir),
	)
	return cmd
}

func newCategoryAddCommand(dataDir func() string) *cobra.Command {
	var name, kind, parent string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, ok := model.ParseKind(kind)
			if !ok {
				return fmt.Errorf("--kind %q: want credit or debit", kind)
			}
			return addCategories(cmd, dataDir(), []model.Category{{Name: name, Kind: k, Parent: parent}})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "category name")
	cmd.Flags().StringVar(&kind, "kind", "", "credit or debit")
	cmd.Flags().StringVar(&parent, "parent", "", "parent category, for split-only categories")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("kind")

	return cmd
}

func newCategoryLoadCommand(dataDir func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "load <file.csv>",
		Short: "Add the categories of a name,kind,parent CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cats, err := categories.LoadFile(args[0])
			if err != nil {
				return err
			}
			return addCategories(cmd, dataDir(), cats)
		},
	}
}

func addCategories(cmd *cobra.Command, dir string, cats []model.Category) error {
	return withApp(cmd, dir, func(a *app) error {
		added, err := a.journal.AddCategories(cmd.Context(), a.principal, cats)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %d categories\n", added)
		if added > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Run treasury errors recheck to clear errors the new categories resolve")
		}
		return nil
	})
}

func newCategoryListCommand(dataDir func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, dataDir(), func(a *app) error {
				cats, err := a.journal.Categories(cmd.Context(), a.principal)
				if err != nil {
					return err
				}
				t := newTable(cmd.OutOrStdout(), "NAME", "KIND", "PARENT")
				for _, c := range cats {
					t.row(c.Name, string(c.Kind), c.Parent)
				}
				return t.flush()
			})
		},
	}
}
