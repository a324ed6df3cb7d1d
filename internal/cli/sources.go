package cli

import (
	"github.com/spf13/cobra"

	"keeprates/internal/app"
)

var sourcesCatalog bool

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List enabled rate sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Sources(cmd.Context(), app.SourcesOptions{
			Catalog: sourcesCatalog,
			Out:     cmd.OutOrStdout(),
		})
	},
}

func init() {
	sourcesCmd.Flags().BoolVar(&sourcesCatalog, "catalog", false, "List the sources table from the database")
}
