package cli

import (
	"github.com/spf13/cobra"

	"keeprates/internal/app"
)

var (
	scrapeSources []string
	scrapeJSON    bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape once and print the batch result",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Scrape(cmd.Context(), app.ScrapeOptions{
			Sources: scrapeSources,
			JSON:    scrapeJSON,
			Out:     cmd.OutOrStdout(),
		})
	},
}

func init() {
	scrapeCmd.Flags().StringSliceVar(&scrapeSources, "source", nil, "Source id to scrape (repeatable; defaults to all enabled)")
	scrapeCmd.Flags().BoolVar(&scrapeJSON, "json", false, "Print the batch result as JSON")
}
