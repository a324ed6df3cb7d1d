package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"keeprates/internal/app"
)

var (
	showLimit          int
	showSource         string
	showIncludeInvalid bool
	showLogs           bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent rate samples or scrape logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:          showLimit,
			SourceID:       showSource,
			IncludeInvalid: showIncludeInvalid,
			Logs:           showLogs,
			Out:            cmd.OutOrStdout(),
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().StringVar(&showSource, "source", "", "Only show samples from this source")
	showCmd.Flags().BoolVar(&showIncludeInvalid, "include-invalid", false, "Include samples flagged invalid")
	showCmd.Flags().BoolVar(&showLogs, "logs", false, "Show scrape batch logs instead of samples")
}
