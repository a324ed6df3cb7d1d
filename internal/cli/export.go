package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"keeprates/internal/app"
)

var (
	exportFrom           string
	exportTo             string
	exportCSVPath        string
	exportSource         string
	exportIncludeInvalid bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored samples as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			CSVPath:        exportCSVPath,
			SourceID:       exportSource,
			IncludeInvalid: exportIncludeInvalid,
		}

		if exportFrom != "" {
			from, err := app.ParseTime(exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := app.ParseTime(exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start time (RFC3339 or YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End time (RFC3339 or YYYY-MM-DD, exclusive)")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().StringVar(&exportSource, "source", "", "Only export samples from this source")
	exportCmd.Flags().BoolVar(&exportIncludeInvalid, "include-invalid", false, "Include samples flagged invalid")
}
