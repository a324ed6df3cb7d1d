package cli

import (
	"github.com/spf13/cobra"

	"keeprates/internal/app"
)

var serveNoScheduler bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the trigger API and the scheduled scraper",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context(), app.ServeOptions{NoScheduler: serveNoScheduler})
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "Serve the API only; do not scrape on a schedule")
}
