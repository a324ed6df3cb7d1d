package cli

import (
	"github.com/spf13/cobra"

	"keeprates/internal/app"
)

var rateLimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Inspect or clear the trigger admission window",
}

var rateLimitStatusCmd = &cobra.Command{
	Use:   "status [identifier]",
	Short: "Show quota usage without consuming it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RateLimitStatus(cmd.Context(), rateLimitOptions(cmd, args))
	},
}

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset [identifier]",
	Short: "Clear the admission window",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ResetRateLimit(cmd.Context(), rateLimitOptions(cmd, args))
	},
}

func rateLimitOptions(cmd *cobra.Command, args []string) app.RateLimitOptions {
	opts := app.RateLimitOptions{Out: cmd.OutOrStdout()}
	if len(args) == 1 {
		opts.Identifier = args[0]
	}
	return opts
}

func init() {
	rateLimitCmd.AddCommand(rateLimitStatusCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
}
