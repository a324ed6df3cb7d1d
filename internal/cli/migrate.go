package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"keeprates/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply database schema migrations",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{string(storage.MigrateUp), string(storage.MigrateDown)},
	RunE: func(cmd *cobra.Command, args []string) error {
		direction := storage.MigrateUp
		if len(args) == 1 {
			direction = storage.MigrateDirection(args[0])
		}
		if direction != storage.MigrateUp && direction != storage.MigrateDown {
			return fmt.Errorf("unknown direction %q: want up or down", args[0])
		}
		return getApp().Migrate(cmd.Context(), direction)
	},
}
