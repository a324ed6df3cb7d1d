package app

import (
	"context"
	"fmt"

	"keeprates/internal/config"
	"keeprates/internal/storage"
)

// Migrate applies schema migrations. The SQLite backend migrates itself on open.
func (a *App) Migrate(ctx context.Context, direction storage.MigrateDirection) error {
	db := a.Config.Database
	if db.Driver == config.DriverSQLite {
		store, closeStore, err := a.requireStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()
		if err := store.Ping(ctx); err != nil {
			return err
		}
		a.Logger.Info().Str("path", db.SQLitePath).Msg("sqlite schema is up to date")
		return nil
	}

	version, err := storage.RunMigrations(db.DSN, db.MigrationsPath, direction)
	if err != nil {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}
	a.Logger.Info().Str("direction", string(direction)).Uint("version", version).Msg("migrations applied")
	return nil
}
