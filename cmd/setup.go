package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/spotproxy/internal/repositories"
	"github.com/desertthunder/spotproxy/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupConfig writes the example configuration to the --config path.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	if err := shared.CreateConfigFile(r.configPath); err != nil {
		return err
	}
	r.writeOK("config file created at %s", r.configPath)
	r.writePlain("%s\n", r.styles.Help("set credentials.spotify client_id and client_secret, or export SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET"))
	return nil
}

// SetupDatabase initializes the session database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	r.logger.Info("initializing database", "path", r.config.Database.Path)

	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	if cmd.Bool("rollback") {
		version, err := shared.RollbackMigration(ctx, db)
		if err != nil {
			return fmt.Errorf("failed to roll back migration: %w", err)
		}
		if version == shared.NoSchema {
			r.writeWarn("no migrations to roll back")
		} else {
			r.writeOK("rolled back migration %04d", version)
		}
		return nil
	}

	r.logger.Info("running database migrations")
	report, err := shared.RunMigrations(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if len(report.Applied) == 0 {
		r.writePlain("%s\n", r.styles.Help(fmt.Sprintf("schema already at version %04d", report.To)))
	} else {
		r.writeOK("applied %d migrations (schema %d -> %d)", len(report.Applied), report.From, report.To)
	}

	if stale := cmd.Duration("purge-stale"); stale > 0 {
		purged, err := repositories.NewSQLiteTokenStore(db).PurgeStale(ctx, time.Now().Add(-stale))
		if err != nil {
			return err
		}
		r.writeOK("purged %d stale sessions", purged)
	}

	r.writeOK("setup complete for database: %s", r.config.Database.Path)
	return nil
}
