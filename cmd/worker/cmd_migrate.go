package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mwalkiewicz/mediary/internal/config"
	"github.com/mwalkiewicz/mediary/internal/platform/logger"
	"github.com/mwalkiewicz/mediary/internal/platform/postgres"
)

func newMigrateCmd(stdout io.Writer) *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	migrate.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDatabase(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
					if err := postgres.Migrate(ctx, db); err != nil {
						return err
					}
					fmt.Fprintln(stdout, "migrations applied")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDatabase(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
					if err := postgres.MigrateDown(ctx, db); err != nil {
						return err
					}
					fmt.Fprintln(stdout, "rolled back one migration")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDatabase(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
					return postgres.MigrationStatus(ctx, db)
				})
			},
		},
	)
	return migrate
}

// withDatabase loads the configuration, opens a connection and hands
// it to fn, closing it afterwards.
func withDatabase(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return err
	}

	log := logger.Setup(cfg.Worker.LogLevel)
	ctx = logger.WithLogger(ctx, log)

	db, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.ConnectTimeout)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return fn(ctx, db)
}
