package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/dealflow/dealflow/pkg/config"
	"github.com/dealflow/dealflow/pkg/store/migrations"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the dealflow database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newMigrationCmd("up", "Apply all pending migrations", goose.UpContext),
		newMigrationCmd("down", "Roll back the latest migration", goose.DownContext),
		newMigrationCmd("status", "Print the status of every migration", goose.StatusContext),
		newMigrationCmd("version", "Print the current schema version", goose.VersionContext),
	)
	return cmd
}

type gooseFunc func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error

func newMigrationCmd(use, short string, run gooseFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			return run(cmd.Context(), db, ".")
		},
	}
}

func openDB() (*sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}
