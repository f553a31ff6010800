// cmd/service/migrate.go
package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github-activity-sync/internal/database"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
	}
	cmd.AddCommand(
		migrateStep("up", "Apply all pending migrations", (*database.Migrator).Up),
		migrateStep("down", "Roll back all migrations", (*database.Migrator).Down),
	)
	return cmd
}

func migrateStep(use, short string, step func(*database.Migrator) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			pool, err := connect(context.Background(), cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			m, err := database.NewMigrator(pool)
			if err != nil {
				return err
			}
			if err := step(m); err != nil {
				return fmt.Errorf("failed to run migrations %s: %w", use, err)
			}
			logger.Info("Database migrations applied", "direction", use)
			return nil
		},
	}
}
