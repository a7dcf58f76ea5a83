package main

import (
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/database"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			// the migration below runs explicitly
			a.cfg.Postgres.AutoMigrate = false
			if err := a.connect(ctx, depPostgres); err != nil {
				return err
			}

			target, err := database.LatestMigrationVersion(a.cfg.Postgres.MigrationsPath)
			if err != nil {
				return err
			}
			if err := a.migrate(); err != nil {
				return err
			}
			a.logger.WithContext(ctx).WithField("version", target).Info("Database is up to date")
			return nil
		},
	}
}
