package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archivist/gateway/internal/storage"
)

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the throttle event table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.config.RequireDatabase(); err != nil {
				return err
			}

			postgres, err := storage.NewPostgres(a.config.DatabaseURL, a.logger)
			if err != nil {
				return err
			}
			defer postgres.Close()

			if err := postgres.AutoMigrate(); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Migrated throttle_events")
			return err
		},
	}
}
