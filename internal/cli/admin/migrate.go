package admin

import (
	"fmt"

	"github.com/cloo-solutions/medindex/internal/config"
	"github.com/cloo-solutions/medindex/internal/database"
	"github.com/spf13/cobra"
)

// MigrateCmd returns the migrate command
func MigrateCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  "Apply pending migrations to MEDINDEX_DATABASE_URL and print the resulting schema version.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if !cfg.HasDatabase() {
				return fmt.Errorf("MEDINDEX_DATABASE_URL is not set")
			}

			if err := database.Migrate(cfg.DatabaseURL, source); err != nil {
				return err
			}
			version, dirty, err := database.MigrationVersion(cfg.DatabaseURL, source)
			if err != nil {
				return err
			}
			fmt.Printf("schema version %d (dirty: %t)\n", version, dirty)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", database.DefaultMigrationsSource, "Migration source URL")
	return cmd
}
