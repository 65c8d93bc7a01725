package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kosmos-bio/kosmos/db"
	"github.com/kosmos-bio/kosmos/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply embedded schema migrations to the configured PostgreSQL
database. Migrations also run automatically on serve; this command exists
for deployments that migrate ahead of rollout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	fmt.Println("migrations applied")
	return nil
}
