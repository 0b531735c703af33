package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metalease/metalease/pkg/config"
	"github.com/metalease/metalease/pkg/stores"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		Long: `Bring the SQLite schema up to date. Serve and manager also migrate
on startup; this command exists for pre-flight checks and deployments
that separate schema changes from rollouts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context())
		},
	}
	return cmd
}

func runMigrate(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.DatabasePath})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to init store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}

	fmt.Println("database schema is up to date")
	return nil
}
