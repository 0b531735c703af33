package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "metalease",
		Short: "Metalease - bare-metal resource leasing service",
		Long: `Metalease lets resource owners offer hardware for time-windowed
leases and lets other projects claim those windows.

Components:
  - serve:   the HTTP API
  - manager: the background loops that fulfill and expire records
  - migrate: database schema migrations
  - policy:  inspect and validate authorization rules`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newManagerCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newPolicyCommand())

	return rootCmd
}
