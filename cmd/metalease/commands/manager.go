package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/metalease/metalease/pkg/manager"
)

func newManagerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manager",
		Short: "Run the background manager loops",
		Long: `Run the control loops that drive records through their lifecycle:
fulfilling leases and owner changes whose windows have opened, expiring
records whose windows have closed, retrying waiting cancellations and
purging expired console tokens.

Only one manager process should run per database.`,
		Example: `  # Run the manager with an explicit config file
  metalease manager --config /etc/metalease/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManager(cmd.Context())
		},
	}
	return cmd
}

func runManager(ctx context.Context) error {
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger.NewComponentLogger("manager-cmd")

	m := manager.New(manager.Config{
		Engine:  rt.engine,
		Store:   rt.store,
		Console: rt.console,
		Logger:  rt.logger,
		Metrics: rt.metrics,
		Tick:    rt.cfg.ManagerTick(),
	})

	logger.Infof("running loops every %s", rt.cfg.ManagerTick())
	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
