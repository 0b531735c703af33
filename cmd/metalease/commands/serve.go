package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/metalease/metalease/pkg/api"
	"github.com/metalease/metalease/pkg/policy"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Start the lease API on the configured listen address.

The API authenticates callers from trusted proxy headers and authorizes
every operation against the policy ruleset. Run the manager command
alongside it to fulfill and expire records.`,
		Example: `  # Serve with the default configuration
  metalease serve

  # Serve with an explicit config file
  metalease serve --config /etc/metalease/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	return cmd
}

func runServe(ctx context.Context) error {
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger.NewComponentLogger("serve")

	authorizer, err := policy.NewAuthorizer(ctx, policy.Config{
		Enabled: rt.cfg.EnablePolicy,
		Dir:     rt.cfg.PolicyDir,
	}, rt.logger)
	if err != nil {
		return fmt.Errorf("failed to set up policy: %w", err)
	}
	if rt.cfg.PolicyDir != "" {
		go func() {
			if err := authorizer.Watch(ctx); err != nil {
				logger.WithError(err).Warn("policy watcher stopped")
			}
		}()
	}

	server := api.NewServer(api.Config{
		Engine:     rt.engine,
		Store:      rt.store,
		Console:    rt.console,
		Drivers:    rt.drivers,
		Identity:   rt.identity,
		Authorizer: authorizer,
		Logger:     rt.logger,
		Metrics:    rt.metrics,
	})

	httpServer := &http.Server{
		Addr:              rt.cfg.Listen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", rt.cfg.Listen)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}
	return nil
}
