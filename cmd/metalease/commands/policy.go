package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/metalease/metalease/pkg/config"
	"github.com/metalease/metalease/pkg/policy"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and validate authorization policies",
	}
	cmd.AddCommand(newPolicyShowCommand())
	cmd.AddCommand(newPolicyValidateCommand())
	return cmd
}

func newPolicyShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the ruleset that would be enforced",
		Long: `Print the rego modules the service would load: the files in the
configured policy directory when any exist, the builtin ruleset
otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if cfg.PolicyDir != "" {
				var printed int
				entries, err := os.ReadDir(cfg.PolicyDir)
				if err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("failed to read policy directory: %w", err)
				}
				for _, entry := range entries {
					if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") {
						continue
					}
					data, err := os.ReadFile(filepath.Join(cfg.PolicyDir, entry.Name()))
					if err != nil {
						return err
					}
					fmt.Printf("# %s\n%s\n", entry.Name(), data)
					printed++
				}
				if printed > 0 {
					return nil
				}
			}
			fmt.Println("# builtin")
			fmt.Println(policy.BuiltinModule())
			return nil
		},
	}
}

func newPolicyValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Compile the ruleset and report errors",
		Long: `Compile the configured ruleset the same way serve does at startup.
Exits non-zero when a module fails to compile, so deployments can gate
policy changes before rolling them out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if _, err := policy.NewAuthorizer(cmd.Context(), policy.Config{
				Enabled: true,
				Dir:     cfg.PolicyDir,
			}, nil); err != nil {
				return err
			}
			fmt.Println("policy ruleset compiles")
			return nil
		},
	}
}
