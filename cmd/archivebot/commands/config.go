package commands

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/archivebot/pkg/archivebot/config"
	"github.com/jholhewres/archivebot/pkg/archivebot/generator"
	"github.com/jholhewres/archivebot/pkg/archivebot/notify"
	"github.com/jholhewres/archivebot/pkg/archivebot/schedule"
)

// newConfigCmd creates the `archivebot config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration",
		Long: `Create, inspect and validate the archivebot configuration.

Examples:
  archivebot config init
  archivebot config show
  archivebot config validate
  archivebot config set-key`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigValidateCmd(),
		newConfigSetKeyCmd(),
		newConfigDeleteKeyCmd(),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the defaults",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Root().PersistentFlags().GetString("config")
			if path == "" {
				path = "config.yaml"
			}
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.DefaultConfig()
			cfg.Generator.APIKey = "${OPENAI_API_KEY:-}"
			if err := config.SaveConfigToFile(cfg, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "Next: archivebot config set-key, then archivebot run")
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "overwrite an existing file (a .bak copy is kept)")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if path == "" {
				path = "(defaults)"
			}
			if cfg.Generator.APIKey != "" && !config.IsEnvReference(cfg.Generator.APIKey) {
				cfg.Generator.APIKey = maskSecret(cfg.Generator.APIKey)
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", path, data)
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without starting the browser",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if err := validateAll(cfg); err != nil {
				return err
			}
			if path == "" {
				path = "defaults"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", path)
			return nil
		},
	}
}

// validateAll runs Validate and the checks done by component constructors.
func validateAll(cfg *config.Config) error {
	errs := []error{cfg.Validate()}
	if _, err := generator.New(cfg.Generator, nil); err != nil {
		errs = append(errs, fmt.Errorf("generator: %w", err))
	}
	if cfg.Loop.ActiveHours != "" {
		if _, err := schedule.NewActiveHours(cfg.Loop.ActiveHours, cfg.Loop.Timezone); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		if _, _, err := notify.ParseWebhookURL(cfg.Notify.DiscordWebhookURL); err != nil {
			errs = append(errs, fmt.Errorf("notify: %w", err))
		}
	}
	return errors.Join(errs...)
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the generator API key in the OS keyring",
		Long: `Read the API key without echo and store it in the OS keyring
(Secret Service, Keychain or Credential Manager). When stdin is not a
terminal the key is read from the first line of input.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var key string
			var err error
			if term.IsTerminal(int(os.Stdin.Fd())) {
				key, err = config.ReadSecret("API key: ")
			} else {
				key, err = bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && key != "" {
					err = nil
				}
			}
			if err != nil {
				return fmt.Errorf("reading key: %w", err)
			}
			if err := config.StoreAPIKey(strings.TrimSpace(key)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "API key stored in the OS keyring.")
			return nil
		},
	}
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key",
		Short: "Remove the generator API key from the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.DeleteAPIKey(); err != nil {
				return fmt.Errorf("deleting key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "API key removed.")
			return nil
		},
	}
}

// maskSecret keeps the last four characters of s.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return "********" + s[len(s)-4:]
}
