package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/foldermcp/configs"
	"github.com/Aman-CERP/foldermcp/internal/config"
	"github.com/Aman-CERP/foldermcp/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage daemon configuration",
		Long: `Manage the daemon configuration file.

The configuration holds the registered folder list, embedding defaults,
indexing limits, and server transport settings.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/foldermcp/config.yaml)
  3. Environment variables (FOLDERMCP_*)`,
		Example: `  # Show the effective configuration
  foldermcpd config show

  # Read or change one setting
  foldermcpd config get embeddings.model
  foldermcpd config set resources.max_concurrent_operations 4

  # Check the config file for errors
  foldermcpd config validate`,
	}

	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigResetCmd())
	cmd.AddCommand(newConfigThemeCmd())
	cmd.AddCommand(newConfigThemeListCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value",
		Long: `Print one configuration value from the effective (merged)
configuration, by dotted key.`,
		Example: `  foldermcpd config get embeddings.model
  foldermcpd config get resources.max_concurrent_operations`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			value, err := cfg.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one configuration value",
		Long: `Set one configuration value by dotted key and write it to the
user config file. The running daemon picks the change up on
'foldermcpd daemon reload'.`,
		Example: `  foldermcpd config set embeddings.model bge-small-en-v1.5
  foldermcpd config set server.log_level debug`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSet(cmd, args[0], args[1])
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the effective configuration after merging all sources.

By default, shows the merged configuration from:
  1. Hardcoded defaults
  2. User config (~/.config/foldermcp/config.yaml)
  3. Environment variables`,
		Example: `  # Show merged configuration
  foldermcpd config show

  # Show as JSON
  foldermcpd config show --json

  # Show only the user config file's contents
  foldermcpd config show --source user`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, defaults")

	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		Long: `Load the configuration the way the daemon would and report the
first error found, if any. Exit code 0 means the config is usable.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			if _, err := config.Load(); err != nil {
				return err
			}
			out.Success("Configuration is valid")
			if !config.UserConfigExists() {
				out.Status("", "No user config file; running on built-in defaults")
			}
			return nil
		},
	}
}

func newConfigResetCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset configuration to defaults",
		Long: `Replace the user configuration file with the default template.
The existing file is backed up first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigReset(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Reset without confirmation prompt")

	return cmd
}

func newConfigThemeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "theme [name]",
		Short: "Show or set the UI theme",
		Example: `  # Show the current theme
  foldermcpd config theme

  # Switch theme
  foldermcpd config theme dark`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cfg.UI.Theme)
				return nil
			}
			if !config.ValidTheme(args[0]) {
				return fmt.Errorf("unknown theme %q (see 'foldermcpd config theme-list')", args[0])
			}
			return runConfigSet(cmd, "ui.theme", args[0])
		},
	}
}

func newConfigThemeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "theme-list",
		Short: "List available UI themes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			for _, name := range config.Themes() {
				marker := " "
				if name == cfg.UI.Theme {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
			}
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return nil
		},
	}
}

// runConfigSet applies one key=value change to the user config file,
// validating the resulting effective config before writing.
func runConfigSet(cmd *cobra.Command, key, value string) error {
	out := output.New(cmd.OutOrStdout())

	// Validate the change against the full effective config first, so a
	// bad value is rejected before anything touches disk.
	effective, err := config.Load()
	if err != nil {
		return err
	}
	if err := effective.Set(key, value); err != nil {
		return err
	}

	// Then apply the same change to just the user config file, preserving
	// whatever else the user has (or hasn't) overridden.
	userCfg, err := config.LoadUserConfig()
	if err != nil {
		return err
	}
	if userCfg == nil {
		userCfg = &config.Config{Version: 1}
	}
	// Set validates the config it is applied to; a sparse user config is
	// not a complete one, so fill unset fields before validating.
	userCfg.MergeNewDefaults()
	if err := userCfg.Set(key, value); err != nil {
		return err
	}

	if err := userCfg.WriteYAML(config.GetUserConfigPath()); err != nil {
		return err
	}

	out.Successf("%s = %s", key, value)
	return nil
}

func runConfigReset(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())
	configPath := config.GetUserConfigPath()

	if config.UserConfigExists() {
		if !force {
			out.Warning("This replaces your configuration with the defaults")
			out.Statusf("", "Location: %s", configPath)
			out.Status("", "Re-run with --force to proceed (a backup is kept)")
			return nil
		}
		backupPath, err := config.BackupUserConfig()
		if err != nil {
			return fmt.Errorf("failed to backup config: %w", err)
		}
		out.Statusf("", "Backup: %s", backupPath)
	}

	if err := os.MkdirAll(config.GetUserConfigDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(configs.UserConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out.Success("Configuration reset to defaults")
	out.Statusf("", "Location: %s", configPath)
	return nil
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool, source string) error {
	out := output.New(cmd.OutOrStdout())

	var cfg *config.Config
	var sourceDesc string

	switch source {
	case "merged":
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		sourceDesc = "merged (defaults + user + env)"

	case "user":
		userCfg, err := config.LoadUserConfig()
		if err != nil {
			return err
		}
		if userCfg == nil {
			out.Warning("No user configuration file found")
			out.Statusf("", "Expected at: %s", config.GetUserConfigPath())
			out.Status("", "Run 'foldermcpd config reset' to create one")
			return nil
		}
		cfg = userCfg
		sourceDesc = fmt.Sprintf("user (%s)", config.GetUserConfigPath())

	case "defaults":
		cfg = config.NewConfig()
		sourceDesc = "defaults (hardcoded)"

	default:
		return fmt.Errorf("invalid source: %s (use: merged, user, defaults)", source)
	}

	if jsonOutput {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	out.Statusf("", "Configuration source: %s", sourceDesc)
	out.Newline()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
