package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"tgpipeline/pkg/config"
	"tgpipeline/pkg/ui"
)

var forceInit bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage tgpipeline configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (TGPIPE_*, POSTGRES_*)
  - .env file in the working directory
  - Configuration file
  - Default values (lowest priority)`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to a file",
	Long: `Write the default configuration as YAML.

The file is created as .tgpipeline.yaml in the current directory unless
a different path is given with --config.`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging every source.
Passwords and API keys are masked.`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	RunE:  runConfigValidate,
}

func init() {
	configInitCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = ".tgpipeline.yaml"
	}
	if _, err := os.Stat(path); err == nil && !forceInit {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ui.PrintSuccess(out, "Configuration file created: "+path)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "1. Edit the channel list and the warehouse connection")
	fmt.Fprintln(out, "2. Store the warehouse password with 'tgpipeline auth set --user <name>'")
	fmt.Fprintln(out, "3. Run 'tgpipeline config validate' to check the configuration")
	fmt.Fprintln(out, "4. Start the daily trigger with 'tgpipeline schedule'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	display := *cfg
	display.Warehouse.Password = mask(display.Warehouse.Password)
	display.Enrichment.APIKey = mask(display.Enrichment.APIKey)

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	var warnings []string
	if cfg.Warehouse.Driver == "postgres" && cfg.Warehouse.Password == "" {
		warnings = append(warnings, "warehouse password not set in config or environment, stored credentials will be tried")
	}
	if cfg.Transform.Enabled {
		if _, err := os.Stat(filepath.Join(cfg.Transform.ProjectDir, "dbt_project.yml")); err != nil {
			warnings = append(warnings, "dbt project not found in "+cfg.Transform.ProjectDir)
		}
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return fmt.Errorf("cannot create data directory: %w", err)
	}

	for _, w := range warnings {
		ui.PrintWarning(out, w)
	}
	ui.PrintSuccess(out, "Configuration is valid")
	return nil
}

func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) > 8:
		return s[:2] + "..." + s[len(s)-2:]
	default:
		return "********"
	}
}
