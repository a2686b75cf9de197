package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"tgpipeline/pkg/config"
	"tgpipeline/pkg/logger"
	"tgpipeline/pkg/ui"
)

var (
	// Version information
	version   = "0.4.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile      string
	logLevel        string
	dataDir         string
	warehouseDriver string
	channels        []string
	noColor         bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tgpipeline",
	Short: "Daily ingestion pipeline for public Telegram channels",
	Long: `tgpipeline scrapes recent posts and photos from public Telegram channels
into a date-partitioned data lake, runs object detection over the photos,
loads both into a warehouse and rebuilds the dbt models on top of them.

Pipeline graph:
  scrape -> enrich -> load -> transform
  scrape ----------> load

Configuration is read from flags, environment variables, a .env file and
.tgpipeline.yaml, in that order of precedence.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.SetColor(false)
		}
	},
}

// Execute adds all child commands to the root command and runs it until
// SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		ui.PrintError(os.Stderr, "tgpipeline failed", err)
		os.Exit(1)
	}
}

func init() {
	logger.Version = version

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.tgpipeline.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data lake root directory")
	rootCmd.PersistentFlags().StringVar(&warehouseDriver, "warehouse-driver", "", "warehouse driver (postgres, sqlite)")
	rootCmd.PersistentFlags().StringSliceVar(&channels, "channels", nil, "channels to scrape, comma separated")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.SetVersionTemplate(`tgpipeline {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig merges every configuration source and initializes the global
// logger from the result.
func loadConfig(extra map[string]interface{}) (*config.Config, error) {
	flags := make(map[string]interface{})
	if len(channels) > 0 {
		flags["channels"] = channels
	}
	if dataDir != "" {
		flags["data-dir"] = dataDir
	}
	if warehouseDriver != "" {
		flags["warehouse-driver"] = warehouseDriver
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	for k, v := range extra {
		flags[k] = v
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}
