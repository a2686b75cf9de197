package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tgpipeline/pkg/pipeline"
)

var stageDate string

// stageCmd runs one node in isolation
var stageCmd = &cobra.Command{
	Use:   "stage <scrape|enrich|load|transform>",
	Short: "Run a single pipeline node",
	Long: `Run one node for a partition without checking its dependencies.

Useful to re-run enrichment or loading after fixing a downstream problem,
reusing the files already in the data lake.`,
	Example: `  tgpipeline stage enrich --date 2024-01-15
  tgpipeline stage transform`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{pipeline.NodeScrape, pipeline.NodeEnrich, pipeline.NodeLoad, pipeline.NodeTransform},
	RunE:      runStage,
}

func init() {
	stageCmd.Flags().StringVar(&stageDate, "date", "", "partition date (YYYY-MM-DD)")
	rootCmd.AddCommand(stageCmd)
}

func runStage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	part, err := a.partitionFor(stageDate)
	if err != nil {
		return err
	}

	report, err := a.orchestrator.RunNode(cmd.Context(), args[0], part)
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), report)
	if !report.Succeeded() {
		return fmt.Errorf("node %s failed", args[0])
	}
	return nil
}
