package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"tgpipeline/pkg/pipeline"
	"tgpipeline/pkg/ui"
)

var (
	runDate       string
	skipTransform bool
)

// runCmd runs the whole graph once
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline once",
	Long: `Run scrape, enrich, load and transform for one partition.

Without --date the partition is today's date in the schedule time zone.
A node whose dependency did not succeed is reported as blocked and not run.
The command exits non-zero when any node did not succeed.`,
	Example: `  tgpipeline run
  tgpipeline run --date 2024-01-15
  tgpipeline run --channels CheMed123 --skip-transform`,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringVar(&runDate, "date", "", "partition date (YYYY-MM-DD)")
	runCmd.Flags().BoolVar(&skipTransform, "skip-transform", false, "do not run dbt after loading")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(map[string]interface{}{"skip-transform": skipTransform})
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	part, err := a.partitionFor(runDate)
	if err != nil {
		return err
	}

	report, err := a.orchestrator.RunPartition(cmd.Context(), part, pipeline.TriggerManual)
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), report)
	if !report.Succeeded() {
		return fmt.Errorf("run %s finished with failures", report.RunID)
	}
	return nil
}

func printReport(w io.Writer, report *pipeline.Report) {
	ui.PrintInfo(w, "Run", report.RunID)
	ui.PrintInfo(w, "Partition", report.Partition)
	ui.PrintInfo(w, "Trigger", report.Trigger)
	ui.PrintInfo(w, "Status", ui.Status(report.Status))
	ui.PrintInfo(w, "Duration", report.Duration.Round(time.Millisecond).String())

	rows := make([][]string, 0, len(report.Nodes))
	for _, n := range report.Nodes {
		rows = append(rows, []string{
			n.Name,
			ui.Status(string(n.Status)),
			n.Duration.Round(time.Millisecond).String(),
			n.Error,
		})
	}
	fmt.Fprintln(w, ui.RenderTable([]string{"Node", "Status", "Duration", "Error"}, rows, 2))
}
