package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tgpipeline/pkg/logger"
	"tgpipeline/pkg/pipeline"
	"tgpipeline/pkg/runlog"
	"tgpipeline/pkg/ui"
)

var (
	runsLimit int
	runsJSON  bool
	runsKeep  int
)

// runsCmd lists recorded run reports
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent pipeline runs",
	Long: `List the run reports recorded under storage.runs_dir, newest first.
Every trigger, scheduled or manual, writes one report.`,
	RunE: runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print one run report as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old run reports",
	RunE:  runRunsPrune,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to show")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "print reports as JSON")
	runsPruneCmd.Flags().IntVar(&runsKeep, "keep", 30, "number of newest reports to keep")
	runsCmd.AddCommand(runsShowCmd, runsPruneCmd)
	rootCmd.AddCommand(runsCmd)
}

func openRunStore() (*runlog.Store, error) {
	cfg, err := loadConfig(nil)
	if err != nil {
		return nil, err
	}
	return runlog.NewStore(cfg.Storage.RunsDir, logger.GetLogger())
}

func runRunsList(cmd *cobra.Command, args []string) error {
	store, err := openRunStore()
	if err != nil {
		return err
	}
	entries, err := store.List(runsLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if runsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		for _, e := range entries {
			if err := enc.Encode(e.Report); err != nil {
				return err
			}
		}
		return nil
	}
	if len(entries) == 0 {
		ui.PrintWarning(out, "No runs recorded in "+store.Dir())
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		r := e.Report
		var failed []string
		for _, n := range r.Nodes {
			if n.Status != pipeline.StatusSucceeded {
				failed = append(failed, n.Name+"="+string(n.Status))
			}
		}
		rows = append(rows, []string{
			r.StartedAt.Local().Format(time.DateTime),
			shortID(r.RunID),
			r.Partition,
			r.Trigger,
			ui.Status(r.Status),
			r.Duration.Round(time.Second).String(),
			strings.Join(failed, " "),
		})
	}
	fmt.Fprintln(out, ui.RenderTable([]string{"Started", "Run", "Partition", "Trigger", "Status", "Duration", "Nodes"}, rows, 5))
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := openRunStore()
	if err != nil {
		return err
	}
	entries, err := store.List(0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Report.RunID, args[0]) {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(e.Report)
		}
	}
	return fmt.Errorf("no run matching %q", args[0])
}

func runRunsPrune(cmd *cobra.Command, args []string) error {
	store, err := openRunStore()
	if err != nil {
		return err
	}
	removed, err := store.Prune(runsKeep)
	if err != nil {
		return err
	}
	ui.PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Removed %d run reports", removed))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
