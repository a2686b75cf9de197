package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tgpipeline/pkg/logger"
	"tgpipeline/pkg/metrics"
	"tgpipeline/pkg/runlog"
	"tgpipeline/pkg/schedule"
	"tgpipeline/pkg/ui"
)

// statusCmd summarizes the pipeline state
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the next trigger, the latest run and warehouse row counts",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	log := logger.GetLogger()

	ui.PrintBanner(out)
	ui.PrintInfo(out, "Channels", strings.Join(cfg.Telegram.Channels, ", "))
	ui.PrintInfo(out, "Data dir", cfg.Storage.DataDir)
	ui.PrintInfo(out, "Warehouse", cfg.Warehouse.Driver)

	next, err := schedule.NextRun(cfg.Schedule, time.Now())
	if err != nil {
		return err
	}
	ui.PrintInfo(out, "Next trigger", next.Format(time.RFC1123))

	store, err := runlog.NewStore(cfg.Storage.RunsDir, log)
	if err != nil {
		return err
	}
	latest, err := store.Latest()
	switch {
	case err != nil:
		ui.PrintWarning(out, "Run history unreadable: "+err.Error())
	case latest == nil:
		ui.PrintInfo(out, "Latest run", "none")
	default:
		ui.PrintInfo(out, "Latest run", latest.Partition+" "+ui.Status(latest.Status)+" at "+latest.FinishedAt.Local().Format(time.DateTime))
	}

	wh, err := openWarehouse(cmd.Context(), cfg, metrics.New(), log)
	if err != nil {
		ui.PrintWarning(out, "Warehouse unreachable: "+err.Error())
		return nil
	}
	defer wh.Close()
	counts, err := wh.CountRows(cmd.Context())
	if err != nil {
		ui.PrintWarning(out, "Row counts unavailable: "+err.Error())
		return nil
	}
	ui.PrintInfo(out, "telegram_messages", strconv.FormatInt(counts.Messages, 10))
	ui.PrintInfo(out, "image_detections", strconv.FormatInt(counts.Detections, 10))
	return nil
}
