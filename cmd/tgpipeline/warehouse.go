package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"tgpipeline/pkg/logger"
	"tgpipeline/pkg/metrics"
	"tgpipeline/pkg/ui"
)

// warehouseCmd groups warehouse maintenance commands
var warehouseCmd = &cobra.Command{
	Use:   "warehouse",
	Short: "Inspect and prepare the warehouse",
}

var warehouseBootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the raw schema and tables",
	Long: `Create the raw schema (postgres only) and the telegram_messages and
image_detections tables if they do not exist. The load node does this on
every run; this command is for preparing a fresh database ahead of time.`,
	RunE: runWarehouseBootstrap,
}

var warehouseCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count rows in the raw tables",
	RunE:  runWarehouseCount,
}

func init() {
	warehouseCmd.AddCommand(warehouseBootstrapCmd, warehouseCountCmd)
	rootCmd.AddCommand(warehouseCmd)
}

func runWarehouseBootstrap(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	wh, err := openWarehouse(cmd.Context(), cfg, metrics.New(), logger.GetLogger())
	if err != nil {
		return err
	}
	defer wh.Close()

	if err := wh.Bootstrap(cmd.Context()); err != nil {
		return err
	}
	ui.PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Warehouse tables ready (%s)", cfg.Warehouse.Driver))
	return nil
}

func runWarehouseCount(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	wh, err := openWarehouse(cmd.Context(), cfg, metrics.New(), logger.GetLogger())
	if err != nil {
		return err
	}
	defer wh.Close()

	counts, err := wh.CountRows(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.RenderTable([]string{"Table", "Rows"}, [][]string{
		{"telegram_messages", strconv.FormatInt(counts.Messages, 10)},
		{"image_detections", strconv.FormatInt(counts.Detections, 10)},
	}, 1))
	return nil
}
