package main

import (
	"context"
	"errors"
	"sync"

	"github.com/spf13/cobra"

	"tgpipeline/internal/opsserver"
	"tgpipeline/pkg/pipeline"
	"tgpipeline/pkg/schedule"
)

var runNow bool

// scheduleCmd runs the daily trigger as a long-lived process
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the pipeline every day at the configured time",
	Long: `Start the scheduler and, when enabled, the ops HTTP endpoint.

The pipeline is triggered once a day at schedule.time in schedule.timezone.
A trigger that fires while a run is still in progress is skipped and logged.
The process exits on SIGINT or SIGTERM after the current run returns.

Ops endpoints:
  /healthz       liveness and next trigger time
  /metrics       Prometheus metrics
  /runs          recent run reports
  /runs/latest   most recent run report`,
	Example: `  tgpipeline schedule
  tgpipeline schedule --run-now`,
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().BoolVar(&runNow, "run-now", false, "trigger one run immediately on start")
	scheduleCmd.Flags().BoolVar(&skipTransform, "skip-transform", false, "do not run dbt after loading")
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(map[string]interface{}{"skip-transform": skipTransform})
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	sched, err := schedule.New(cfg.Schedule, a.orchestrator, a.log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	start := func(fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- fn(ctx)
		}()
	}

	start(sched.Run)
	if cfg.Ops.Enabled {
		srv := opsserver.New(opsserver.Options{
			Listen:   cfg.Ops.Listen,
			Registry: a.metrics.Registry(),
			Runs:     a.runs,
			NextRun:  sched.Next,
		}, a.log)
		start(srv.Run)
	}

	if runNow {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.orchestrator.Trigger(ctx, pipeline.TriggerManual)
			if err != nil && !errors.Is(err, pipeline.ErrRunInProgress) {
				a.log.WithError(err).Error("Startup run could not start")
			}
		}()
	}

	go func() {
		wg.Wait()
		close(errCh)
	}()

	var firstErr error
	for err := range errCh {
		if err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}
