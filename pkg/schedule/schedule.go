// Package schedule fires the pipeline once per day at a fixed clock time in a
// fixed time zone.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tgpipeline/pkg/config"
	"tgpipeline/pkg/logger"
	"tgpipeline/pkg/pipeline"
)

// Triggerer starts a pipeline run
type Triggerer interface {
	Trigger(ctx context.Context, source string) (*pipeline.Report, error)
}

// Scheduler invokes the Triggerer on every daily tick
type Scheduler struct {
	cron   *cron.Cron
	spec   string
	loc    *time.Location
	target Triggerer
	logger logger.Logger

	mu    sync.Mutex
	ctx   context.Context
	entry cron.EntryID
}

// New prepares a scheduler for cfg. Nothing fires until Start.
func New(cfg config.ScheduleConfig, target Triggerer, log logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	spec, err := cfg.CronSpec()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		spec:   spec,
		loc:    loc,
		target: target,
		logger: log.WithField("component", "scheduler"),
		ctx:    context.Background(),
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{s.logger}),
		cron.WithChain(cron.Recover(cronLogger{s.logger})),
	)
	id, err := s.cron.AddFunc(spec, s.fire)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Start begins firing. Runs triggered by the scheduler inherit ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.InfoWithFields("Scheduler started", map[string]interface{}{
		"spec":     s.spec,
		"timezone": s.loc.String(),
		"next_run": s.Next(),
	})
}

// Run starts the scheduler and blocks until ctx is done, then waits for a
// running trigger to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	<-s.Stop().Done()
	return nil
}

// Stop halts future ticks. The returned context is done once any running
// trigger has returned.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("Scheduler stopping")
	return s.cron.Stop()
}

// Next returns the next tick, or the zero time before Start
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Spec returns the five-field cron spec in use
func (s *Scheduler) Spec() string {
	return s.spec
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	report, err := s.target.Trigger(ctx, pipeline.TriggerSchedule)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		// Already logged and counted by the orchestrator.
		return
	case err != nil:
		s.logger.WithError(err).Error("Scheduled trigger could not start")
		return
	}

	s.logger.InfoWithFields("Scheduled trigger finished", map[string]interface{}{
		"run_id":   report.RunID,
		"status":   report.Status,
		"next_run": s.Next(),
	})
}

// NextRun computes the first tick of cfg strictly after from
func NextRun(cfg config.ScheduleConfig, from time.Time) (time.Time, error) {
	spec, err := cfg.CronSpec()
	if err != nil {
		return time.Time{}, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return time.Time{}, err
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return sched.Next(from.In(loc)), nil
}

// cronLogger routes cron's own messages into the pipeline logger
type cronLogger struct {
	logger logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.DebugWithFields("cron: "+msg, fields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).ErrorWithFields("cron: "+msg, fields(keysAndValues))
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}
