package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"tgpipeline/pkg/logger"
	"tgpipeline/pkg/metrics"
	"tgpipeline/pkg/partition"
)

// ErrRunInProgress is returned when a trigger arrives while another run holds the lock
var ErrRunInProgress = errors.New("pipeline run already in progress")

// Trigger sources
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Run statuses
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Report describes one trigger of the pipeline
type Report struct {
	RunID      string        `json:"run_id"`
	Partition  string        `json:"partition"`
	Trigger    string        `json:"trigger"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Status     string        `json:"status"`
	Nodes      []NodeResult  `json:"nodes"`
}

// Succeeded reports whether every node of the run succeeded
func (r *Report) Succeeded() bool {
	return r != nil && r.Status == RunSucceeded
}

// Node returns the result of the named node
func (r *Report) Node(name string) (NodeResult, bool) {
	for _, n := range r.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return NodeResult{}, false
}

// Ledger persists run reports
type Ledger interface {
	Save(report *Report) error
}

// Options configures the orchestrator
type Options struct {
	DataDir string
	// Location decides the calendar date of a scheduled trigger.
	Location *time.Location
	// LockFile guards against a second process running the pipeline. Empty disables it.
	LockFile string
	Ledger   Ledger
	Metrics  *metrics.Collector
	Now      func() time.Time
}

// Orchestrator runs the graph, one trigger at a time
type Orchestrator struct {
	graph  *Graph
	opts   Options
	logger logger.Logger

	running sync.Mutex

	mu     sync.RWMutex
	latest *Report
}

// New creates an orchestrator for graph
func New(graph *Graph, opts Options, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{graph: graph, opts: opts, logger: log}
}

// Graph returns the executed graph
func (o *Orchestrator) Graph() *Graph {
	return o.graph
}

// Trigger runs the whole graph for today's partition in the configured time zone.
func (o *Orchestrator) Trigger(ctx context.Context, source string) (*Report, error) {
	part := partition.New(o.opts.DataDir, o.opts.Now().In(o.opts.Location))
	return o.RunPartition(ctx, part, source)
}

// RunPartition runs the whole graph for part. A failed node does not make this
// return an error; inspect the report instead. The error is reserved for runs
// that could not start.
func (o *Orchestrator) RunPartition(ctx context.Context, part partition.Partition, source string) (*Report, error) {
	release, err := o.acquire(source)
	if err != nil {
		return nil, err
	}
	defer release()

	report, ctx := o.begin(ctx, part, source)
	log := o.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"partition": part.Date(),
		"trigger":   source,
	})
	log.Info("Pipeline run started")

	results, err := o.graph.Execute(ctx, part, o.observe(log))
	if err != nil {
		return nil, fmt.Errorf("failed to execute graph: %w", err)
	}
	report.Nodes = results
	o.finish(report, log)
	return report, nil
}

// RunNode runs a single node for part without checking its dependencies.
func (o *Orchestrator) RunNode(ctx context.Context, name string, part partition.Partition) (*Report, error) {
	node, ok := o.graph.index[name]
	if !ok {
		return nil, fmt.Errorf("unknown node %q", name)
	}

	release, err := o.acquire(TriggerManual)
	if err != nil {
		return nil, err
	}
	defer release()

	report, ctx := o.begin(ctx, part, TriggerManual)
	log := o.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"partition": part.Date(),
		"node":      name,
	})
	log.Info("Running single node")

	res := runNode(ctx, node, part)
	o.observe(log)(res)
	report.Nodes = []NodeResult{res}
	o.finish(report, log)
	return report, nil
}

// Latest returns the report of the most recent run in this process
func (o *Orchestrator) Latest() *Report {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.latest
}

// acquire takes the in-process and cross-process locks. An overlapping
// trigger is logged and counted before ErrRunInProgress is returned.
func (o *Orchestrator) acquire(source string) (func(), error) {
	skipped := func(reason string) error {
		o.logger.WarnWithFields("Trigger skipped, a run is already in progress", map[string]interface{}{
			"trigger": source,
			"holder":  reason,
		})
		o.opts.Metrics.TriggerSkipped()
		return ErrRunInProgress
	}

	if !o.running.TryLock() {
		return nil, skipped("process")
	}
	if o.opts.LockFile == "" {
		return o.running.Unlock, nil
	}

	if err := os.MkdirAll(filepath.Dir(o.opts.LockFile), 0755); err != nil {
		o.running.Unlock()
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	fileLock := flock.New(o.opts.LockFile)
	locked, err := fileLock.TryLock()
	if err != nil {
		o.running.Unlock()
		return nil, fmt.Errorf("failed to lock %s: %w", o.opts.LockFile, err)
	}
	if !locked {
		o.running.Unlock()
		return nil, skipped("lock_file")
	}

	return func() {
		if err := fileLock.Unlock(); err != nil {
			o.logger.WithError(err).Warn("Failed to release run lock")
		}
		o.running.Unlock()
	}, nil
}

func (o *Orchestrator) begin(ctx context.Context, part partition.Partition, source string) (*Report, context.Context) {
	report := &Report{
		RunID:     uuid.NewString(),
		Partition: part.Date(),
		Trigger:   source,
		StartedAt: o.opts.Now(),
	}
	return report, logger.ContextWithRunID(ctx, report.RunID)
}

func (o *Orchestrator) observe(log logger.Logger) func(NodeResult) {
	return func(res NodeResult) {
		o.opts.Metrics.NodeFinished(res.Name, string(res.Status), res.Duration)

		entry := log.WithFields(map[string]interface{}{
			"node":     res.Name,
			"status":   string(res.Status),
			"duration": res.Duration,
		})
		switch res.Status {
		case StatusSucceeded:
			entry.Info("Node succeeded")
		case StatusBlocked:
			entry.WithField("reason", res.Error).Warn("Node blocked")
		default:
			entry.WithField("error", res.Error).Error("Node failed")
		}
	}
}

func (o *Orchestrator) finish(report *Report, log logger.Logger) {
	report.FinishedAt = o.opts.Now()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)
	report.Status = RunSucceeded
	for _, n := range report.Nodes {
		if n.Status != StatusSucceeded {
			report.Status = RunFailed
			break
		}
	}

	o.opts.Metrics.RunFinished(report.Status, report.FinishedAt)

	if o.opts.Ledger != nil {
		if err := o.opts.Ledger.Save(report); err != nil {
			log.WithError(err).Warn("Failed to record run report")
		}
	}

	o.mu.Lock()
	o.latest = report
	o.mu.Unlock()

	entry := log.WithFields(map[string]interface{}{
		"status":   report.Status,
		"duration": report.Duration,
	})
	if report.Status == RunSucceeded {
		entry.Info("Pipeline run finished")
	} else {
		entry.Error("Pipeline run finished with failures")
	}
}
