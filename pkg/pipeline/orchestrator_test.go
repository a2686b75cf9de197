package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgpipeline/pkg/enrich"
	"tgpipeline/pkg/logger"
	"tgpipeline/pkg/metrics"
	"tgpipeline/pkg/partition"
	"tgpipeline/pkg/scraper"
	"tgpipeline/pkg/warehouse"
)

type memLedger struct {
	mu      sync.Mutex
	reports []*Report
}

func (l *memLedger) Save(r *Report) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reports = append(l.reports, r)
	return nil
}

func stubStages() Stages {
	return Stages{
		Scrape: func(ctx context.Context, part partition.Partition) (*scraper.Summary, error) {
			return &scraper.Summary{Partition: part.Date()}, nil
		},
		Enrich: func(ctx context.Context, part partition.Partition) (*enrich.Summary, error) {
			return &enrich.Summary{Partition: part.Date()}, nil
		},
		Load: func(ctx context.Context, part partition.Partition) (*warehouse.LoadSummary, error) {
			return &warehouse.LoadSummary{Partition: part.Date()}, nil
		},
		Transform: func(ctx context.Context) error { return nil },
	}
}

func newTestOrchestrator(t *testing.T, stages Stages, opts Options, log logger.Logger) *Orchestrator {
	t.Helper()
	g, err := BuildGraph(stages)
	require.NoError(t, err)
	if opts.DataDir == "" {
		opts.DataDir = t.TempDir()
	}
	return New(g, opts, log)
}

func TestRunPartitionSucceeds(t *testing.T) {
	ledger := &memLedger{}
	o := newTestOrchestrator(t, stubStages(), Options{Ledger: ledger}, logger.NewNopLogger())

	report, err := o.RunPartition(context.Background(), testPart(t), TriggerManual)
	require.NoError(t, err)

	assert.True(t, report.Succeeded())
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "2024-01-01", report.Partition)
	assert.Equal(t, TriggerManual, report.Trigger)
	require.Len(t, report.Nodes, 4)
	for _, n := range report.Nodes {
		assert.Equal(t, StatusSucceeded, n.Status, n.Name)
	}
	scrape, found := report.Node(NodeScrape)
	require.True(t, found)
	assert.IsType(t, &scraper.Summary{}, scrape.Detail)

	require.Len(t, ledger.reports, 1)
	assert.Same(t, report, ledger.reports[0])
	assert.Same(t, report, o.Latest())
}

func TestLoadNeverSucceedsWhenEnrichFailed(t *testing.T) {
	stages := stubStages()
	stages.Enrich = func(ctx context.Context, part partition.Partition) (*enrich.Summary, error) {
		return nil, errors.New("failed to load detection model")
	}
	loadCalls := 0
	stages.Load = func(ctx context.Context, part partition.Partition) (*warehouse.LoadSummary, error) {
		loadCalls++
		return &warehouse.LoadSummary{}, nil
	}
	m := metrics.New()
	o := newTestOrchestrator(t, stages, Options{Metrics: m}, logger.NewNopLogger())

	report, err := o.RunPartition(context.Background(), testPart(t), TriggerSchedule)
	require.NoError(t, err)

	assert.False(t, report.Succeeded())
	assert.Equal(t, RunFailed, report.Status)
	assert.Zero(t, loadCalls)
	load, _ := report.Node(NodeLoad)
	assert.Equal(t, StatusBlocked, load.Status)
	transform, _ := report.Node(NodeTransform)
	assert.Equal(t, StatusBlocked, transform.Status)

	// The next trigger starts fresh.
	stages.Enrich = func(ctx context.Context, part partition.Partition) (*enrich.Summary, error) {
		return &enrich.Summary{}, nil
	}
	o = newTestOrchestrator(t, stages, Options{Metrics: m}, logger.NewNopLogger())
	report, err = o.RunPartition(context.Background(), testPart(t), TriggerSchedule)
	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	assert.Equal(t, 1, loadCalls)
}

func TestOverlappingTriggerIsLoggedAndCounted(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	stages := stubStages()
	stages.Scrape = func(ctx context.Context, part partition.Partition) (*scraper.Summary, error) {
		close(started)
		<-release
		return &scraper.Summary{}, nil
	}

	m := metrics.New()
	log := logger.NewTestLogger()
	o := newTestOrchestrator(t, stages, Options{Metrics: m}, log)

	part := testPart(t)
	done := make(chan error, 1)
	go func() {
		_, err := o.RunPartition(context.Background(), part, TriggerSchedule)
		done <- err
	}()
	<-started

	_, err := o.Trigger(context.Background(), TriggerSchedule)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)

	assert.True(t, log.HasMessage("Trigger skipped, a run is already in progress"))
	expected := `
# HELP tgpipeline_triggers_skipped_total Triggers refused because a run was already in flight
# TYPE tgpipeline_triggers_skipped_total counter
tgpipeline_triggers_skipped_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "tgpipeline_triggers_skipped_total"))
}

func TestLockFileHeldByAnotherProcessSkipsTrigger(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "run", ".pipeline.lock")
	log := logger.NewTestLogger()
	o := newTestOrchestrator(t, stubStages(), Options{LockFile: lockPath}, log)

	// First run creates the directory and releases the lock afterwards.
	_, err := o.RunPartition(context.Background(), testPart(t), TriggerManual)
	require.NoError(t, err)

	other := flock.New(lockPath)
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Unlock()

	_, err = o.RunPartition(context.Background(), testPart(t), TriggerManual)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.True(t, log.HasMessage("Trigger skipped"))
}

func TestTriggerUsesScheduleTimeZoneForPartition(t *testing.T) {
	eat := time.FixedZone("EAT", 3*60*60)
	var got string
	stages := stubStages()
	stages.Scrape = func(ctx context.Context, part partition.Partition) (*scraper.Summary, error) {
		got = part.Date()
		return &scraper.Summary{}, nil
	}
	o := newTestOrchestrator(t, stages, Options{
		Location: eat,
		Now:      func() time.Time { return time.Date(2024, 1, 1, 22, 30, 0, 0, time.UTC) },
	}, logger.NewNopLogger())

	report, err := o.Trigger(context.Background(), TriggerSchedule)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", got)
	assert.Equal(t, "2024-01-02", report.Partition)
}

func TestRunNodeSkipsDependencyChecks(t *testing.T) {
	transformed := false
	stages := stubStages()
	stages.Scrape = func(ctx context.Context, part partition.Partition) (*scraper.Summary, error) {
		return nil, errors.New("should not run")
	}
	stages.Transform = func(ctx context.Context) error {
		transformed = true
		return nil
	}
	o := newTestOrchestrator(t, stages, Options{}, logger.NewNopLogger())

	report, err := o.RunNode(context.Background(), NodeTransform, testPart(t))
	require.NoError(t, err)
	assert.True(t, transformed)
	assert.True(t, report.Succeeded())
	require.Len(t, report.Nodes, 1)
	assert.Equal(t, NodeTransform, report.Nodes[0].Name)

	_, err = o.RunNode(context.Background(), "publish", testPart(t))
	assert.Error(t, err)
}

func TestRunIDIsAttachedToContext(t *testing.T) {
	var runID string
	stages := stubStages()
	stages.Scrape = func(ctx context.Context, part partition.Partition) (*scraper.Summary, error) {
		runID, _ = logger.RunIDFromContext(ctx)
		return &scraper.Summary{}, nil
	}
	o := newTestOrchestrator(t, stages, Options{}, logger.NewNopLogger())

	report, err := o.RunPartition(context.Background(), testPart(t), TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, runID)
}
