package runlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgpipeline/pkg/logger"
	"tgpipeline/pkg/pipeline"
)

func report(id string, started time.Time, status string) *pipeline.Report {
	return &pipeline.Report{
		RunID:      id,
		Partition:  started.Format("2006-01-02"),
		Trigger:    pipeline.TriggerSchedule,
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Duration:   time.Minute,
		Status:     status,
		Nodes: []pipeline.NodeResult{
			{Name: pipeline.NodeScrape, Status: pipeline.StatusSucceeded},
			{Name: pipeline.NodeEnrich, Status: pipeline.StatusFailed, Error: "failed to load detection model"},
			{Name: pipeline.NodeLoad, Status: pipeline.StatusBlocked},
		},
	}
}

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "runs"), logger.NewNopLogger())
	require.NoError(t, err)
	return s
}

func TestSaveAndLatest(t *testing.T) {
	s := newStore(t)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(report("run-a", day, pipeline.RunSucceeded)))
	require.NoError(t, s.Save(report("run-b", day.Add(24*time.Hour), pipeline.RunFailed)))

	latest, err := s.Latest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "run-b", latest.RunID)
	assert.Equal(t, pipeline.RunFailed, latest.Status)
	require.Len(t, latest.Nodes, 3)
	assert.Equal(t, pipeline.StatusBlocked, latest.Nodes[2].Status)

	files, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "20240101T000000Z_run-a.json", files[0].Name())
}

func TestLatestWithoutRuns(t *testing.T) {
	s := newStore(t)
	latest, err := s.Latest()
	assert.NoError(t, err)
	assert.Nil(t, latest)
}

func TestListNewestFirstWithLimit(t *testing.T) {
	s := newStore(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, s.Save(report(id, start.Add(time.Duration(i)*time.Hour), pipeline.RunSucceeded)))
	}

	all, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r3", all[0].Report.RunID)
	assert.Equal(t, "r1", all[2].Report.RunID)

	two, err := s.List(2)
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.Equal(t, "r2", two[1].Report.RunID)
}

func TestListSkipsUnreadableReports(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save(report("good", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), pipeline.RunSucceeded)))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "20990101T000000Z_bad.json"), []byte("{"), 0644))

	entries, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "good", entries[0].Report.RunID)
}

func TestSaveRejectsReportWithoutRunID(t *testing.T) {
	s := newStore(t)
	assert.Error(t, s.Save(&pipeline.Report{}))
	assert.Error(t, s.Save(nil))
}

func TestPrune(t *testing.T) {
	s := newStore(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3", "r4"} {
		require.NoError(t, s.Save(report(id, start.Add(time.Duration(i)*time.Hour), pipeline.RunSucceeded)))
	}

	removed, err := s.Prune(2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	entries, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "r4", entries[0].Report.RunID)
	assert.Equal(t, "r3", entries[1].Report.RunID)

	removed, err = s.Prune(5)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
