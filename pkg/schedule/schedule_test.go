package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgpipeline/pkg/config"
	"tgpipeline/pkg/logger"
	"tgpipeline/pkg/pipeline"
)

type fakeTarget struct {
	mu      sync.Mutex
	err     error
	sources []string
	ctxs    []context.Context
}

func (f *fakeTarget) Trigger(ctx context.Context, source string) (*pipeline.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, source)
	f.ctxs = append(f.ctxs, ctx)
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Report{RunID: "run-1", Status: pipeline.RunSucceeded}, nil
}

func TestNextRunUsesConfiguredZone(t *testing.T) {
	cfg := config.ScheduleConfig{Time: "00:00", Timezone: "Africa/Addis_Ababa"}

	// 23:59 in Addis Ababa (UTC+3).
	from := time.Date(2024, 1, 1, 20, 59, 0, 0, time.UTC)
	next, err := NextRun(cfg, from)
	require.NoError(t, err)
	assert.True(t, next.Equal(time.Date(2024, 1, 1, 21, 0, 0, 0, time.UTC)), "got %s", next)
}

func TestNextRunIsStrictlyAfter(t *testing.T) {
	cfg := config.ScheduleConfig{Time: "06:30"}
	from := time.Date(2024, 1, 1, 6, 30, 0, 0, time.UTC)

	next, err := NextRun(cfg, from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 6, 30, 0, 0, time.UTC), next.UTC())
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(config.ScheduleConfig{Time: "25:00"}, &fakeTarget{}, logger.NewNopLogger())
	assert.Error(t, err)

	_, err = New(config.ScheduleConfig{Time: "00:00", Timezone: "Mars/Olympus"}, &fakeTarget{}, logger.NewNopLogger())
	assert.Error(t, err)

	_, err = NextRun(config.ScheduleConfig{Time: "noon"}, time.Now())
	assert.Error(t, err)
}

func TestStartSchedulesNextTick(t *testing.T) {
	s, err := New(config.ScheduleConfig{Time: "03:15", Timezone: "UTC"}, &fakeTarget{}, logger.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, "15 3 * * *", s.Spec())
	assert.True(t, s.Next().IsZero())

	s.Start(context.Background())
	defer s.Stop()

	next := s.Next()
	require.False(t, next.IsZero())
	assert.Equal(t, 3, next.Hour())
	assert.Equal(t, 15, next.Minute())
	assert.True(t, next.After(time.Now()))
}

func TestFireTriggersWithScheduleSource(t *testing.T) {
	target := &fakeTarget{}
	log := logger.NewTestLogger()
	s, err := New(config.ScheduleConfig{Time: "00:00"}, target, log)
	require.NoError(t, err)

	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "daemon")
	s.Start(ctx)
	defer s.Stop()

	s.fire()
	require.Equal(t, []string{pipeline.TriggerSchedule}, target.sources)
	assert.Equal(t, "daemon", target.ctxs[0].Value(key{}))
	assert.True(t, log.HasMessage("Scheduled trigger finished"))
}

func TestFireOverlapIsNotReportedAsError(t *testing.T) {
	target := &fakeTarget{err: pipeline.ErrRunInProgress}
	log := logger.NewTestLogger()
	s, err := New(config.ScheduleConfig{Time: "00:00"}, target, log)
	require.NoError(t, err)

	s.fire()
	assert.Len(t, target.sources, 1)
	assert.False(t, log.HasError())
}

func TestFireLogsStartFailure(t *testing.T) {
	target := &fakeTarget{err: errors.New("failed to create lock directory")}
	log := logger.NewTestLogger()
	s, err := New(config.ScheduleConfig{Time: "00:00"}, target, log)
	require.NoError(t, err)

	s.fire()
	assert.True(t, log.HasError())
	assert.True(t, log.HasMessage("Scheduled trigger could not start"))
}

func TestRunReturnsWhenContextDone(t *testing.T) {
	s, err := New(config.ScheduleConfig{Time: "00:00"}, &fakeTarget{}, logger.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
