package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "tgpipeline/pkg/errors"
	"tgpipeline/pkg/logger"
	"tgpipeline/pkg/partition"
	"tgpipeline/pkg/records"
	"tgpipeline/pkg/retry"
	"tgpipeline/pkg/telegram"
)

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// fakeSource serves canned posts per channel, newest first
type fakeSource struct {
	mu            sync.Mutex
	posts         map[string][]telegram.Message
	resolveErr    map[string]error
	photoErr      map[string]error
	rateLimitOnce map[string]time.Duration
	resolveCalls  map[string]int
	limits        map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		posts:         map[string][]telegram.Message{},
		resolveErr:    map[string]error{},
		photoErr:      map[string]error{},
		rateLimitOnce: map[string]time.Duration{},
		resolveCalls:  map[string]int{},
		limits:        map[string]int{},
	}
}

func (f *fakeSource) ResolveChannel(ctx context.Context, name string) (*telegram.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls[name]++
	if wait, ok := f.rateLimitOnce[name]; ok {
		delete(f.rateLimitOnce, name)
		return nil, errs.RateLimited(wait, "flood wait")
	}
	if err := f.resolveErr[name]; err != nil {
		return nil, err
	}
	return &telegram.Channel{Username: name, Title: name + " title"}, nil
}

func (f *fakeSource) IterMessages(ctx context.Context, name string, limit int, fn func(telegram.Message) error) error {
	f.mu.Lock()
	f.limits[name] = limit
	posts := f.posts[name]
	f.mu.Unlock()

	for i, p := range posts {
		if limit > 0 && i >= limit {
			return nil
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSource) DownloadPhoto(ctx context.Context, photoURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.photoErr[photoURL]; err != nil {
		return nil, err
	}
	return []byte("jpeg:" + photoURL), nil
}

func post(channel string, id int64, age time.Duration, photo string) telegram.Message {
	return telegram.Message{ID: id, Channel: channel, Date: testNow.Add(-age), Text: "post", Views: 10, PhotoURL: photo}
}

func newTestScraper(src MessageSource, channels ...string) *Scraper {
	sleeps := retry.WithSleep(func(ctx context.Context, d time.Duration) error { return nil })
	return New(src, retry.NewController(sleeps), Options{
		Channels: channels,
		Now:      func() time.Time { return testNow },
	}, nil, logger.NewNopLogger())
}

func testPartition(t *testing.T) partition.Partition {
	t.Helper()
	p, err := partition.Parse(t.TempDir(), "2024-01-01")
	require.NoError(t, err)
	return p
}

func readBatch(t *testing.T, path string) []records.RawMessage {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var msgs []records.RawMessage
	require.NoError(t, json.Unmarshal(data, &msgs))
	return msgs
}

func TestChannelWithNoQualifyingPostsWritesNothing(t *testing.T) {
	src := newFakeSource()
	src.posts["CheMed123"] = []telegram.Message{
		post("CheMed123", 5, 25*time.Hour, ""),
		post("CheMed123", 4, 48*time.Hour, "https://cdn/4.jpg"),
	}
	part := testPartition(t)

	summary, err := newTestScraper(src, "CheMed123").Run(context.Background(), part)
	require.NoError(t, err)

	require.Len(t, summary.Channels, 1)
	assert.NoError(t, summary.Channels[0].Err)
	assert.Equal(t, 0, summary.Channels[0].Messages)
	assert.Equal(t, 2, summary.Channels[0].TooOld)
	assert.NoFileExists(t, part.MessageBatchPath("CheMed123"))
	assert.NoFileExists(t, part.ImagePath(4))
}

func TestOldPostsAreSkippedButIterationContinues(t *testing.T) {
	src := newFakeSource()
	src.posts["CheMed123"] = []telegram.Message{
		post("CheMed123", 10, time.Hour, ""),
		post("CheMed123", 9, 30*time.Hour, ""),
		post("CheMed123", 8, 2*time.Hour, ""),
	}
	part := testPartition(t)

	summary, err := newTestScraper(src, "CheMed123").Run(context.Background(), part)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Messages())

	msgs := readBatch(t, part.MessageBatchPath("CheMed123"))
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(10), msgs[0].ID)
	assert.Equal(t, int64(8), msgs[1].ID)
	assert.Equal(t, "CheMed123 title", msgs[0].ChannelTitle)
}

func TestMaxMessagesDefaultsTo200(t *testing.T) {
	src := newFakeSource()
	_, err := newTestScraper(src, "CheMed123").Run(context.Background(), testPartition(t))
	require.NoError(t, err)
	assert.Equal(t, 200, src.limits["CheMed123"])
}

func TestMediaFailureKeepsMessageWithNullImagePath(t *testing.T) {
	src := newFakeSource()
	src.posts["CheMed123"] = []telegram.Message{
		post("CheMed123", 101, time.Hour, "https://cdn/101.jpg"),
		post("CheMed123", 100, time.Hour, "https://cdn/100.jpg"),
	}
	src.photoErr["https://cdn/101.jpg"] = errs.New(errs.ErrorTypeServerError, 500, "boom")
	part := testPartition(t)

	summary, err := newTestScraper(src, "CheMed123").Run(context.Background(), part)
	require.NoError(t, err)

	result := summary.Channels[0]
	assert.NoError(t, result.Err)
	assert.Equal(t, 1, result.Images)
	assert.Equal(t, 1, result.MediaFailures)

	msgs := readBatch(t, part.MessageBatchPath("CheMed123"))
	require.Len(t, msgs, 2)
	assert.Nil(t, msgs[0].ImagePath)
	require.NotNil(t, msgs[1].ImagePath)
	assert.Equal(t, part.ImagePath(100), *msgs[1].ImagePath)
	assert.FileExists(t, part.ImagePath(100))
	assert.NoFileExists(t, part.ImagePath(101))
}

func TestMediaRateLimitIsNonFatal(t *testing.T) {
	src := newFakeSource()
	src.posts["CheMed123"] = []telegram.Message{post("CheMed123", 1, time.Hour, "https://cdn/1.jpg")}
	src.photoErr["https://cdn/1.jpg"] = errs.RateLimited(time.Minute, "slow down")
	part := testPartition(t)

	summary, err := newTestScraper(src, "CheMed123").Run(context.Background(), part)
	require.NoError(t, err)
	assert.NoError(t, summary.Channels[0].Err)
	assert.Equal(t, 1, src.resolveCalls["CheMed123"], "media rate limit must not restart the channel")
	assert.Nil(t, readBatch(t, part.MessageBatchPath("CheMed123"))[0].ImagePath)
}

func TestChannelFailureDoesNotAbortOthers(t *testing.T) {
	src := newFakeSource()
	src.resolveErr["tikvahpharma"] = errs.New(errs.ErrorTypeNotFound, 404, "channel not found")
	src.posts["CheMed123"] = []telegram.Message{post("CheMed123", 1, time.Hour, "")}
	part := testPartition(t)

	summary, err := newTestScraper(src, "tikvahpharma", "CheMed123").Run(context.Background(), part)
	require.NoError(t, err)

	require.Len(t, summary.Channels, 2)
	assert.Error(t, summary.Channels[0].Err)
	assert.NotEmpty(t, summary.Channels[0].Error)
	assert.NoError(t, summary.Channels[1].Err)
	assert.Equal(t, []string{"tikvahpharma"}, summary.Failed())
	assert.FileExists(t, part.MessageBatchPath("CheMed123"))
}

func TestRateLimitRetriesWholeChannelOnce(t *testing.T) {
	src := newFakeSource()
	src.rateLimitOnce["CheMed123"] = 5 * time.Second
	src.posts["CheMed123"] = []telegram.Message{post("CheMed123", 1, time.Hour, "")}

	var waits []time.Duration
	controller := retry.NewController(retry.WithSleep(func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}))
	s := New(src, controller, Options{Channels: []string{"CheMed123"}, Now: func() time.Time { return testNow }}, nil, logger.NewNopLogger())

	summary, err := s.Run(context.Background(), testPartition(t))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second}, waits)
	assert.Equal(t, 2, src.resolveCalls["CheMed123"])
	assert.Equal(t, 1, summary.Messages())
}

func TestRetryCeilingFailsOnlyThatChannel(t *testing.T) {
	src := newFakeSource()
	src.resolveErr["tikvahpharma"] = errs.RateLimited(time.Second, "flood wait")
	src.posts["CheMed123"] = []telegram.Message{post("CheMed123", 1, time.Hour, "")}

	controller := retry.NewController(
		retry.WithMaxRetries(2),
		retry.WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
	)
	s := New(src, controller, Options{Channels: []string{"tikvahpharma", "CheMed123"}, Now: func() time.Time { return testNow }}, nil, logger.NewNopLogger())

	summary, err := s.Run(context.Background(), testPartition(t))
	require.NoError(t, err)
	assert.True(t, errors.Is(summary.Channels[0].Err, retry.ErrRetriesExhausted))
	assert.Equal(t, 3, src.resolveCalls["tikvahpharma"])
	assert.NoError(t, summary.Channels[1].Err)
}

func TestCancelledContextStopsRun(t *testing.T) {
	src := newFakeSource()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestScraper(src, "CheMed123").Run(ctx, testPartition(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, src.resolveCalls["CheMed123"])
}

func TestExistingImageIsNotDownloadedAgain(t *testing.T) {
	src := newFakeSource()
	src.posts["CheMed123"] = []telegram.Message{post("CheMed123", 7, time.Hour, "https://cdn/7.jpg")}
	part := testPartition(t)
	require.NoError(t, os.MkdirAll(part.ImagesDir(), 0755))
	require.NoError(t, os.WriteFile(part.ImagePath(7), []byte("earlier"), 0644))
	src.photoErr["https://cdn/7.jpg"] = errors.New("must not be called")

	summary, err := newTestScraper(src, "CheMed123").Run(context.Background(), part)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Channels[0].MediaFailures)

	data, err := os.ReadFile(part.ImagePath(7))
	require.NoError(t, err)
	assert.Equal(t, "earlier", string(data))
}

func TestZeroWindowUsesDefault(t *testing.T) {
	src := newFakeSource()
	src.posts["CheMed123"] = []telegram.Message{
		post("CheMed123", 2, 23*time.Hour, ""),
		post("CheMed123", 1, 25*time.Hour, ""),
	}

	summary, err := newTestScraper(src, "CheMed123").Run(context.Background(), testPartition(t))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Messages())
	assert.Equal(t, 1, summary.Channels[0].TooOld)
}

func TestNegativeWindowIsRejected(t *testing.T) {
	src := newFakeSource()
	src.posts["CheMed123"] = []telegram.Message{post("CheMed123", 1, time.Hour, "")}
	s := New(src, nil, Options{Channels: []string{"CheMed123"}, Window: -time.Hour}, nil, logger.NewNopLogger())

	_, err := s.Run(context.Background(), testPartition(t))
	assert.ErrorIs(t, err, ErrInvalidWindow)
	assert.Zero(t, src.resolveCalls["CheMed123"])
}
