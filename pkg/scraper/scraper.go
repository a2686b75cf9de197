package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"tgpipeline/pkg/logger"
	"tgpipeline/pkg/metrics"
	"tgpipeline/pkg/partition"
	"tgpipeline/pkg/records"
	"tgpipeline/pkg/retry"
	"tgpipeline/pkg/storage"
	"tgpipeline/pkg/telegram"
)

const (
	DefaultMaxMessages = 200
	DefaultWindow      = 24 * time.Hour
)

// ErrInvalidWindow is returned by Run for a negative trailing window
var ErrInvalidWindow = errors.New("scrape window must be positive")

// Options holds the per-run scrape limits. A zero MaxMessages or Window
// falls back to DefaultMaxMessages or DefaultWindow.
type Options struct {
	Channels    []string
	MaxMessages int
	Window      time.Duration
	// Now is the reference time for the trailing window.
	Now func() time.Time
}

// ChannelResult is the outcome of one channel scrape
type ChannelResult struct {
	Channel       string `json:"channel"`
	Messages      int    `json:"messages"`
	Images        int    `json:"images"`
	MediaFailures int    `json:"media_failures"`
	TooOld        int    `json:"too_old"`
	BatchPath     string `json:"batch_path,omitempty"`
	Error         string `json:"error,omitempty"`
	Err           error  `json:"-"`
}

// Summary is the outcome of a scrape over all channels
type Summary struct {
	Partition string          `json:"partition"`
	Channels  []ChannelResult `json:"channels"`
}

// Messages returns the number of persisted messages across channels
func (s *Summary) Messages() int {
	n := 0
	for _, c := range s.Channels {
		n += c.Messages
	}
	return n
}

// Failed returns the channels whose scrape failed
func (s *Summary) Failed() []string {
	var failed []string
	for _, c := range s.Channels {
		if c.Err != nil {
			failed = append(failed, c.Channel)
		}
	}
	return failed
}

// Scraper fetches recent posts and photos for a fixed set of channels
type Scraper struct {
	source  MessageSource
	backoff *retry.Controller
	opts    Options
	metrics *metrics.Collector
	logger  logger.Logger
}

// New creates a new Scraper. backoff wraps each channel scrape; a nil
// backoff gets an unlimited controller.
func New(source MessageSource, backoff *retry.Controller, opts Options, m *metrics.Collector, log logger.Logger) *Scraper {
	if log == nil {
		log = logger.GetLogger()
	}
	if backoff == nil {
		backoff = retry.NewController(retry.WithLogger(log))
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultMaxMessages
	}
	if opts.Window == 0 {
		opts.Window = DefaultWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Scraper{
		source:  source,
		backoff: backoff,
		opts:    opts,
		metrics: m,
		logger:  log,
	}
}

// Run scrapes every channel sequentially into the partition. Channel
// failures are recorded in the summary and never abort the remaining
// channels; only cancellation of ctx makes Run return an error.
func (s *Scraper) Run(ctx context.Context, part partition.Partition) (*Summary, error) {
	store := storage.NewManager(part)
	summary := &Summary{Partition: part.Date()}
	log := s.logger.WithContext(ctx)
	if s.opts.Window < 0 {
		return summary, fmt.Errorf("%w: got %s", ErrInvalidWindow, s.opts.Window)
	}

	for _, channel := range s.opts.Channels {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		var result ChannelResult
		err := s.backoff.Do(ctx, channel, func(ctx context.Context) error {
			var err error
			result, err = s.scrapeChannel(ctx, store, channel)
			return err
		})
		result.Channel = channel

		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			result.Err = err
			result.Error = err.Error()
			s.metrics.ChannelFailed(channel)
			log.WithError(err).WithField("channel", channel).Error("Failed to scrape channel")
		}
		summary.Channels = append(summary.Channels, result)
	}

	log.InfoWithFields("Scrape finished", map[string]interface{}{
		"partition": part.Date(),
		"channels":  len(summary.Channels),
		"messages":  summary.Messages(),
		"failed":    summary.Failed(),
	})
	return summary, nil
}

// scrapeChannel runs one full pass over a channel. It is re-run from the
// start after a rate-limit wait.
func (s *Scraper) scrapeChannel(ctx context.Context, store *storage.Manager, name string) (ChannelResult, error) {
	result := ChannelResult{Channel: name}
	log := s.logger.WithContext(ctx).WithField("channel", name)

	channel, err := s.source.ResolveChannel(ctx, name)
	if err != nil {
		return result, fmt.Errorf("failed to resolve channel %s: %w", name, err)
	}
	log.Info("Starting scrape for channel")

	now := s.opts.Now()
	cutoff := now.Add(-s.opts.Window)
	var batch []records.RawMessage

	err = s.source.IterMessages(ctx, name, s.opts.MaxMessages, func(msg telegram.Message) error {
		if msg.Date.Before(cutoff) {
			result.TooOld++
			return nil
		}

		raw := records.RawMessage{
			ID:           msg.ID,
			Channel:      name,
			ChannelTitle: channel.Title,
			Date:         msg.Date,
			Message:      msg.Text,
			Views:        msg.Views,
			PhotoURL:     msg.PhotoURL,
			ScrapedAt:    now,
		}
		if msg.HasPhoto() {
			if path, err := s.savePhoto(ctx, store, msg); err != nil {
				result.MediaFailures++
				s.metrics.MediaFailed(name)
				log.WithError(err).WithField("message_id", msg.ID).Error("Failed to download image")
			} else {
				result.Images++
				raw.ImagePath = &path
			}
		}
		batch = append(batch, raw)
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("failed to iterate messages of %s: %w", name, err)
	}

	if len(batch) == 0 {
		log.WithField("too_old", result.TooOld).Info("No messages within window, nothing written")
		return result, nil
	}

	path, err := store.WriteMessages(name, batch)
	if err != nil {
		return result, err
	}
	result.Messages = len(batch)
	result.BatchPath = path
	s.metrics.MessagesScraped(name, len(batch))

	log.InfoWithFields("Saved messages", map[string]interface{}{
		"messages": len(batch),
		"images":   result.Images,
		"path":     path,
	})
	return result, nil
}

func (s *Scraper) savePhoto(ctx context.Context, store *storage.Manager, msg telegram.Message) (string, error) {
	if store.HasImage(msg.ID) {
		return store.Partition().ImagePath(msg.ID), nil
	}

	data, err := s.source.DownloadPhoto(ctx, msg.PhotoURL)
	if err != nil {
		return "", err
	}
	return store.SaveImage(bytes.NewReader(data), msg.ID)
}
