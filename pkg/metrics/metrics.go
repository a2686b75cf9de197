// Package metrics exposes pipeline counters on a private Prometheus registry.
// Every method is safe on a nil *Collector, so components can run without
// metrics in tests and one-shot commands.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "tgpipeline"

// Collector holds the pipeline metrics
type Collector struct {
	registry *prometheus.Registry

	runsTotal        *prometheus.CounterVec
	lastRunTimestamp prometheus.Gauge
	nodeResults      *prometheus.CounterVec
	nodeDuration     *prometheus.HistogramVec
	triggersSkipped  prometheus.Counter

	messagesScraped *prometheus.CounterVec
	channelFailures *prometheus.CounterVec
	mediaFailures   *prometheus.CounterVec
	rateLimitWaits  *prometheus.CounterVec
	rateLimitSecs   *prometheus.CounterVec

	imagesProcessed *prometheus.CounterVec
	detectionsFound prometheus.Counter
	rowsLoaded      *prometheus.CounterVec
}

// New creates a collector with its own registry
func New() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Pipeline triggers by final status",
	}, []string{"status"})

	c.lastRunTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last trigger finished",
	})

	c.nodeResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "node_results_total",
		Help:      "Graph node outcomes",
	}, []string{"node", "status"})

	c.nodeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "node_duration_seconds",
		Help:      "Graph node execution time",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800, 3600},
	}, []string{"node"})

	c.triggersSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triggers_skipped_total",
		Help:      "Triggers refused because a run was already in flight",
	})

	c.messagesScraped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_scraped_total",
		Help:      "Messages persisted per channel",
	}, []string{"channel"})

	c.channelFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "channel_failures_total",
		Help:      "Channel scrapes that failed",
	}, []string{"channel"})

	c.mediaFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "media_failures_total",
		Help:      "Photo downloads that failed",
	}, []string{"channel"})

	c.rateLimitWaits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_waits_total",
		Help:      "Rate-limit suspensions",
	}, []string{"channel"})

	c.rateLimitSecs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_wait_seconds_total",
		Help:      "Time spent suspended on rate limits",
	}, []string{"channel"})

	c.imagesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "images_processed_total",
		Help:      "Images seen by enrichment, by outcome",
	}, []string{"outcome"})

	c.detectionsFound = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "detections_total",
		Help:      "Detections written",
	})

	c.rowsLoaded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_loaded_total",
		Help:      "Rows inserted into the warehouse",
	}, []string{"table"})

	c.registry.MustRegister(
		c.runsTotal, c.lastRunTimestamp, c.nodeResults, c.nodeDuration, c.triggersSkipped,
		c.messagesScraped, c.channelFailures, c.mediaFailures, c.rateLimitWaits, c.rateLimitSecs,
		c.imagesProcessed, c.detectionsFound, c.rowsLoaded,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry to serve, or nil
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) RunFinished(status string, at time.Time) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(status).Inc()
	c.lastRunTimestamp.Set(float64(at.Unix()))
}

func (c *Collector) NodeFinished(node, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.nodeResults.WithLabelValues(node, status).Inc()
	c.nodeDuration.WithLabelValues(node).Observe(d.Seconds())
}

func (c *Collector) TriggerSkipped() {
	if c == nil {
		return
	}
	c.triggersSkipped.Inc()
}

func (c *Collector) MessagesScraped(channel string, n int) {
	if c == nil {
		return
	}
	c.messagesScraped.WithLabelValues(channel).Add(float64(n))
}

func (c *Collector) ChannelFailed(channel string) {
	if c == nil {
		return
	}
	c.channelFailures.WithLabelValues(channel).Inc()
}

func (c *Collector) MediaFailed(channel string) {
	if c == nil {
		return
	}
	c.mediaFailures.WithLabelValues(channel).Inc()
}

func (c *Collector) RateLimitWait(channel string, wait time.Duration) {
	if c == nil {
		return
	}
	c.rateLimitWaits.WithLabelValues(channel).Inc()
	c.rateLimitSecs.WithLabelValues(channel).Add(wait.Seconds())
}

// Image outcomes
const (
	ImageDetected = "detected"
	ImageEmpty    = "empty"
	ImageFailed   = "failed"
	ImageSkipped  = "skipped"
)

func (c *Collector) ImageProcessed(outcome string) {
	if c == nil {
		return
	}
	c.imagesProcessed.WithLabelValues(outcome).Inc()
}

func (c *Collector) DetectionsFound(n int) {
	if c == nil {
		return
	}
	c.detectionsFound.Add(float64(n))
}

func (c *Collector) RowsLoaded(table string, n int) {
	if c == nil {
		return
	}
	c.rowsLoaded.WithLabelValues(table).Add(float64(n))
}
