package main

import (
	"context"
	"fmt"
	"time"

	"tgpipeline/pkg/auth"
	"tgpipeline/pkg/config"
	"tgpipeline/pkg/detect"
	"tgpipeline/pkg/enrich"
	"tgpipeline/pkg/logger"
	"tgpipeline/pkg/metrics"
	"tgpipeline/pkg/partition"
	"tgpipeline/pkg/pipeline"
	"tgpipeline/pkg/ratelimit"
	"tgpipeline/pkg/retry"
	"tgpipeline/pkg/runlog"
	"tgpipeline/pkg/scraper"
	"tgpipeline/pkg/telegram"
	"tgpipeline/pkg/transform"
	"tgpipeline/pkg/warehouse"
)

// app holds the components built from one configuration
type app struct {
	cfg          *config.Config
	log          logger.Logger
	metrics      *metrics.Collector
	location     *time.Location
	runs         *runlog.Store
	orchestrator *pipeline.Orchestrator
}

func newApp(cfg *config.Config) (*app, error) {
	log := logger.GetLogger()
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		metrics:  metrics.New(),
		location: loc,
	}

	client := telegram.NewClient(telegram.Options{
		BaseURL:     cfg.Telegram.BaseURL,
		UserAgent:   cfg.Telegram.UserAgent,
		Timeout:     cfg.Telegram.RequestTimeout,
		DefaultWait: cfg.RateLimit.DefaultWait,
		Limiter:     ratelimit.PerMinute(cfg.RateLimit.RequestsPerMinute),
	}, log)
	backoff := retry.NewController(
		retry.WithMaxRetries(cfg.RateLimit.MaxFloodRetries),
		retry.WithOnWait(a.metrics.RateLimitWait),
		retry.WithLogger(log),
	)
	scrape := scraper.New(client, backoff, scraper.Options{
		Channels:    cfg.Telegram.Channels,
		MaxMessages: cfg.Telegram.MaxMessages,
		Window:      cfg.Telegram.Window,
	}, a.metrics, log)

	detector := detect.NewClient(cfg.Enrichment.Endpoint, cfg.Enrichment.APIKey, cfg.Enrichment.Model, cfg.Enrichment.Timeout)
	enrichStage := enrich.NewStage(detector, enrich.Options{
		Workers:    cfg.Enrichment.Workers,
		Extensions: cfg.Enrichment.Extensions,
	}, a.metrics, log)

	dbt := transform.NewDBT(cfg.Transform, log)

	graph, err := pipeline.BuildGraph(pipeline.Stages{
		Scrape:    scrape.Run,
		Enrich:    enrichStage.Run,
		Load:      a.load,
		Transform: dbt.Build,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline graph: %w", err)
	}

	a.runs, err = runlog.NewStore(cfg.Storage.RunsDir, log)
	if err != nil {
		return nil, err
	}

	a.orchestrator = pipeline.New(graph, pipeline.Options{
		DataDir:  cfg.Storage.DataDir,
		Location: loc,
		LockFile: cfg.Storage.LockFile,
		Ledger:   a.runs,
		Metrics:  a.metrics,
	}, log)
	return a, nil
}

// load connects per run so an unreachable warehouse fails only the load node.
func (a *app) load(ctx context.Context, part partition.Partition) (*warehouse.LoadSummary, error) {
	wh, err := a.openWarehouse(ctx)
	if err != nil {
		return nil, err
	}
	defer wh.Close()
	return wh.Load(ctx, part)
}

func (a *app) openWarehouse(ctx context.Context) (*warehouse.Warehouse, error) {
	return openWarehouse(ctx, a.cfg, a.metrics, a.log)
}

// openWarehouse fills a missing postgres password from the credential stores
// before connecting.
func openWarehouse(ctx context.Context, cfg *config.Config, m *metrics.Collector, log logger.Logger) (*warehouse.Warehouse, error) {
	whCfg := cfg.Warehouse
	if whCfg.Driver == "postgres" && whCfg.Password == "" {
		manager, err := auth.NewManager()
		if err != nil {
			log.WithError(err).Warn("Credential stores unavailable")
		} else if err := manager.Resolve(&whCfg); err != nil {
			log.WithError(err).WithField("profile", auth.ProfileFor(whCfg)).Debug("No stored warehouse password")
		}
	}
	return warehouse.Open(ctx, whCfg, m, log)
}

// partitionFor returns the partition named by date, or today's in the
// schedule time zone when date is empty.
func (a *app) partitionFor(date string) (partition.Partition, error) {
	if date == "" {
		return partition.Today(a.cfg.Storage.DataDir, a.location), nil
	}
	return partition.Parse(a.cfg.Storage.DataDir, date)
}
