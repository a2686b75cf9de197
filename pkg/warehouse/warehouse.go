// Package warehouse lands raw and enriched batches as semi-structured rows.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"tgpipeline/pkg/config"
	"tgpipeline/pkg/logger"
	"tgpipeline/pkg/metrics"
)

// Warehouse is a connection to the target database
type Warehouse struct {
	db      *sql.DB
	dialect Dialect
	metrics *metrics.Collector
	logger  logger.Logger
}

// Open connects using cfg, retrying the initial ping with backoff
func Open(ctx context.Context, cfg config.WarehouseConfig, m *metrics.Collector, log logger.Logger) (*Warehouse, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	if dialect.Name == SQLite.Name {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("create warehouse directory: %w", err)
		}
	}

	db, err := sql.Open(dialect.DriverName, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open %s warehouse: %w", dialect.Name, err)
	}
	if dialect.Name == SQLite.Name {
		db.SetMaxOpenConns(1)
	}

	if err := ping(ctx, db, cfg.ConnectRetries, cfg.ConnectBackoff, log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to %s warehouse: %w", dialect.Name, err)
	}

	log.WithField("driver", dialect.Name).Info("Connected to warehouse")
	return New(db, dialect, m, log), nil
}

// New wraps an open database handle
func New(db *sql.DB, dialect Dialect, m *metrics.Collector, log logger.Logger) *Warehouse {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Warehouse{db: db, dialect: dialect, metrics: m, logger: log}
}

func ping(ctx context.Context, db *sql.DB, retries int, backoff time.Duration, log logger.Logger) error {
	if retries < 0 {
		retries = 0
	}
	if backoff <= 0 {
		backoff = time.Second
	}

	policy := retrypolicy.NewBuilder[any]().
		WithMaxRetries(retries).
		WithBackoff(backoff, backoff*8).
		OnRetry(func(e failsafe.ExecutionEvent[any]) {
			log.WithError(e.LastError()).WithField("attempt", e.Attempts()).Warn("Warehouse not reachable, retrying")
		}).
		Build()

	_, err := failsafe.With[any](policy).WithContext(ctx).Get(func() (any, error) {
		return nil, db.PingContext(ctx)
	})
	return err
}

// Dialect returns the warehouse dialect
func (w *Warehouse) Dialect() Dialect {
	return w.dialect
}

// Close closes the connection
func (w *Warehouse) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Bootstrap creates the raw namespace and tables if absent. It is safe to
// call on every run.
func (w *Warehouse) Bootstrap(ctx context.Context) error {
	for _, stmt := range w.dialect.bootstrap {
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap warehouse: %w", err)
		}
	}
	w.logger.WithFields(map[string]interface{}{
		"messages_table":   w.dialect.MessagesTable,
		"detections_table": w.dialect.DetectionsTable,
	}).Debug("Warehouse tables are ready")
	return nil
}

// Counts holds row counts of the raw tables
type Counts struct {
	Messages   int64 `json:"telegram_messages"`
	Detections int64 `json:"image_detections"`
}

// CountRows counts the rows of both raw tables
func (w *Warehouse) CountRows(ctx context.Context) (Counts, error) {
	var counts Counts
	targets := []struct {
		table string
		dst   *int64
	}{
		{w.dialect.MessagesTable, &counts.Messages},
		{w.dialect.DetectionsTable, &counts.Detections},
	}
	for _, t := range targets {
		table, dst := t.table, t.dst
		query, args, err := w.dialect.countRows(table)
		if err != nil {
			return counts, err
		}
		if err := w.db.QueryRowContext(ctx, query, args...).Scan(dst); err != nil {
			return counts, fmt.Errorf("count %s: %w", table, err)
		}
	}
	return counts, nil
}
