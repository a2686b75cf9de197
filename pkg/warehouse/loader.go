package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"tgpipeline/pkg/logger"
	"tgpipeline/pkg/partition"
	"tgpipeline/pkg/records"
	"tgpipeline/pkg/storage"
)

// ErrMalformedBatch marks a batch file that is not a JSON array of objects
var ErrMalformedBatch = errors.New("malformed batch file")

// LoadSummary is the outcome of loading one partition
type LoadSummary struct {
	Partition          string `json:"partition"`
	Files              int    `json:"files"`
	Messages           int    `json:"messages"`
	Detections         int    `json:"detections"`
	MessagesDirMissing bool   `json:"messages_dir_missing,omitempty"`
	DetectionsMissing  bool   `json:"detections_missing,omitempty"`
}

// Load bootstraps the tables, then inserts the partition's message batches in
// one transaction and its detections in a second one. A malformed message
// batch rolls back every message insert of the run and fails the load.
func (w *Warehouse) Load(ctx context.Context, part partition.Partition) (_ *LoadSummary, err error) {
	summary := &LoadSummary{Partition: part.Date()}
	log := w.logger.WithContext(ctx)
	started := time.Now()
	logger.LogStageStart(log, "load", map[string]interface{}{"partition": part.Date()})
	defer func() { logger.LogStageFinish(log, "load", started, err) }()

	if err := w.Bootstrap(ctx); err != nil {
		return summary, err
	}

	summary.MessagesDirMissing = !exists(part.MessagesDir())
	files, rows, err := w.LoadMessages(ctx, part)
	summary.Files, summary.Messages = files, rows
	if err != nil {
		return summary, err
	}

	summary.DetectionsMissing = !exists(part.DetectionsPath())
	rows, err = w.LoadDetections(ctx, part)
	summary.Detections = rows
	if err != nil {
		return summary, err
	}

	log.InfoWithFields("All new data has been loaded", map[string]interface{}{
		"partition":  part.Date(),
		"files":      summary.Files,
		"messages":   summary.Messages,
		"detections": summary.Detections,
	})
	return summary, nil
}

// LoadMessages inserts every element of every batch file, tagged with the
// file name. A missing directory is logged and loads nothing.
func (w *Warehouse) LoadMessages(ctx context.Context, part partition.Partition) (int, int, error) {
	log := w.logger.WithContext(ctx)
	files, err := storage.NewManager(part).MessageBatches()
	if errors.Is(err, fs.ErrNotExist) {
		log.WithField("dir", part.MessagesDir()).Warn("Directory not found, no new data to load")
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}

	rows := 0
	err = w.inTx(ctx, func(tx *sql.Tx) error {
		for _, path := range files {
			items, err := readBatch(path, records.KindMessage)
			if err != nil {
				return err
			}

			name := filepath.Base(path)
			for _, item := range items {
				query, args, err := w.dialect.insertMessage(item)
				if err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, query, args...); err != nil {
					return fmt.Errorf("insert message from %s: %w", name, err)
				}
			}
			rows += len(items)
			log.WithFields(map[string]interface{}{"file": name, "rows": len(items)}).Info("Loaded data from file")
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	w.metrics.RowsLoaded(w.dialect.MessagesTable, rows)
	return len(files), rows, nil
}

// LoadDetections inserts every detection of the partition. A missing file is
// logged and loads nothing.
func (w *Warehouse) LoadDetections(ctx context.Context, part partition.Partition) (int, error) {
	log := w.logger.WithContext(ctx)
	path := part.DetectionsPath()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		log.WithField("file", path).Warn("No image detection data file found to load")
		return 0, nil
	}

	items, err := readBatch(path, records.KindDetection)
	if err != nil {
		return 0, err
	}

	err = w.inTx(ctx, func(tx *sql.Tx) error {
		for _, item := range items {
			query, args, err := w.dialect.insertDetection(item)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert detection: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	w.metrics.RowsLoaded(w.dialect.DetectionsTable, len(items))
	log.WithField("rows", len(items)).Info("Loaded image detections")
	return len(items), nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (w *Warehouse) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			w.logger.WithError(rbErr).Error("Failed to roll back warehouse transaction")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// readBatch parses a JSON array file into one row per element, tagged with
// the file name
func readBatch(path string, kind records.Kind) ([]records.Row, error) {
	name := filepath.Base(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrMalformedBatch, name, err)
	}

	rows := make([]records.Row, 0, len(raw))
	for _, r := range raw {
		row, err := records.NewRow(kind, r, name)
		if err != nil {
			return nil, fmt.Errorf("%w %s: %v", ErrMalformedBatch, name, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
