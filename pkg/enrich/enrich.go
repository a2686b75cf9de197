// Package enrich labels a partition's images with the detection service and
// writes the detections batch.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"tgpipeline/internal/workerpool"
	"tgpipeline/pkg/detect"
	"tgpipeline/pkg/logger"
	"tgpipeline/pkg/metrics"
	"tgpipeline/pkg/partition"
	"tgpipeline/pkg/records"
	"tgpipeline/pkg/storage"
)

// DefaultExtensions are the image types picked up from the images directory
var DefaultExtensions = []string{".png", ".jpg", ".jpeg"}

// Options configures the stage
type Options struct {
	Workers    int
	Extensions []string
	// Now stamps each detection.
	Now func() time.Time
}

// Summary is the outcome of one enrichment run
type Summary struct {
	Partition  string `json:"partition"`
	Images     int    `json:"images"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Detections int    `json:"detections"`
	OutputPath string `json:"output_path,omitempty"`
	// DirMissing is set when the partition had no images directory.
	DirMissing bool `json:"dir_missing,omitempty"`
}

// Stage runs object detection over a partition
type Stage struct {
	loader  detect.Loader
	opts    Options
	metrics *metrics.Collector
	logger  logger.Logger
}

// NewStage creates the enrichment stage
func NewStage(loader detect.Loader, opts Options, m *metrics.Collector, log logger.Logger) *Stage {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Stage{loader: loader, opts: opts, metrics: m, logger: log}
}

// Run loads the model, labels every image of the partition and writes
// image_detections.json when at least one object was found. Only a model
// load failure or a write failure is returned as an error.
func (s *Stage) Run(ctx context.Context, part partition.Partition) (*Summary, error) {
	log := s.logger.WithContext(ctx).WithField("partition", part.Date())
	summary := &Summary{Partition: part.Date()}

	detector, err := s.loader.Load(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to load detection model: %w", err)
	}

	store := storage.NewManager(part)
	files, err := store.ImageFiles(s.opts.Extensions)
	if errors.Is(err, fs.ErrNotExist) {
		log.WithField("dir", part.ImagesDir()).Warn("Image directory not found, no images to process")
		summary.DirMissing = true
		return summary, nil
	}
	if err != nil {
		return summary, err
	}

	var jobs []workerpool.InferenceJob
	for _, path := range files {
		id, err := messageID(path)
		if err != nil {
			summary.Skipped++
			s.metrics.ImageProcessed(metrics.ImageSkipped)
			log.WithError(err).WithField("file", filepath.Base(path)).Error("Failed to process image")
			continue
		}
		jobs = append(jobs, workerpool.InferenceJob{Index: len(jobs), Path: path, MessageID: id})
	}

	results, err := s.infer(ctx, detector, jobs)
	if err != nil {
		return summary, err
	}

	var detections []records.Detection
	for _, r := range results {
		summary.Images++
		name := filepath.Base(r.Job.Path)
		if r.Error != nil {
			summary.Failed++
			s.metrics.ImageProcessed(metrics.ImageFailed)
			log.WithError(r.Error).WithField("file", name).Error("Failed to process image")
			continue
		}

		stamp := s.opts.Now().Format(records.TimestampLayout)
		for _, label := range r.Labels {
			detections = append(detections, records.Detection{
				MessageID: r.Job.MessageID,
				ClassID:   label.ClassID,
				ClassName: label.ClassName,
				Score:     label.Confidence,
				Timestamp: stamp,
			})
		}
		if len(r.Labels) > 0 {
			s.metrics.ImageProcessed(metrics.ImageDetected)
		} else {
			s.metrics.ImageProcessed(metrics.ImageEmpty)
		}
		log.DebugWithFields("Processed image", map[string]interface{}{
			"file":     name,
			"labels":   len(r.Labels),
			"duration": r.Duration,
		})
	}

	summary.Detections = len(detections)
	if len(detections) == 0 {
		log.Info("No detections, nothing written")
		return summary, nil
	}

	path, err := store.WriteDetections(detections)
	if err != nil {
		return summary, err
	}
	summary.OutputPath = path
	s.metrics.DetectionsFound(len(detections))

	log.InfoWithFields("Saved detections", map[string]interface{}{
		"detections": len(detections),
		"images":     summary.Images,
		"failed":     summary.Failed,
		"path":       path,
	})
	return summary, nil
}

// infer runs the jobs on the worker pool and returns results in job order
func (s *Stage) infer(ctx context.Context, detector detect.Detector, jobs []workerpool.InferenceJob) ([]workerpool.InferenceResult, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	pool, err := workerpool.New(ctx, s.opts.Workers, detector, s.logger)
	if err != nil {
		return nil, err
	}

	go func() {
		defer pool.Stop()
		for _, job := range jobs {
			if err := pool.Submit(job); err != nil {
				return
			}
		}
	}()

	results := make([]workerpool.InferenceResult, 0, len(jobs))
	for r := range pool.Results() {
		results = append(results, r)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Job.Index < results[j].Job.Index })
	return results, nil
}

// messageID parses the integer file stem
func messageID(path string) (int64, error) {
	name := filepath.Base(path)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	id, err := strconv.ParseInt(stem, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("file name %q is not a message id: %w", name, err)
	}
	return id, nil
}
