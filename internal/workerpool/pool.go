package workerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"tgpipeline/pkg/detect"
	"tgpipeline/pkg/logger"
)

// InferenceJob represents a single image to label
type InferenceJob struct {
	// Index is the job's position in submission order.
	Index     int
	Path      string
	MessageID int64
}

// InferenceResult represents the result of an inference job
type InferenceResult struct {
	Job      InferenceJob
	Labels   []detect.Label
	Error    error
	Duration time.Duration
}

// WorkerPool runs inference jobs on an ants pool. Each job is isolated: a
// failure or panic in one becomes that job's Error.
type WorkerPool struct {
	pool     *ants.Pool
	detector detect.Detector
	results  chan InferenceResult
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	logger   logger.Logger
}

// New creates a worker pool with size workers
func New(ctx context.Context, size int, detector detect.Detector, log logger.Logger) (*WorkerPool, error) {
	if size <= 0 {
		size = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}

	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	log.DebugWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": size,
	})

	return &WorkerPool{
		pool:     pool,
		detector: detector,
		results:  make(chan InferenceResult, size),
		ctx:      ctx,
		cancel:   cancel,
		logger:   log,
	}, nil
}

// Submit queues a job, blocking while every worker is busy
func (wp *WorkerPool) Submit(job InferenceJob) error {
	if err := wp.ctx.Err(); err != nil {
		return fmt.Errorf("worker pool is shutting down: %w", err)
	}

	wp.wg.Add(1)
	err := wp.pool.Submit(func() {
		defer wp.wg.Done()
		result := wp.processJob(job)
		select {
		case wp.results <- result:
		case <-wp.ctx.Done():
		}
	})
	if err != nil {
		wp.wg.Done()
		return fmt.Errorf("failed to submit job %s: %w", job.Path, err)
	}
	return nil
}

// Results returns the result channel. It is closed by Stop.
func (wp *WorkerPool) Results() <-chan InferenceResult {
	return wp.results
}

// Stop waits for submitted jobs, closes Results and releases the workers
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.wg.Wait()
		close(wp.results)
		wp.pool.Release()
		wp.cancel()
		wp.logger.Debug("Worker pool stopped")
	})
}

// Running returns the number of busy workers
func (wp *WorkerPool) Running() int {
	return wp.pool.Running()
}

func (wp *WorkerPool) processJob(job InferenceJob) (result InferenceResult) {
	start := time.Now()
	result = InferenceResult{Job: job}

	defer func() {
		if r := recover(); r != nil {
			result.Error = fmt.Errorf("inference panicked: %v", r)
			result.Labels = nil
		}
		result.Duration = time.Since(start)
	}()

	labels, err := wp.detector.Detect(wp.ctx, job.Path)
	if err != nil {
		result.Error = fmt.Errorf("inference failed: %w", err)
		return result
	}
	result.Labels = labels

	wp.logger.DebugWithFields("Image processed", map[string]interface{}{
		"path":   job.Path,
		"labels": len(labels),
	})
	return result
}
