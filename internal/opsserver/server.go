// Package opsserver serves health, metrics and run history over HTTP while
// the scheduler daemon is running.
package opsserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tgpipeline/pkg/logger"
	"tgpipeline/pkg/pipeline"
	"tgpipeline/pkg/runlog"
)

// RunHistory is the read side of the run ledger
type RunHistory interface {
	Latest() (*pipeline.Report, error)
	List(limit int) ([]runlog.Entry, error)
}

// Options configures the server
type Options struct {
	Listen   string
	Registry *prometheus.Registry
	Runs     RunHistory
	// NextRun reports the next scheduled trigger. Optional.
	NextRun func() time.Time
}

// Server is the ops HTTP endpoint
type Server struct {
	opts   Options
	router *gin.Engine
	logger logger.Logger
}

// New builds the router
func New(opts Options, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetLogger()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{opts: opts, logger: log.WithField("component", "ops")}
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", s.health)
	if opts.Registry != nil {
		handler := promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})
		router.GET("/metrics", gin.WrapH(handler))
	}
	router.GET("/runs", s.listRuns)
	router.GET("/runs/latest", s.latestRun)

	s.router = router
	return s
}

// Handler exposes the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("listen", s.opts.Listen).Info("Ops server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server forced to shutdown: %w", err)
	}
	s.logger.Info("Ops server stopped")
	return nil
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"status":  "healthy",
		"service": "tgpipeline",
		"version": logger.Version,
	}
	if s.opts.NextRun != nil {
		if next := s.opts.NextRun(); !next.IsZero() {
			body["next_run"] = next
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) latestRun(c *gin.Context) {
	if s.opts.Runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run history disabled"})
		return
	}
	report, err := s.opts.Runs.Latest()
	if err != nil {
		s.logger.WithError(err).Error("Failed to read latest run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read run history"})
		return
	}
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no runs recorded"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) listRuns(c *gin.Context) {
	if s.opts.Runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run history disabled"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}
	entries, err := s.opts.Runs.List(limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read run history"})
		return
	}

	reports := make([]pipeline.Report, 0, len(entries))
	for _, e := range entries {
		reports = append(reports, e.Report)
	}
	c.JSON(http.StatusOK, gin.H{"runs": reports})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.DebugWithFields("HTTP request", map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		})
	}
}
