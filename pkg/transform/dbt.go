// Package transform runs the SQL transformation build over the warehouse.
package transform

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"tgpipeline/pkg/config"
	"tgpipeline/pkg/logger"
)

var commandContext = exec.CommandContext

// maxLineSize bounds one line of dbt output kept in the log.
const maxLineSize = 1 << 20

// Builder runs the transformation build
type Builder interface {
	Build(ctx context.Context) error
}

// DBT wraps the dbt command-line tool
type DBT struct {
	enabled     bool
	binary      string
	projectDir  string
	profilesDir string
	extraArgs   []string
	logger      logger.Logger
}

var _ Builder = (*DBT)(nil)

// NewDBT creates a dbt runner from the transform configuration
func NewDBT(cfg config.TransformConfig, log logger.Logger) *DBT {
	if log == nil {
		log = logger.GetLogger()
	}
	binary := cfg.Binary
	if binary == "" {
		binary = "dbt"
	}
	return &DBT{
		enabled:     cfg.Enabled,
		binary:      binary,
		projectDir:  cfg.ProjectDir,
		profilesDir: cfg.ProfilesDir,
		extraArgs:   cfg.ExtraArgs,
		logger:      log,
	}
}

// Args returns the command line passed to the binary
func (d *DBT) Args() []string {
	args := []string{"build"}
	if d.projectDir != "" {
		args = append(args, "--project-dir", d.projectDir)
	}
	if d.profilesDir != "" {
		args = append(args, "--profiles-dir", d.profilesDir)
	}
	return append(args, d.extraArgs...)
}

// Build runs dbt build, streaming its output into the log. A disabled
// transform succeeds without running anything.
func (d *DBT) Build(ctx context.Context) error {
	log := d.logger.WithContext(ctx).WithField("binary", d.binary)
	if !d.enabled {
		log.Info("Transform disabled, skipping dbt build")
		return nil
	}

	args := d.Args()
	log.WithField("args", strings.Join(args, " ")).Info("Running dbt build")

	cmd := commandContext(ctx, d.binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start dbt: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			log.WithField("source", "dbt").Info(line)
		}
	}
	if err := scanner.Err(); err != nil {
		// Keep the pipe drained so dbt can exit; its exit status decides the result.
		log.WithError(err).Warn("Stopped streaming dbt output")
		_, _ = io.Copy(io.Discard, stdout)
	}

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("dbt build failed with exit code %d: %w", exitErr.ExitCode(), err)
		}
		return fmt.Errorf("dbt build failed: %w", err)
	}
	return nil
}
