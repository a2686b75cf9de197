// Package runlog keeps the history of pipeline runs as one JSON file per
// trigger. The history is informational; runs never resume from it.
package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tgpipeline/pkg/logger"
	"tgpipeline/pkg/pipeline"
)

const fileTimeLayout = "20060102T150405Z"

// Store reads and writes run reports under a directory
type Store struct {
	dir    string
	logger logger.Logger
}

var _ pipeline.Ledger = (*Store)(nil)

// NewStore creates the runs directory if needed
func NewStore(dir string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create runs directory: %w", err)
	}
	return &Store{dir: dir, logger: log}, nil
}

// Dir returns the runs directory
func (s *Store) Dir() string {
	return s.dir
}

// Save writes the report atomically
func (s *Store) Save(report *pipeline.Report) error {
	if report == nil || report.RunID == "" {
		return fmt.Errorf("report has no run id")
	}
	path := filepath.Join(s.dir, fileName(report))

	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary run file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode run report: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync run file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close run file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to store run file: %w", err)
	}

	s.logger.DebugWithFields("Run report saved", map[string]interface{}{
		"run_id": report.RunID,
		"status": report.Status,
		"path":   path,
	})
	return nil
}

// Entry is a stored report and its file
type Entry struct {
	Path   string
	Report pipeline.Report
}

// List returns up to limit reports, newest first. A limit of 0 returns all.
func (s *Store) List(limit int) ([]Entry, error) {
	names, err := s.files()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		path := filepath.Join(s.dir, name)
		report, err := readReport(path)
		if err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("Skipping unreadable run report")
			continue
		}
		entries = append(entries, Entry{Path: path, Report: *report})
	}
	return entries, nil
}

// Latest returns the newest report, or nil when no run was recorded
func (s *Store) Latest() (*pipeline.Report, error) {
	entries, err := s.List(1)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0].Report, nil
}

// Prune removes all but the newest keep reports and returns how many were removed
func (s *Store) Prune(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	names, err := s.files()
	if err != nil {
		return 0, err
	}
	if len(names) <= keep {
		return 0, nil
	}

	removed := 0
	for _, name := range names[keep:] {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to delete run report: %w", err)
		}
		removed++
	}
	s.logger.WithField("removed", removed).Info("Pruned run history")
	return removed, nil
}

// files lists report file names, newest first
func (s *Store) files() ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	var names []string
	for _, e := range dirEntries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func fileName(report *pipeline.Report) string {
	return fmt.Sprintf("%s_%s.json", report.StartedAt.UTC().Format(fileTimeLayout), report.RunID)
}

func readReport(path string) (*pipeline.Report, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run file: %w", err)
	}
	defer file.Close()

	var report pipeline.Report
	if err := json.NewDecoder(file).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode run report: %w", err)
	}
	return &report, nil
}
