package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"tgpipeline/pkg/partition"
	"tgpipeline/pkg/records"
)

// Manager handles file storage for one partition
type Manager struct {
	part   partition.Partition
	images map[int64]bool
	mu     sync.RWMutex
}

// NewManager creates a storage manager bound to a partition. Directories are
// created on first write.
func NewManager(p partition.Partition) *Manager {
	return &Manager{
		part:   p,
		images: make(map[int64]bool),
	}
}

// Partition returns the partition the manager writes into
func (m *Manager) Partition() partition.Partition {
	return m.part
}

// HasImage checks if the image for a message already exists in the partition
func (m *Manager) HasImage(messageID int64) bool {
	m.mu.RLock()
	cached := m.images[messageID]
	m.mu.RUnlock()
	if cached {
		return true
	}

	if _, err := os.Stat(m.part.ImagePath(messageID)); err != nil {
		return false
	}
	m.mu.Lock()
	m.images[messageID] = true
	m.mu.Unlock()
	return true
}

// SaveImage writes <message_id>.jpg from r and returns its path
func (m *Manager) SaveImage(r io.Reader, messageID int64) (string, error) {
	path := m.part.ImagePath(messageID)
	if err := writeAtomic(path, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	}); err != nil {
		return "", fmt.Errorf("failed to save image %d: %w", messageID, err)
	}

	m.mu.Lock()
	m.images[messageID] = true
	m.mu.Unlock()
	return path, nil
}

// WriteMessages writes one channel's batch as a JSON array
func (m *Manager) WriteMessages(channel string, msgs []records.RawMessage) (string, error) {
	path := m.part.MessageBatchPath(channel)
	if err := writeBatch(path, msgs); err != nil {
		return "", fmt.Errorf("failed to write messages for %s: %w", channel, err)
	}
	return path, nil
}

// WriteDetections writes the partition's detections as a JSON array
func (m *Manager) WriteDetections(detections []records.Detection) (string, error) {
	path := m.part.DetectionsPath()
	if err := writeBatch(path, detections); err != nil {
		return "", fmt.Errorf("failed to write detections: %w", err)
	}
	return path, nil
}

// MessageBatches lists the partition's *.json batch files in name order. The
// error wraps fs.ErrNotExist when the directory is missing.
func (m *Manager) MessageBatches() ([]string, error) {
	return listFiles(m.part.MessagesDir(), []string{".json"})
}

// ImageFiles lists the partition's images whose extension matches one of
// exts, case-insensitively, in name order
func (m *Manager) ImageFiles(exts []string) ([]string, error) {
	return listFiles(m.part.ImagesDir(), exts)
}

func listFiles(dir string, exts []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !hasExtension(entry.Name(), exts) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func hasExtension(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

func writeBatch[R records.Record](path string, batch []R) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(batch); err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	return writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(buf.Bytes())
		return err
	})
}

// writeAtomic writes through a temporary file and renames it into place
func writeAtomic(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := path + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	err = write(out)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to write data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}
