// Package checkpoint persists failover run state so a restarted
// orchestrator can surface what was in flight and finish rollbacks.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/systmms/drops/internal/orchestrator"
)

// FileStore keeps run records as JSON files on disk.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a file-based checkpoint store.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{
		baseDir: baseDir,
	}
}

// DefaultStoreDir returns the default checkpoint directory.
func DefaultStoreDir() string {
	// Check for test environment variable first
	if testDir := os.Getenv("DROPS_STATE_DIR"); testDir != "" {
		return testDir
	}

	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "drops")
	}

	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "drops")
	}

	return filepath.Join(os.TempDir(), "drops")
}

// SavePending writes (or rewrites) the record of an in-flight or Failed run.
func (fs *FileStore) SavePending(run *orchestrator.Run) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	pendingDir := filepath.Join(fs.baseDir, "pending")
	if err := os.MkdirAll(pendingDir, 0700); err != nil {
		return fmt.Errorf("failed to create pending directory: %w", err)
	}

	filename := filepath.Join(pendingDir, fmt.Sprintf("%s.json", sanitizeFilename(run.Request.ID)))
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write run file: %w", err)
	}
	return nil
}

// LoadPending returns every run that has not been cleared, oldest first.
func (fs *FileStore) LoadPending() ([]*orchestrator.Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	pendingDir := filepath.Join(fs.baseDir, "pending")
	if _, err := os.Stat(pendingDir); os.IsNotExist(err) {
		return nil, nil
	}

	files, err := os.ReadDir(pendingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending directory: %w", err)
	}

	var runs []*orchestrator.Run
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(pendingDir, file.Name()))
		if err != nil {
			continue // Skip files that can't be read
		}
		var run orchestrator.Run
		if err := json.Unmarshal(data, &run); err != nil {
			continue // Skip invalid JSON files
		}
		runs = append(runs, &run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs, nil
}

// ClearPending removes the pending record once a run is fully settled.
func (fs *FileStore) ClearPending(requestID string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	filename := filepath.Join(fs.baseDir, "pending", fmt.Sprintf("%s.json", sanitizeFilename(requestID)))
	if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear pending run: %w", err)
	}
	return nil
}

// SaveHistory appends a terminal run to the pair's history.
func (fs *FileStore) SaveHistory(run *orchestrator.Run) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	historyDir := filepath.Join(fs.baseDir, "history", sanitizeFilename(run.Pair))
	if err := os.MkdirAll(historyDir, 0700); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	stamp := run.StartedAt
	if stamp.IsZero() {
		stamp = time.Now()
	}
	filename := filepath.Join(historyDir, fmt.Sprintf("%s-%s.json",
		stamp.UTC().Format("20060102-150405"), sanitizeFilename(run.Request.ID)))

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}
	return nil
}

// History returns terminal runs for a pair, newest first.
func (fs *FileStore) History(pair string, limit int) ([]*orchestrator.Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.readHistory(pair, limit)
}

func (fs *FileStore) readHistory(pair string, limit int) ([]*orchestrator.Run, error) {
	historyDir := filepath.Join(fs.baseDir, "history", sanitizeFilename(pair))
	if _, err := os.Stat(historyDir); os.IsNotExist(err) {
		return nil, nil
	}

	files, err := os.ReadDir(historyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	// Sort files by name (newest first)
	sort.Slice(files, func(i, j int) bool {
		return files[i].Name() > files[j].Name()
	})

	var runs []*orchestrator.Run
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(historyDir, file.Name()))
		if err != nil {
			continue
		}
		var run orchestrator.Run
		if err := json.Unmarshal(data, &run); err != nil {
			continue
		}
		runs = append(runs, &run)
		if limit > 0 && len(runs) >= limit {
			break
		}
	}
	return runs, nil
}

// AllHistory returns terminal runs across every pair, newest first.
func (fs *FileStore) AllHistory(limit int) ([]*orchestrator.Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	historyDir := filepath.Join(fs.baseDir, "history")
	if _, err := os.Stat(historyDir); os.IsNotExist(err) {
		return nil, nil
	}

	pairDirs, err := os.ReadDir(historyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	var all []*orchestrator.Run
	for _, pairDir := range pairDirs {
		if !pairDir.IsDir() {
			continue
		}
		runs, err := fs.readHistory(pairDir.Name(), -1)
		if err != nil {
			continue
		}
		all = append(all, runs...)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].StartedAt.After(all[j].StartedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// CleanupOlderThan removes history entries older than the given duration.
func (fs *FileStore) CleanupOlderThan(olderThan time.Duration) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	historyDir := filepath.Join(fs.baseDir, "history")
	if _, err := os.Stat(historyDir); os.IsNotExist(err) {
		return nil
	}
	cutoff := time.Now().Add(-olderThan)

	return filepath.Walk(historyDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if info.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		// Filenames start with 20060102-150405
		filename := filepath.Base(path)
		if len(filename) < 15 {
			return nil
		}
		stamp, err := time.Parse("20060102-150405", filename[:15])
		if err != nil {
			return nil
		}
		if stamp.Before(cutoff) {
			if err := os.Remove(path); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to remove old history file %s: %v\n", path, err)
			}
		}
		return nil
	})
}

// sanitizeFilename replaces characters that might be problematic in filenames
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"\"", "-",
		"<", "-",
		">", "-",
		"|", "-",
		" ", "_",
	)
	return replacer.Replace(name)
}
