// Package store provides the durable persistence backends for the adaptive
// subsystem: a JSON file store for single-node deployments and a PostgreSQL
// store for shared ones. Both implement adaptive.Store.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/wpeva/new-undetect-browser-sub005/internal/adaptive"
	"github.com/wpeva/new-undetect-browser-sub005/internal/detect"
)

const (
	configFileName  = "active_config.json"
	historyFileName = "history.json"

	// DefaultMaxHistory bounds each history collection; oldest entries are
	// evicted first.
	DefaultMaxHistory = 50
)

type historySnapshot struct {
	DetectionReports []detect.DetectionReport `json:"detection_reports"`
	UpdateResults    []adaptive.UpdateResult  `json:"update_results"`
}

// FileStore keeps the active configuration and both histories as two JSON
// files in one directory, loaded at construction and atomically rewritten on
// every change. A single mutex serializes all writes.
type FileStore struct {
	mu         sync.RWMutex
	dir        string
	maxHistory int
	config     *detect.ProtectionConfig
	history    historySnapshot
}

func NewFileStore(dir string, maxHistory int) (*FileStore, error) {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	s := &FileStore{
		dir:        dir,
		maxHistory: maxHistory,
		history: historySnapshot{
			DetectionReports: []detect.DetectionReport{},
			UpdateResults:    []adaptive.UpdateResult{},
		},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) LoadConfig(ctx context.Context) (detect.ProtectionConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.config == nil {
		return detect.DefaultProtectionConfig(), nil
	}
	return s.config.Clamped(), nil
}

func (s *FileStore) SaveConfig(ctx context.Context, cfg detect.ProtectionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clamped := cfg.Clamped()
	previous := s.config
	s.config = &clamped
	if err := writeJSONAtomic(filepath.Join(s.dir, configFileName), clamped); err != nil {
		s.config = previous
		return fmt.Errorf("save active config: %w", err)
	}
	return nil
}

func (s *FileStore) AppendDetectionReport(ctx context.Context, report detect.DetectionReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.DetectionReports = appendBounded(s.history.DetectionReports, report, s.maxHistory)
	return s.persistHistoryLocked()
}

func (s *FileStore) ListDetectionReports(ctx context.Context, limit int) ([]detect.DetectionReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.history.DetectionReports, limit), nil
}

func (s *FileStore) AppendUpdateResult(ctx context.Context, result adaptive.UpdateResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.UpdateResults = appendBounded(s.history.UpdateResults, result, s.maxHistory)
	return s.persistHistoryLocked()
}

func (s *FileStore) ListUpdateResults(ctx context.Context, limit int) ([]adaptive.UpdateResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.history.UpdateResults, limit), nil
}

func (s *FileStore) load() error {
	configPath := filepath.Join(s.dir, configFileName)
	if data, err := os.ReadFile(configPath); err == nil {
		var cfg detect.ProtectionConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("decode %s: %w", configFileName, err)
		}
		clamped := cfg.Clamped()
		s.config = &clamped
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", configFileName, err)
	}

	historyPath := filepath.Join(s.dir, historyFileName)
	data, err := os.ReadFile(historyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", historyFileName, err)
	}
	var snapshot historySnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("decode %s: %w", historyFileName, err)
	}
	if snapshot.DetectionReports != nil {
		s.history.DetectionReports = trimOldest(snapshot.DetectionReports, s.maxHistory)
	}
	if snapshot.UpdateResults != nil {
		s.history.UpdateResults = trimOldest(snapshot.UpdateResults, s.maxHistory)
	}
	return nil
}

func (s *FileStore) persistHistoryLocked() error {
	if err := writeJSONAtomic(filepath.Join(s.dir, historyFileName), s.history); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

func writeJSONAtomic(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func appendBounded[T any](items []T, item T, max int) []T {
	items = append(items, item)
	return trimOldest(items, max)
}

func trimOldest[T any](items []T, max int) []T {
	if max > 0 && len(items) > max {
		items = items[len(items)-max:]
	}
	return items
}

func tail[T any](items []T, limit int) []T {
	start := 0
	if limit > 0 && len(items) > limit {
		start = len(items) - limit
	}
	out := make([]T, len(items)-start)
	copy(out, items[start:])
	return out
}
