// Package config owns the two configuration layers: the mutable storage
// configuration (JSON, part of the snapshot set) and the static application
// configuration (YAML, read at startup).
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hardware-is-not-software/taskman/internal/apperr"
	"github.com/hardware-is-not-software/taskman/internal/atomicfile"
)

// Recovery providers accepted for the recovery_provider label.
var Providers = []string{"local", "onedrive", "sharepoint", "icloud"}

// Bounds applied when normalizing storage settings.
const (
	minInterval  = 0
	maxInterval  = 86400
	minRetention = 1
	maxRetention = 5000
)

// Storage is the process-wide storage configuration. It is loaded at startup
// and mutable through the command surface; changing tasks_file or topics_dir
// repoints the stores, it does not migrate data.
type Storage struct {
	TasksFile                   string `json:"tasks_file"`
	TopicsDir                   string `json:"topics_dir"`
	RecoveryProvider            string `json:"recovery_provider"`
	RecoveryDir                 string `json:"recovery_dir"`
	AutoSnapshotEnabled         bool   `json:"auto_snapshot_enabled"`
	AutoSnapshotIntervalSeconds int    `json:"auto_snapshot_interval_seconds"`
	SnapshotRetentionCount      int    `json:"snapshot_retention_count"`
}

// SnapshotRoot returns the directory snapshots are written under.
func (s Storage) SnapshotRoot() string {
	return filepath.Join(s.RecoveryDir, "snapshots")
}

// DefaultStorage returns the default storage configuration rooted at baseDir.
func DefaultStorage(baseDir string) Storage {
	return Storage{
		TasksFile:                   filepath.Join(baseDir, "tasks", "tasks.md"),
		TopicsDir:                   filepath.Join(baseDir, "topics"),
		RecoveryProvider:            "local",
		RecoveryDir:                 filepath.Join(baseDir, "recovery"),
		AutoSnapshotEnabled:         true,
		AutoSnapshotIntervalSeconds: 30,
		SnapshotRetentionCount:      200,
	}
}

// NormalizeStorage fills missing fields from defaults and clamps numeric
// settings into their allowed ranges.
func NormalizeStorage(raw, defaults Storage) Storage {
	cfg := Storage{
		TasksFile:                   normalizePath(raw.TasksFile),
		TopicsDir:                   normalizePath(raw.TopicsDir),
		RecoveryProvider:            normalizeProvider(raw.RecoveryProvider),
		RecoveryDir:                 normalizePath(raw.RecoveryDir),
		AutoSnapshotEnabled:         raw.AutoSnapshotEnabled,
		AutoSnapshotIntervalSeconds: clamp(raw.AutoSnapshotIntervalSeconds, minInterval, maxInterval),
		SnapshotRetentionCount:      clamp(raw.SnapshotRetentionCount, minRetention, maxRetention),
	}
	if cfg.TasksFile == "" {
		cfg.TasksFile = defaults.TasksFile
	}
	if cfg.TopicsDir == "" {
		cfg.TopicsDir = defaults.TopicsDir
	}
	if cfg.RecoveryDir == "" {
		cfg.RecoveryDir = defaults.RecoveryDir
	}
	return cfg
}

func normalizePath(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			trimmed = filepath.Join(home, strings.TrimPrefix(trimmed[1:], "/"))
		}
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return trimmed
	}
	return abs
}

func normalizeProvider(value string) string {
	provider := strings.ToLower(strings.TrimSpace(value))
	for _, p := range Providers {
		if p == provider {
			return provider
		}
	}
	return "local"
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Manager owns the persisted storage configuration file. Reads and writes go
// through its lock; the file itself is replaced atomically so external
// readers (and snapshots) never see a torn write.
type Manager struct {
	path string
	mu   sync.RWMutex
	cur  Storage
}

// StoragePath returns the storage config file location under baseDir.
func StoragePath(baseDir string) string {
	return filepath.Join(baseDir, "storage_config.json")
}

// CategoriesPath returns the category registry file location under baseDir.
func CategoriesPath(baseDir string) string {
	return filepath.Join(baseDir, "categories.json")
}

// NewManager loads (or initializes) the storage configuration under baseDir.
func NewManager(baseDir string) (*Manager, error) {
	m := &Manager{path: StoragePath(baseDir)}
	defaults := DefaultStorage(baseDir)

	data, err := os.ReadFile(m.path)
	switch {
	case os.IsNotExist(err):
		m.cur = defaults
		if err := EnsureTargets(m.cur); err != nil {
			return nil, err
		}
		if err := m.persist(); err != nil {
			return nil, err
		}
		return m, nil
	case err != nil:
		return nil, apperr.Newf(apperr.Misconfigured, "reading storage config: %v", err)
	}

	var raw Storage
	if err := json.Unmarshal(data, &raw); err != nil {
		// Unreadable config falls back to defaults rather than refusing to start.
		m.cur = defaults
		return m, nil
	}
	m.cur = NormalizeStorage(raw, defaults)
	return m, nil
}

// Current returns a copy of the active configuration.
func (m *Manager) Current() Storage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// Set normalizes, validates, initializes and persists a new configuration.
func (m *Manager) Set(raw Storage) (Storage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := NormalizeStorage(raw, m.cur)
	if cfg.TasksFile == "" || cfg.TopicsDir == "" || cfg.RecoveryDir == "" {
		return Storage{}, apperr.New(apperr.Validation,
			"tasks_file, topics_dir, and recovery_dir are required")
	}
	if err := EnsureTargets(cfg); err != nil {
		return Storage{}, err
	}

	prev := m.cur
	m.cur = cfg
	if err := m.persist(); err != nil {
		m.cur = prev
		return Storage{}, err
	}
	return cfg, nil
}

// Reload re-reads the configuration file, used after a full snapshot restore
// replaces it on disk.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		return apperr.Newf(apperr.Misconfigured, "reading storage config: %v", err)
	}
	var raw Storage
	if err := json.Unmarshal(data, &raw); err != nil {
		return apperr.Newf(apperr.Misconfigured, "parsing storage config: %v", err)
	}
	m.cur = NormalizeStorage(raw, m.cur)
	return nil
}

// Path returns the storage config file path.
func (m *Manager) Path() string { return m.path }

func (m *Manager) persist() error {
	data, err := json.MarshalIndent(m.cur, "", "  ")
	if err != nil {
		return apperr.Newf(apperr.IOFailure, "encoding storage config: %v", err)
	}
	if err := atomicfile.WriteFile(m.path, append(data, '\n')); err != nil {
		return apperr.Newf(apperr.IOFailure, "saving storage config: %v", err)
	}
	return nil
}

// EnsureTargets creates the directories and files a configuration points at.
func EnsureTargets(cfg Storage) error {
	if err := os.MkdirAll(filepath.Dir(cfg.TasksFile), 0o755); err != nil {
		return apperr.Newf(apperr.Misconfigured, "initializing tasks directory: %v", err)
	}
	if err := os.MkdirAll(cfg.TopicsDir, 0o755); err != nil {
		return apperr.Newf(apperr.Misconfigured, "initializing notes directory: %v", err)
	}
	if err := os.MkdirAll(cfg.RecoveryDir, 0o755); err != nil {
		return apperr.Newf(apperr.Misconfigured, "initializing recovery directory: %v", err)
	}
	if _, err := os.Stat(cfg.TasksFile); os.IsNotExist(err) {
		if err := os.WriteFile(cfg.TasksFile, nil, 0o644); err != nil {
			return apperr.Newf(apperr.Misconfigured, "initializing tasks file: %v", err)
		}
	}
	return nil
}
