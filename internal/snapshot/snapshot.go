// Package snapshot produces and restores point-in-time copies of the tasks
// file, the notes directory and the configuration files under the configured
// recovery root, with interval throttling and oldest-first retention.
package snapshot

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hardware-is-not-software/taskman/internal/apperr"
	"github.com/hardware-is-not-software/taskman/internal/atomicfile"
	"github.com/hardware-is-not-software/taskman/internal/config"
)

// Snapshot modes.
const (
	ModeManual     = "manual"
	ModeAuto       = "auto"
	ModePreRestore = "pre-restore"
)

// Restore modes.
const (
	RestoreRevert = "revert"
	RestoreFull   = "full"
)

const idTimeLayout = "20060102_150405"

// idPattern guards restore against ids that are not plain directory names.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Metadata describes one snapshot, persisted as metadata.json inside the
// snapshot directory.
type Metadata struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Mode        string    `json:"mode"`
	Trigger     string    `json:"trigger"`
	Provider    string    `json:"provider"`
	RecoveryDir string    `json:"recovery_dir"`
	TasksFile   string    `json:"tasks_file,omitempty"`
	TopicsDir   string    `json:"topics_dir,omitempty"`
}

// inflight tracks a snapshot creation in progress so concurrent requests
// coalesce onto it instead of stacking duplicate copies.
type inflight struct {
	done chan struct{}
	meta Metadata
	err  error
}

// Manager owns snapshot creation, retention and restore. Copies are taken
// while holding the store writer locks, in a fixed order, so a snapshot never
// observes a partially written file.
type Manager struct {
	cfg            *config.Manager
	categoriesPath string
	lockers        []sync.Locker
	onRestore      func(mode string)

	mu       sync.Mutex
	creating *inflight
	last     time.Time
}

// NewManager creates a snapshot manager. lockers are acquired in the given
// order around every copy; pass the task-store lock first, then the
// note-store lock.
func NewManager(cfg *config.Manager, categoriesPath string, lockers ...sync.Locker) *Manager {
	m := &Manager{
		cfg:            cfg,
		categoriesPath: categoriesPath,
		lockers:        lockers,
	}
	m.last = m.newestOnDisk()
	return m
}

// SetOnRestore registers a callback invoked after a successful restore, used
// to invalidate store mirrors and reload configuration.
func (m *Manager) SetOnRestore(fn func(mode string)) {
	m.onRestore = fn
}

// Protective is the hook the stores call before each mutation. It creates an
// automatic snapshot at most once per configured interval and never reports
// failure to the caller.
func (m *Manager) Protective(trigger string) {
	cfg := m.cfg.Current()
	if !cfg.AutoSnapshotEnabled {
		return
	}

	m.mu.Lock()
	elapsed := time.Since(m.last)
	m.mu.Unlock()
	if cfg.AutoSnapshotIntervalSeconds > 0 &&
		elapsed < time.Duration(cfg.AutoSnapshotIntervalSeconds)*time.Second {
		return
	}

	if _, err := m.Create(ModeAuto, trigger); err != nil {
		log.Printf("protective snapshot (%s) failed: %v", trigger, err)
	}
}

// Create takes a snapshot now. Concurrent calls while one is in flight wait
// for and share its result.
func (m *Manager) Create(mode, trigger string) (Metadata, error) {
	m.mu.Lock()
	if c := m.creating; c != nil {
		m.mu.Unlock()
		<-c.done
		return c.meta, c.err
	}
	c := &inflight{done: make(chan struct{})}
	m.creating = c
	m.mu.Unlock()

	meta, err := m.create(mode, trigger)

	m.mu.Lock()
	m.creating = nil
	if err == nil {
		m.last = meta.CreatedAt
	}
	m.mu.Unlock()

	c.meta, c.err = meta, err
	close(c.done)
	return meta, err
}

func (m *Manager) create(mode, trigger string) (Metadata, error) {
	cfg := m.cfg.Current()
	root := cfg.SnapshotRoot()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Metadata{}, apperr.Newf(apperr.IOFailure, "creating snapshot root: %v", err)
	}

	id := mintID(root)
	dir := filepath.Join(root, id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return Metadata{}, apperr.Newf(apperr.IOFailure, "creating snapshot directory: %v", err)
	}

	// Hold the store locks only for the copy itself.
	for _, l := range m.lockers {
		l.Lock()
	}
	copyErr := m.copyState(cfg, dir)
	for i := len(m.lockers) - 1; i >= 0; i-- {
		m.lockers[i].Unlock()
	}
	if copyErr != nil {
		_ = os.RemoveAll(dir)
		return Metadata{}, copyErr
	}

	meta := Metadata{
		ID:          id,
		CreatedAt:   time.Now(),
		Mode:        mode,
		Trigger:     trigger,
		Provider:    cfg.RecoveryProvider,
		RecoveryDir: cfg.RecoveryDir,
		TasksFile:   cfg.TasksFile,
		TopicsDir:   cfg.TopicsDir,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Metadata{}, apperr.Newf(apperr.IOFailure, "encoding snapshot metadata: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), append(data, '\n'), 0o644); err != nil {
		return Metadata{}, apperr.Newf(apperr.IOFailure, "writing snapshot metadata: %v", err)
	}

	m.enforceRetention(cfg, root)
	return meta, nil
}

// copyState copies the tasks file, notes directory and config files into dir.
func (m *Manager) copyState(cfg config.Storage, dir string) error {
	if _, err := os.Stat(cfg.TasksFile); err == nil {
		if err := atomicfile.CopyFile(cfg.TasksFile, filepath.Join(dir, "tasks.md")); err != nil {
			return apperr.Newf(apperr.IOFailure, "copying tasks file: %v", err)
		}
	}
	if _, err := os.Stat(m.cfg.Path()); err == nil {
		if err := atomicfile.CopyFile(m.cfg.Path(), filepath.Join(dir, "storage_config.json")); err != nil {
			return apperr.Newf(apperr.IOFailure, "copying storage config: %v", err)
		}
	}
	if _, err := os.Stat(m.categoriesPath); err == nil {
		if err := atomicfile.CopyFile(m.categoriesPath, filepath.Join(dir, "categories.json")); err != nil {
			return apperr.Newf(apperr.IOFailure, "copying categories: %v", err)
		}
	}

	topicsTarget := filepath.Join(dir, "topics")
	if info, err := os.Stat(cfg.TopicsDir); err == nil && info.IsDir() {
		if err := atomicfile.CopyDir(cfg.TopicsDir, topicsTarget); err != nil {
			return apperr.Newf(apperr.IOFailure, "copying notes directory: %v", err)
		}
		return nil
	}
	if err := os.MkdirAll(topicsTarget, 0o755); err != nil {
		return apperr.Newf(apperr.IOFailure, "creating notes copy: %v", err)
	}
	return nil
}

// enforceRetention deletes the oldest snapshots beyond the retention count.
// Ids sort lexically in time order. Deletion failures are logged, not fatal.
func (m *Manager) enforceRetention(cfg config.Storage, root string) {
	ids, err := listIDs(root)
	if err != nil {
		log.Printf("snapshot retention: %v", err)
		return
	}
	if len(ids) <= cfg.SnapshotRetentionCount {
		return
	}
	for _, id := range ids[:len(ids)-cfg.SnapshotRetentionCount] {
		if err := os.RemoveAll(filepath.Join(root, id)); err != nil {
			log.Printf("snapshot retention: removing %s: %v", id, err)
		}
	}
}

// List returns metadata for every snapshot, newest first. Directories without
// readable metadata still appear, described from what is on disk.
func (m *Manager) List() ([]Metadata, error) {
	cfg := m.cfg.Current()
	root := cfg.SnapshotRoot()
	ids, err := listIDs(root)
	if err != nil {
		return nil, apperr.Newf(apperr.IOFailure, "listing snapshots: %v", err)
	}

	results := make([]Metadata, 0, len(ids))
	for _, id := range ids {
		meta := Metadata{
			ID:          id,
			Mode:        "unknown",
			Provider:    cfg.RecoveryProvider,
			RecoveryDir: cfg.RecoveryDir,
		}
		if info, err := os.Stat(filepath.Join(root, id)); err == nil {
			meta.CreatedAt = info.ModTime()
		}
		if data, err := os.ReadFile(filepath.Join(root, id, "metadata.json")); err == nil {
			var loaded Metadata
			if json.Unmarshal(data, &loaded) == nil && loaded.ID != "" {
				meta = loaded
			}
		}
		results = append(results, meta)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results, nil
}

// Restore copies snapshot contents back over the live state. Revert mode
// replaces only the tasks file; full mode also replaces the notes directory
// and the configuration files. A pre-restore snapshot is written first, and a
// failure partway through is reported for the operator to re-run.
func (m *Manager) Restore(id, mode string) error {
	if !idPattern.MatchString(id) {
		return apperr.Newf(apperr.Validation, "invalid snapshot id %q", id)
	}
	if mode != RestoreRevert && mode != RestoreFull {
		return apperr.Newf(apperr.Validation, "invalid restore mode %q", mode)
	}

	cfg := m.cfg.Current()
	dir := filepath.Join(cfg.SnapshotRoot(), id)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return apperr.Newf(apperr.NotFound, "snapshot %q not found", id)
	}

	if _, err := m.Create(ModePreRestore, "before-restore"); err != nil {
		return err
	}

	// Current and legacy snapshot layouts.
	srcTasks := firstExisting(
		filepath.Join(dir, "tasks.md"),
		filepath.Join(dir, "runnning.md"),
	)
	srcTopics := firstExistingDir(
		filepath.Join(dir, "topics"),
		filepath.Join(dir, "open"),
	)

	for _, l := range m.lockers {
		l.Lock()
	}
	err := m.restoreLocked(cfg, mode, dir, srcTasks, srcTopics)
	for i := len(m.lockers) - 1; i >= 0; i-- {
		m.lockers[i].Unlock()
	}
	if err != nil {
		return err
	}

	if m.onRestore != nil {
		m.onRestore(mode)
	}
	return nil
}

func (m *Manager) restoreLocked(cfg config.Storage, mode, dir, srcTasks, srcTopics string) error {
	if srcTasks != "" {
		if err := atomicfile.CopyFile(srcTasks, cfg.TasksFile); err != nil {
			return apperr.Newf(apperr.IOFailure, "restoring tasks file: %v", err)
		}
	}
	if mode != RestoreFull {
		return nil
	}

	// Stage the restored notes directory beside the live one, then swap by
	// rename so a failed copy never leaves the live directory half-replaced.
	staged := cfg.TopicsDir + ".restore-staged"
	old := cfg.TopicsDir + ".restore-old"
	_ = os.RemoveAll(staged)
	_ = os.RemoveAll(old)
	if err := os.MkdirAll(staged, 0o755); err != nil {
		return apperr.Newf(apperr.IOFailure, "staging notes restore: %v", err)
	}
	if srcTopics != "" {
		if err := atomicfile.CopyDir(srcTopics, staged); err != nil {
			_ = os.RemoveAll(staged)
			return apperr.Newf(apperr.IOFailure, "staging notes restore: %v", err)
		}
	}
	if _, err := os.Stat(cfg.TopicsDir); err == nil {
		if err := os.Rename(cfg.TopicsDir, old); err != nil {
			_ = os.RemoveAll(staged)
			return apperr.Newf(apperr.IOFailure, "replacing notes directory: %v", err)
		}
	}
	if err := os.Rename(staged, cfg.TopicsDir); err != nil {
		return apperr.Newf(apperr.IOFailure, "replacing notes directory: %v", err)
	}
	_ = os.RemoveAll(old)

	if src := filepath.Join(dir, "storage_config.json"); exists(src) {
		if err := atomicfile.CopyFile(src, m.cfg.Path()); err != nil {
			return apperr.Newf(apperr.IOFailure, "restoring storage config: %v", err)
		}
	}
	if src := filepath.Join(dir, "categories.json"); exists(src) {
		if err := atomicfile.CopyFile(src, m.categoriesPath); err != nil {
			return apperr.Newf(apperr.IOFailure, "restoring categories: %v", err)
		}
	}
	return nil
}

// RunInterval runs the background interval trigger until ctx is done. It
// never holds a store lock while waiting, only during the copy inside Create.
func (m *Manager) RunInterval(ctx context.Context) {
	for {
		cfg := m.cfg.Current()
		interval := time.Duration(cfg.AutoSnapshotIntervalSeconds) * time.Second
		wait := interval
		if wait <= 0 {
			// Intervals of zero mean "snapshot on every mutation"; the
			// background trigger stays quiet and just re-checks the config.
			wait = time.Minute
		} else {
			m.mu.Lock()
			if remaining := interval - time.Since(m.last); remaining > 0 && remaining < wait {
				wait = remaining
			}
			m.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if cfg.AutoSnapshotEnabled && interval > 0 {
			m.Protective("interval")
		}
	}
}

// mintID derives a sortable, time-based snapshot id, adding a short random
// suffix when two snapshots land in the same second.
func mintID(root string) string {
	id := time.Now().Format(idTimeLayout)
	if !exists(filepath.Join(root, id)) {
		return id
	}
	return id + "_" + uuid.NewString()[:8]
}

func (m *Manager) newestOnDisk() time.Time {
	root := m.cfg.Current().SnapshotRoot()
	ids, err := listIDs(root)
	if err != nil || len(ids) == 0 {
		return time.Time{}
	}

	var newest time.Time
	for _, id := range ids {
		data, err := os.ReadFile(filepath.Join(root, id, "metadata.json"))
		if err != nil {
			continue
		}
		var meta Metadata
		if json.Unmarshal(data, &meta) != nil {
			continue
		}
		if meta.CreatedAt.After(newest) {
			newest = meta.CreatedAt
		}
	}
	return newest
}

// listIDs returns snapshot directory names sorted ascending (oldest first).
func listIDs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if exists(p) {
			return p
		}
	}
	return ""
}

func firstExistingDir(paths ...string) string {
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p
		}
	}
	return ""
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
