// Package store owns the live tasks file and the notes directory. Every
// mutation is a read-modify-rewrite under a writer lock, committed through a
// temp-file-then-rename so no reader ever observes a torn file.
package store

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/hardware-is-not-software/taskman/internal/apperr"
	"github.com/hardware-is-not-software/taskman/internal/atomicfile"
	"github.com/hardware-is-not-software/taskman/internal/category"
	"github.com/hardware-is-not-software/taskman/internal/codec"
	"github.com/hardware-is-not-software/taskman/internal/config"
	"github.com/hardware-is-not-software/taskman/internal/dates"
)

// ProtectiveHook is invoked before a mutation commits so the snapshot manager
// can consider an automatic snapshot. It must never block the mutation on
// failure; implementations log and swallow their own errors.
type ProtectiveHook func(trigger string)

// TaskStore owns the tasks file.
type TaskStore struct {
	cfg  *config.Manager
	reg  *category.Registry
	hook ProtectiveHook

	mu         sync.Mutex
	mirror     []codec.Record
	mirrorPath string
}

// NewTaskStore creates a task store over the configured tasks file.
func NewTaskStore(cfg *config.Manager, reg *category.Registry) *TaskStore {
	return &TaskStore{cfg: cfg, reg: reg}
}

// SetProtectiveHook wires the snapshot manager's protective hook. Set once at
// startup, before the store serves requests.
func (s *TaskStore) SetProtectiveHook(hook ProtectiveHook) {
	s.hook = hook
}

// Locker exposes the writer lock so the snapshot manager can copy a
// consistent point-in-time view of the tasks file.
func (s *TaskStore) Locker() sync.Locker { return &s.mu }

// Invalidate drops the in-memory mirror. Called after external edits are
// detected and after a snapshot restore.
func (s *TaskStore) Invalidate() {
	s.mu.Lock()
	s.mirror = nil
	s.mirrorPath = ""
	s.mu.Unlock()
}

// Registry returns the category registry the store resolves labels against.
func (s *TaskStore) Registry() *category.Registry { return s.reg }

// protect signals the snapshot hook. Best-effort: a panicking or failing
// snapshot must never block the primary mutation.
func (s *TaskStore) protect(trigger string) {
	if s.hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("protective snapshot (%s) panicked: %v", trigger, r)
		}
	}()
	s.hook(trigger)
}

// load returns the current records, reading the tasks file fresh when the
// mirror is invalid or the configured path changed. Callers hold s.mu.
func (s *TaskStore) load() ([]codec.Record, error) {
	path := s.cfg.Current().TasksFile
	if s.mirror != nil && s.mirrorPath == path {
		return s.mirror, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.mirror = []codec.Record{}
		s.mirrorPath = path
		return s.mirror, nil
	}
	if err != nil {
		return nil, apperr.Newf(apperr.Misconfigured, "reading tasks file: %v", err)
	}

	records, err := codec.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	s.mirror = records
	s.mirrorPath = path
	return s.mirror, nil
}

// rewrite encodes records and atomically replaces the tasks file. Callers
// hold s.mu.
func (s *TaskStore) rewrite(records []codec.Record) error {
	var buf bytes.Buffer
	if err := codec.Encode(&buf, records); err != nil {
		// Callers merge into the records before rewriting, so the mirror no
		// longer matches disk once encoding fails.
		s.mirror = nil
		return err
	}
	if err := atomicfile.WriteFile(s.cfg.Current().TasksFile, buf.Bytes()); err != nil {
		s.mirror = nil
		return apperr.Newf(apperr.IOFailure, "saving tasks file: %v", err)
	}
	s.mirror = records
	return nil
}

// List returns a copy of every task in file order.
func (s *TaskStore) List() ([]codec.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}

	tasks := make([]codec.Task, 0, len(records))
	for _, t := range codec.Tasks(records) {
		tasks = append(tasks, copyTask(t))
	}
	return tasks, nil
}

// Labels returns every category label referenced by any task.
func (s *TaskStore) Labels() ([]string, error) {
	tasks, err := s.List()
	if err != nil {
		return nil, err
	}
	var labels []string
	for _, t := range tasks {
		labels = append(labels, t.Categories...)
	}
	return labels, nil
}

// CreateRequest carries the caller-supplied fields for a new task.
type CreateRequest struct {
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	DueDate     *string  `json:"due_date"`
	Categories  []string `json:"categories"`
}

// Create validates the request, fills defaults, allocates the next id and
// appends the task to the store.
func (s *TaskStore) Create(req CreateRequest) (codec.Task, error) {
	task := codec.Task{
		Status:      req.Status,
		Priority:    req.Priority,
		Date:        dates.Today().String(),
		DueDate:     req.DueDate,
		Description: req.Description,
	}
	if task.Status == "" {
		task.Status = "created"
	}
	if task.Priority == "" {
		task.Priority = "normal"
	}

	categories, err := s.reg.Resolve(req.Categories)
	if err != nil {
		return codec.Task{}, err
	}
	task.Categories = categories

	if err := codec.Validate(&task); err != nil {
		return codec.Task{}, err
	}

	s.protect("task-create")

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return codec.Task{}, err
	}
	task.ID = codec.NextID(records)
	records = append(records, codec.Record{Task: &task})
	if err := s.rewrite(records); err != nil {
		return codec.Task{}, err
	}
	return copyTask(&task), nil
}

// UpdateRequest carries a partial update; nil fields are left unchanged.
type UpdateRequest struct {
	Description    *string   `json:"description"`
	Status         *string   `json:"status"`
	Priority       *string   `json:"priority"`
	DueDate        *string   `json:"due_date"`
	HasDueDate     bool      `json:"-"`
	Categories     *[]string `json:"categories"`
	ClosingRemarks *string   `json:"closing_remarks"`
	HasRemarks     bool      `json:"-"`
}

// UnmarshalJSON records whether the due_date and closing_remarks keys were
// present, since null and absent mean different things in a partial update.
func (r *UpdateRequest) UnmarshalJSON(data []byte) error {
	type alias UpdateRequest
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*r = UpdateRequest(a)
	_, r.HasDueDate = keys["due_date"]
	_, r.HasRemarks = keys["closing_remarks"]
	return nil
}

// Update merges the supplied fields into the task with the given id,
// re-validates the result and rewrites the file.
func (s *TaskStore) Update(id int, req UpdateRequest) (codec.Task, error) {
	s.protect("task-update")

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return codec.Task{}, err
	}
	target := findTask(records, id)
	if target == nil {
		return codec.Task{}, apperr.Newf(apperr.NotFound, "task %d not found", id)
	}

	merged := copyTask(target)
	if req.Description != nil {
		merged.Description = *req.Description
	}
	if req.Status != nil {
		merged.Status = *req.Status
	}
	if req.Priority != nil {
		merged.Priority = *req.Priority
	}
	if req.HasDueDate {
		merged.DueDate = req.DueDate
	}
	if req.Categories != nil {
		resolved, err := s.reg.Resolve(*req.Categories)
		if err != nil {
			return codec.Task{}, err
		}
		merged.Categories = resolved
	}
	if req.HasRemarks {
		merged.ClosingRemarks = ""
		if req.ClosingRemarks != nil {
			merged.ClosingRemarks = strings.TrimSpace(*req.ClosingRemarks)
		}
	}

	if err := codec.Validate(&merged); err != nil {
		return codec.Task{}, err
	}

	*target = merged
	if err := s.rewrite(records); err != nil {
		return codec.Task{}, err
	}
	return copyTask(target), nil
}

// SoftDelete marks the task deleted without removing its line.
func (s *TaskStore) SoftDelete(id int) (codec.Task, error) {
	s.protect("task-delete")

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return codec.Task{}, err
	}
	target := findTask(records, id)
	if target == nil {
		return codec.Task{}, apperr.Newf(apperr.NotFound, "task %d not found", id)
	}

	target.Status = "deleted"
	if err := s.rewrite(records); err != nil {
		return codec.Task{}, err
	}
	return copyTask(target), nil
}

// RenameCategory renames a label in the registry and cascades the rename into
// every task referencing it, under the store's rewrite discipline.
func (s *TaskStore) RenameCategory(old, new string) ([]string, error) {
	s.protect("category-rename")

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	categories, err := s.reg.Rename(old, new)
	if err != nil {
		return nil, err
	}

	for _, t := range codec.Tasks(records) {
		t.Categories = replaceLabel(t.Categories, old, new)
	}
	if err := s.rewrite(records); err != nil {
		return nil, err
	}
	return categories, nil
}

// DeleteCategory removes a label from the registry and gives every task that
// referenced it the default category instead.
func (s *TaskStore) DeleteCategory(name string) ([]string, error) {
	s.protect("category-delete")

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	categories, err := s.reg.Delete(name)
	if err != nil {
		return nil, err
	}

	for _, t := range codec.Tasks(records) {
		t.Categories = stripLabel(t.Categories, name)
	}
	if err := s.rewrite(records); err != nil {
		return nil, err
	}
	return categories, nil
}

func findTask(records []codec.Record, id int) *codec.Task {
	for _, t := range codec.Tasks(records) {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func copyTask(t *codec.Task) codec.Task {
	out := *t
	out.Categories = append([]string(nil), t.Categories...)
	if t.DueDate != nil {
		due := *t.DueDate
		out.DueDate = &due
	}
	return out
}

func replaceLabel(categories []string, old, new string) []string {
	replaced := make([]string, 0, len(categories))
	seen := map[string]bool{}
	for _, cat := range categories {
		if strings.EqualFold(cat, old) {
			cat = new
		}
		key := strings.ToLower(cat)
		if seen[key] {
			continue
		}
		seen[key] = true
		replaced = append(replaced, cat)
	}
	return replaced
}

func stripLabel(categories []string, name string) []string {
	remaining := make([]string, 0, len(categories))
	seen := map[string]bool{}
	for _, cat := range categories {
		if strings.EqualFold(cat, name) {
			continue
		}
		key := strings.ToLower(cat)
		if seen[key] {
			continue
		}
		seen[key] = true
		remaining = append(remaining, cat)
	}
	if len(remaining) == 0 {
		remaining = []string{codec.DefaultCategory}
	}
	return remaining
}
