// Package category owns the set of valid category labels, persisted as a JSON
// array with the reserved default label always first.
package category

import (
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/hardware-is-not-software/taskman/internal/apperr"
	"github.com/hardware-is-not-software/taskman/internal/atomicfile"
	"github.com/hardware-is-not-software/taskman/internal/codec"
)

// Registry manages the category list file. Identity is case-preserving but
// duplicate detection is case-insensitive, matching how labels behave inside
// task lines.
type Registry struct {
	path string
	mu   sync.Mutex
}

// NewRegistry returns a registry backed by the file at path. The file is
// created on first use.
func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

// Path returns the registry file path.
func (r *Registry) Path() string { return r.path }

// List returns all categories, default first.
func (r *Registry) List() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

// Create adds a new category. It fails with Conflict when a label with the
// same case-insensitive identity exists.
func (r *Registry) Create(name string) ([]string, error) {
	name = codec.SanitizeCategory(name)
	if err := codec.ValidateCategoryName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	categories, err := r.load()
	if err != nil {
		return nil, err
	}
	if containsFold(categories, name) {
		return nil, apperr.Newf(apperr.Conflict, "category %q already exists", name)
	}
	return r.save(append(categories, name))
}

// Rename replaces old with new in the registry only. Task cascade is the task
// store's job so the snapshot hook and rewrite discipline apply there.
func (r *Registry) Rename(old, new string) ([]string, error) {
	if strings.EqualFold(old, codec.DefaultCategory) {
		return nil, apperr.New(apperr.Conflict, "default category cannot be renamed")
	}
	if strings.EqualFold(new, codec.DefaultCategory) {
		return nil, apperr.New(apperr.Conflict, "default category cannot be used as rename target")
	}
	if err := codec.ValidateCategoryName(new); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	categories, err := r.load()
	if err != nil {
		return nil, err
	}
	if !containsFold(categories, old) {
		return nil, apperr.Newf(apperr.NotFound, "category %q not found", old)
	}
	if containsFold(categories, new) && !strings.EqualFold(old, new) {
		return nil, apperr.Newf(apperr.Conflict, "category %q already exists", new)
	}

	renamed := make([]string, len(categories))
	for i, cat := range categories {
		if strings.EqualFold(cat, old) {
			renamed[i] = new
		} else {
			renamed[i] = cat
		}
	}
	return r.save(renamed)
}

// Delete removes a category from the registry only. The default category is
// protected.
func (r *Registry) Delete(name string) ([]string, error) {
	if strings.EqualFold(name, codec.DefaultCategory) {
		return nil, apperr.New(apperr.Conflict, "default category cannot be deleted")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	categories, err := r.load()
	if err != nil {
		return nil, err
	}
	if !containsFold(categories, name) {
		return nil, apperr.Newf(apperr.NotFound, "category %q not found", name)
	}

	remaining := categories[:0:0]
	for _, cat := range categories {
		if !strings.EqualFold(cat, name) {
			remaining = append(remaining, cat)
		}
	}
	return r.save(remaining)
}

// Contains reports whether name exists in the registry (case-insensitive).
func (r *Registry) Contains(name string) (bool, error) {
	categories, err := r.List()
	if err != nil {
		return false, err
	}
	return containsFold(categories, name), nil
}

// Resolve maps requested labels onto registered ones, preserving registered
// casing, dropping unknown labels, and falling back to the default category
// when nothing survives.
func (r *Registry) Resolve(labels []string) ([]string, error) {
	categories, err := r.List()
	if err != nil {
		return nil, err
	}

	lookup := make(map[string]string, len(categories))
	for _, cat := range categories {
		lookup[strings.ToLower(cat)] = cat
	}

	var resolved []string
	seen := map[string]bool{}
	for _, label := range labels {
		name := codec.SanitizeCategory(label)
		match, ok := lookup[strings.ToLower(name)]
		if !ok {
			continue
		}
		key := strings.ToLower(match)
		if seen[key] {
			continue
		}
		seen[key] = true
		resolved = append(resolved, match)
	}
	if len(resolved) == 0 {
		if def, ok := lookup[codec.DefaultCategory]; ok {
			resolved = []string{def}
		} else {
			resolved = []string{codec.DefaultCategory}
		}
	}
	return resolved, nil
}

// SyncFromLabels appends labels seen in the tasks file but missing from the
// registry, so externally edited files self-heal on read.
func (r *Registry) SyncFromLabels(labels []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	categories, err := r.load()
	if err != nil {
		return nil, err
	}

	changed := false
	for _, label := range labels {
		name := codec.SanitizeCategory(label)
		if name == "" || containsFold(categories, name) {
			continue
		}
		categories = append(categories, name)
		changed = true
	}
	if !changed {
		return categories, nil
	}
	return r.save(categories)
}

// load reads the registry file, creating it with the default category when
// missing and repairing unreadable content.
func (r *Registry) load() ([]string, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return r.save([]string{codec.DefaultCategory})
	}
	if err != nil {
		return nil, apperr.Newf(apperr.IOFailure, "reading categories: %v", err)
	}

	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return r.save([]string{codec.DefaultCategory})
	}
	return normalize(raw), nil
}

// save writes the normalized list (default first) atomically.
func (r *Registry) save(categories []string) ([]string, error) {
	ordered := normalize(categories)
	data, err := json.MarshalIndent(ordered, "", "  ")
	if err != nil {
		return nil, apperr.Newf(apperr.IOFailure, "encoding categories: %v", err)
	}
	if err := atomicfile.WriteFile(r.path, append(data, '\n')); err != nil {
		return nil, apperr.Newf(apperr.IOFailure, "saving categories: %v", err)
	}
	return ordered, nil
}

func normalize(raw []string) []string {
	ordered := []string{codec.DefaultCategory}
	seen := map[string]bool{codec.DefaultCategory: true}
	for _, item := range raw {
		name := codec.SanitizeCategory(item)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		ordered = append(ordered, name)
	}
	return ordered
}

func containsFold(categories []string, name string) bool {
	for _, cat := range categories {
		if strings.EqualFold(cat, name) {
			return true
		}
	}
	return false
}
