package category

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hardware-is-not-software/taskman/internal/apperr"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(filepath.Join(t.TempDir(), "categories.json"))
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected structured error, got %v", err)
	}
	return ae.Code
}

func TestListCreatesDefaultFile(t *testing.T) {
	reg := newTestRegistry(t)

	categories, err := reg.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(categories) != 1 || categories[0] != "default" {
		t.Errorf("fresh registry = %v", categories)
	}
	if _, err := os.Stat(reg.Path()); err != nil {
		t.Errorf("registry file not created: %v", err)
	}
}

func TestCreateAndDuplicate(t *testing.T) {
	reg := newTestRegistry(t)

	categories, err := reg.Create("Work")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(categories) != 2 || categories[1] != "Work" {
		t.Errorf("categories = %v", categories)
	}

	// Case-insensitive duplicate.
	if _, err := reg.Create("work"); codeOf(t, err) != apperr.Conflict {
		t.Errorf("duplicate create error = %v", err)
	}
}

func TestCreateRejectsStructuralCharacters(t *testing.T) {
	reg := newTestRegistry(t)
	if _, err := reg.Create("a,b"); codeOf(t, err) != apperr.Validation {
		t.Errorf("comma label error = %v", err)
	}
}

func TestRename(t *testing.T) {
	reg := newTestRegistry(t)
	if _, err := reg.Create("work"); err != nil {
		t.Fatal(err)
	}

	categories, err := reg.Rename("work", "office")
	if err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if !containsFold(categories, "office") || containsFold(categories, "work") {
		t.Errorf("categories after rename = %v", categories)
	}

	if _, err := reg.Rename("missing", "x"); codeOf(t, err) != apperr.NotFound {
		t.Errorf("rename missing error = %v", err)
	}
	if _, err := reg.Rename("default", "x"); codeOf(t, err) != apperr.Conflict {
		t.Errorf("rename default error = %v", err)
	}
	if _, err := reg.Rename("office", "Default"); codeOf(t, err) != apperr.Conflict {
		t.Errorf("rename onto default error = %v", err)
	}
}

func TestDelete(t *testing.T) {
	reg := newTestRegistry(t)
	if _, err := reg.Create("work"); err != nil {
		t.Fatal(err)
	}

	categories, err := reg.Delete("Work")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if containsFold(categories, "work") {
		t.Errorf("categories after delete = %v", categories)
	}

	if _, err := reg.Delete("default"); codeOf(t, err) != apperr.Conflict {
		t.Errorf("delete default error = %v", err)
	}
	if _, err := reg.Delete("missing"); codeOf(t, err) != apperr.NotFound {
		t.Errorf("delete missing error = %v", err)
	}
}

func TestResolve(t *testing.T) {
	reg := newTestRegistry(t)
	if _, err := reg.Create("Work"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		labels []string
		want   []string
	}{
		{"registered casing wins", []string{"WORK"}, []string{"Work"}},
		{"unknown dropped, default fallback", []string{"nope"}, []string{"default"}},
		{"empty falls back", nil, []string{"default"}},
		{"dedupe", []string{"work", "Work", "default"}, []string{"Work", "default"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.Resolve(tt.labels)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Resolve = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("Resolve = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestSyncFromLabels(t *testing.T) {
	reg := newTestRegistry(t)

	categories, err := reg.SyncFromLabels([]string{"imported", "Imported", "", "default"})
	if err != nil {
		t.Fatalf("SyncFromLabels failed: %v", err)
	}
	if len(categories) != 2 || categories[0] != "default" || categories[1] != "imported" {
		t.Errorf("categories after sync = %v", categories)
	}
}

func TestLoadRepairsCorruptFile(t *testing.T) {
	reg := newTestRegistry(t)
	if err := os.WriteFile(reg.Path(), []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	categories, err := reg.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(categories) != 1 || categories[0] != "default" {
		t.Errorf("repaired registry = %v", categories)
	}
}
