package store

import (
	"fmt"
	"strings"
	"testing"

	"github.com/hardware-is-not-software/taskman/internal/apperr"
	"github.com/hardware-is-not-software/taskman/internal/config"
	"github.com/hardware-is-not-software/taskman/internal/dates"
)

func newTestNoteStore(t *testing.T) *NoteStore {
	t.Helper()
	mgr, err := config.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("config manager: %v", err)
	}
	return NewNoteStore(mgr)
}

func TestNoteCreateDerivesFilename(t *testing.T) {
	store := newTestNoteStore(t)

	note, err := store.Create("Meeting Notes: Q1!", "content", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	today := dates.Today()
	wantPrefix := fmt.Sprintf("%d_%d_%d_", today.Year(), int(today.Month()), today.Day())
	if !strings.HasPrefix(note.Filename, wantPrefix) {
		t.Errorf("filename = %q, want prefix %q", note.Filename, wantPrefix)
	}
	if !strings.HasSuffix(note.Filename, ".md") {
		t.Errorf("filename = %q", note.Filename)
	}
	if strings.ContainsAny(note.Name, ": !") {
		t.Errorf("name not sanitized: %q", note.Name)
	}

	read, err := store.Read(note.Filename)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if read.Content != "content" {
		t.Errorf("content = %q", read.Content)
	}
}

func TestNoteCreateConflictOnExisting(t *testing.T) {
	store := newTestNoteStore(t)

	if _, err := store.Create("daily", "one", ""); err != nil {
		t.Fatal(err)
	}
	_, err := store.Create("daily", "two", "")
	if apperr.CodeOf(err) != apperr.Conflict {
		t.Errorf("error = %v", err)
	}
}

func TestNoteCreateRejectsEscapingPath(t *testing.T) {
	store := newTestNoteStore(t)

	tests := []string{
		"../outside.md",
		"../../etc/passwd",
	}
	for _, path := range tests {
		t.Run(path, func(t *testing.T) {
			_, err := store.Create("escape", "content", path)
			if apperr.CodeOf(err) != apperr.Conflict {
				t.Errorf("error = %v", err)
			}
		})
	}
}

func TestNoteUpdate(t *testing.T) {
	store := newTestNoteStore(t)

	note, err := store.Create("journal", "day one", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Update(note.Filename, "day two"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	read, err := store.Read(note.Filename)
	if err != nil {
		t.Fatal(err)
	}
	if read.Content != "day two" {
		t.Errorf("content = %q", read.Content)
	}

	if _, err := store.Update("2026_1_1_missing.md", "x"); apperr.CodeOf(err) != apperr.NotFound {
		t.Errorf("update missing error = %v", err)
	}
}

func TestNoteSearch(t *testing.T) {
	store := newTestNoteStore(t)

	if _, err := store.Create("grocery-list", "milk\neggs\nflour", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create("travel-plans", "flights to Lisbon\nhotel booking", ""); err != nil {
		t.Fatal(err)
	}

	// Content match carries a snippet.
	matches, err := store.Search("LISBON", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("matches = %d", len(matches))
	}
	if matches[0].Snippet == nil || *matches[0].Snippet != "flights to Lisbon" {
		t.Errorf("snippet = %v", matches[0].Snippet)
	}

	// Name match without content hit has no snippet.
	matches, err = store.Search("grocery", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("matches = %d", len(matches))
	}
	if matches[0].Snippet != nil {
		t.Errorf("unexpected snippet %q", *matches[0].Snippet)
	}

	// No hits.
	matches, err = store.Search("nonexistent", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Errorf("matches = %v", matches)
	}
}

func TestNoteSearchSnippetTruncated(t *testing.T) {
	store := newTestNoteStore(t)

	long := "needle " + strings.Repeat("x", 300)
	if _, err := store.Create("big", long, ""); err != nil {
		t.Fatal(err)
	}

	matches, err := store.Search("needle", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Snippet == nil {
		t.Fatalf("matches = %v", matches)
	}
	if len(*matches[0].Snippet) != 203 || !strings.HasSuffix(*matches[0].Snippet, "...") {
		t.Errorf("snippet length = %d", len(*matches[0].Snippet))
	}
}

func TestSanitizeNoteName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"has spaces", "has_spaces"},
		{"../../sneaky", "______sneaky"},
		{"", "untitled"},
		{"   ", "untitled"},
	}
	for _, tt := range tests {
		if got := SanitizeNoteName(tt.in); got != tt.want {
			t.Errorf("SanitizeNoteName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
