package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/hardware-is-not-software/taskman/internal/apperr"
	"github.com/hardware-is-not-software/taskman/internal/atomicfile"
	"github.com/hardware-is-not-software/taskman/internal/config"
	"github.com/hardware-is-not-software/taskman/internal/dates"
)

const maxNoteNameLength = 100

// datedFilename matches the YYYY_M_D_<name>.md filename convention.
var datedFilename = regexp.MustCompile(`^(\d{4}_\d{1,2}_\d{1,2})_(.+)\.md$`)

// unsafeNameChars matches everything outside the safe identifier set.
var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Note is a single note file.
type Note struct {
	Filename string `json:"filename"`
	Name     string `json:"name"`
	Date     string `json:"date"`
	Path     string `json:"path,omitempty"`
	Content  string `json:"content,omitempty"`
}

// NoteMatch is one search hit with an optional content snippet.
type NoteMatch struct {
	Filename string  `json:"filename"`
	Name     string  `json:"name"`
	Date     string  `json:"date"`
	Snippet  *string `json:"snippet"`
}

// NoteStore owns the notes directory. One file per note.
type NoteStore struct {
	cfg  *config.Manager
	hook ProtectiveHook
	mu   sync.Mutex
}

// NewNoteStore creates a note store over the configured notes directory.
func NewNoteStore(cfg *config.Manager) *NoteStore {
	return &NoteStore{cfg: cfg}
}

// SetProtectiveHook wires the snapshot manager's protective hook.
func (s *NoteStore) SetProtectiveHook(hook ProtectiveHook) {
	s.hook = hook
}

// Locker exposes the writer lock for consistent snapshot copies.
func (s *NoteStore) Locker() sync.Locker { return &s.mu }

func (s *NoteStore) protect(trigger string) {
	if s.hook == nil {
		return
	}
	s.hook(trigger)
}

// List returns every note in the directory, newest date first.
func (s *NoteStore) List() ([]Note, error) {
	dir := s.cfg.Current().TopicsDir
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []Note{}, nil
	}
	if err != nil {
		return nil, apperr.Newf(apperr.Misconfigured, "reading notes directory: %v", err)
	}

	notes := make([]Note, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		name, date := splitNoteFilename(filepath.Join(dir, entry.Name()), entry.Name())
		notes = append(notes, Note{
			Filename: entry.Name(),
			Name:     name,
			Date:     date,
			Path:     filepath.Join(dir, entry.Name()),
		})
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].Date > notes[j].Date })
	return notes, nil
}

// Create writes a new note. Without an explicit path the filename is derived
// from today's date and the sanitized name; an explicit path must resolve
// inside the notes root.
func (s *NoteStore) Create(name, content, explicitPath string) (Note, error) {
	s.protect("topic-create")

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.cfg.Current().TopicsDir
	safeName := SanitizeNoteName(name)
	today := dates.Today()

	var path string
	var filename string
	if explicitPath != "" {
		resolved, err := resolveInsideRoot(dir, explicitPath)
		if err != nil {
			return Note{}, err
		}
		if !strings.HasSuffix(strings.ToLower(resolved), ".md") {
			resolved += ".md"
		}
		path = resolved
		filename = filepath.Base(path)
		safeName = strings.TrimSuffix(filename, filepath.Ext(filename))
	} else {
		filename = fmt.Sprintf("%d_%d_%d_%s.md", today.Year(), int(today.Month()), today.Day(), safeName)
		path = filepath.Join(dir, filename)
	}

	if _, err := os.Stat(path); err == nil {
		return Note{}, apperr.New(apperr.Conflict, "note with this name already exists")
	}
	if err := atomicfile.WriteFile(path, []byte(content)); err != nil {
		return Note{}, apperr.Newf(apperr.IOFailure, "creating note: %v", err)
	}

	return Note{
		Filename: filename,
		Name:     safeName,
		Date:     today.String(),
		Path:     path,
	}, nil
}

// Read returns a note's content by filename.
func (s *NoteStore) Read(filename string) (Note, error) {
	dir := s.cfg.Current().TopicsDir
	path, err := resolveInsideRoot(dir, filename)
	if err != nil {
		return Note{}, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Note{}, apperr.Newf(apperr.NotFound, "note %q not found", filename)
	}
	if err != nil {
		return Note{}, apperr.Newf(apperr.IOFailure, "reading note: %v", err)
	}

	name, date := splitNoteFilename(path, filepath.Base(path))
	return Note{
		Filename: filepath.Base(path),
		Name:     name,
		Date:     date,
		Content:  string(data),
	}, nil
}

// Update overwrites an existing note's content atomically.
func (s *NoteStore) Update(filename, content string) (Note, error) {
	s.protect("topic-update")

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.cfg.Current().TopicsDir
	path, err := resolveInsideRoot(dir, filename)
	if err != nil {
		return Note{}, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Note{}, apperr.Newf(apperr.NotFound, "note %q not found", filename)
	}
	if err := atomicfile.WriteFile(path, []byte(content)); err != nil {
		return Note{}, apperr.Newf(apperr.IOFailure, "saving note: %v", err)
	}

	name, date := splitNoteFilename(path, filepath.Base(path))
	return Note{Filename: filepath.Base(path), Name: name, Date: date}, nil
}

// Search matches query case-insensitively against note filenames and content,
// returning up to limit hits with a first-match snippet.
func (s *NoteStore) Search(query string, limit int) ([]NoteMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []NoteMatch{}, nil
	}
	if limit < 1 {
		limit = 1
	}

	notes, err := s.List()
	if err != nil {
		return nil, err
	}

	queryLower := strings.ToLower(query)
	var matches []NoteMatch
	for _, note := range notes {
		if len(matches) >= limit {
			break
		}

		inName := strings.Contains(strings.ToLower(note.Name), queryLower) ||
			strings.Contains(strings.ToLower(note.Filename), queryLower)

		content, err := os.ReadFile(note.Path)
		if err != nil {
			content = nil
		}

		var snippet *string
		if idx := strings.Index(strings.ToLower(string(content)), queryLower); idx >= 0 {
			snippet = matchSnippet(string(content), queryLower)
		}

		if inName || snippet != nil {
			matches = append(matches, NoteMatch{
				Filename: note.Filename,
				Name:     note.Name,
				Date:     note.Date,
				Snippet:  snippet,
			})
		}
	}
	if matches == nil {
		matches = []NoteMatch{}
	}
	return matches, nil
}

// matchSnippet returns the first line containing the query, trimmed to 200
// characters.
func matchSnippet(content, queryLower string) *string {
	for _, line := range strings.Split(content, "\n") {
		if !strings.Contains(strings.ToLower(line), queryLower) {
			continue
		}
		trimmed := strings.TrimSpace(line)
		snippet := trimmed
		if len(trimmed) > 200 {
			snippet = trimmed[:200] + "..."
		}
		return &snippet
	}
	return nil
}

// SanitizeNoteName strips characters outside the safe identifier set and
// bounds the length.
func SanitizeNoteName(name string) string {
	safe := unsafeNameChars.ReplaceAllString(strings.TrimSpace(name), "_")
	if safe == "" {
		safe = "untitled"
	}
	if len(safe) > maxNoteNameLength {
		safe = safe[:maxNoteNameLength]
	}
	return safe
}

// resolveInsideRoot resolves candidate against the notes root and rejects
// anything that escapes it.
func resolveInsideRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", apperr.Newf(apperr.Validation, "invalid notes root: %v", err)
	}

	path := candidate
	if !filepath.IsAbs(path) {
		path = filepath.Join(rootAbs, path)
	}
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return "", apperr.Newf(apperr.Validation, "invalid note path: %v", err)
	}

	rel, err := filepath.Rel(rootAbs, pathAbs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperr.New(apperr.Conflict, "note file must be inside the configured notes folder")
	}
	return pathAbs, nil
}

// splitNoteFilename extracts the display name and date from a filename,
// falling back to the file's modification time for undated names.
func splitNoteFilename(path, filename string) (name, date string) {
	if m := datedFilename.FindStringSubmatch(filename); m != nil {
		return m[2], strings.ReplaceAll(m[1], "_", "-")
	}
	name = strings.TrimSuffix(filename, filepath.Ext(filename))
	date = dates.Today().String()
	if info, err := os.Stat(path); err == nil {
		mod := info.ModTime()
		date = dates.New(mod.Year(), mod.Month(), mod.Day()).String()
	}
	return name, date
}
