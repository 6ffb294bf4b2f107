// Package codec converts tasks between their in-memory representation and the
// canonical tasks-file format: one header line per task of the form
//
//	(status|priority|date|due|cat,cat) first description line
//
// followed by optional continuation lines indented four spaces. Closing
// remarks open with an indented "[closing_remarks] " marker. Lines that do
// not match the grammar are retained verbatim in file position so edits made
// outside the program are never silently discarded.
package codec

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"strings"

	"github.com/hardware-is-not-software/taskman/internal/apperr"
	"github.com/hardware-is-not-software/taskman/internal/dates"
)

// DefaultCategory is the reserved fallback category label.
const DefaultCategory = "default"

// Allowed enum values for task fields.
var (
	Statuses   = []string{"created", "active", "closed", "deleted"}
	Priorities = []string{"urgent", "normal", "low"}
)

const (
	indent        = "    "
	remarksMarker = indent + "[closing_remarks] "
)

// headerPattern matches the structured header: (fields) description.
var headerPattern = regexp.MustCompile(`^\(([^)]+)\)\s+(.+)$`)

// legacyPattern matches the legacy single-field header: (status) description.
var legacyPattern = regexp.MustCompile(`^\((\w+)\)\s+(.+)$`)

// categoryUnsafe matches characters that would corrupt the header structure.
var categoryUnsafe = regexp.MustCompile(`[|()]+`)

// Task is the in-memory representation of one task line.
type Task struct {
	ID             int      `json:"id"`
	Status         string   `json:"status"`
	Priority       string   `json:"priority"`
	Date           string   `json:"date"`
	DueDate        *string  `json:"due_date"`
	Description    string   `json:"description"`
	Categories     []string `json:"categories"`
	ClosingRemarks string   `json:"closing_remarks,omitempty"`
}

// Record is one entry of the tasks file: either a parsed task or a raw line
// preserved byte-for-byte.
type Record struct {
	Task *Task
	Raw  string
}

// Decode parses the tasks file, assigning ordinal ids to parsed tasks and
// wrapping everything else in raw records.
func Decode(r io.Reader) ([]Record, error) {
	var records []Record
	var current *Task
	inRemarks := false
	nextID := 0

	flush := func() {
		if current != nil {
			records = append(records, Record{Task: current})
			current = nil
		}
		inRemarks = false
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if m := headerPattern.FindStringSubmatch(line); m != nil {
			header, description := m[1], m[2]
			parts := strings.Split(header, "|")
			// Header-shaped lines with out-of-grammar values are kept raw,
			// not parsed: a parsed task must survive the next Encode pass.
			if len(parts) >= 3 &&
				ValidateStatus(parts[0]) == nil &&
				ValidatePriority(parts[1]) == nil &&
				dates.Valid(parts[2]) {
				flush()
				due, cats := parseHeaderTail(parts)
				current = &Task{
					ID:          nextID,
					Status:      parts[0],
					Priority:    parts[1],
					Date:        parts[2],
					DueDate:     due,
					Description: description,
					Categories:  cats,
				}
				nextID++
				continue
			}
		}

		if m := legacyPattern.FindStringSubmatch(line); m != nil && ValidateStatus(m[1]) == nil {
			flush()
			current = &Task{
				ID:          nextID,
				Status:      m[1],
				Priority:    "normal",
				Date:        dates.Today().String(),
				Description: strings.TrimSpace(m[2]),
				Categories:  []string{DefaultCategory},
			}
			nextID++
			continue
		}

		if strings.HasPrefix(line, indent) && current != nil {
			if strings.HasPrefix(line, remarksMarker) {
				inRemarks = true
				current.ClosingRemarks = line[len(remarksMarker):]
				continue
			}
			if inRemarks {
				current.ClosingRemarks += "\n" + line[len(indent):]
				continue
			}
			current.Description += "\n" + line[len(indent):]
			continue
		}

		// Foreign or malformed line: keep it in position, verbatim. It also
		// terminates any open task so file order is preserved.
		flush()
		records = append(records, Record{Raw: line})
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, apperr.Newf(apperr.IOFailure, "reading tasks file: %v", err)
	}
	return records, nil
}

// parseHeaderTail interprets header fields beyond status|priority|date: an
// optional due date followed by an optional comma-separated category list.
func parseHeaderTail(parts []string) (*string, []string) {
	var due *string
	var catsRaw string

	if len(parts) >= 4 {
		candidate := strings.TrimSpace(parts[3])
		switch {
		case candidate == "":
			if len(parts) >= 5 {
				catsRaw = strings.Join(parts[4:], "|")
			}
		case dates.Valid(candidate):
			d := candidate
			due = &d
			if len(parts) >= 5 {
				catsRaw = strings.Join(parts[4:], "|")
			}
		default:
			catsRaw = strings.Join(parts[3:], "|")
		}
	}

	return due, ParseCategories(catsRaw)
}

// ParseCategories splits a comma-separated category list, sanitizing each
// label and deduplicating case-insensitively. An empty result falls back to
// the default category.
func ParseCategories(raw string) []string {
	var cleaned []string
	seen := map[string]bool{}
	for _, item := range strings.Split(raw, ",") {
		name := SanitizeCategory(item)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		cleaned = append(cleaned, name)
	}
	if len(cleaned) == 0 {
		cleaned = []string{DefaultCategory}
	}
	return cleaned
}

// SanitizeCategory strips structural delimiter characters from a label read
// off disk. Labels supplied through the API are rejected instead (Validate).
func SanitizeCategory(value string) string {
	name := strings.TrimSpace(value)
	if name == "" {
		return ""
	}
	name = categoryUnsafe.ReplaceAllString(name, "-")
	name = strings.TrimSpace(strings.TrimLeft(name, "-"))
	return name
}

// Encode writes records back to the tasks-file format. Raw records are
// re-emitted byte-for-byte; task records are validated first so a malformed
// value can never produce an ambiguous line.
func Encode(w io.Writer, records []Record) error {
	var buf bytes.Buffer
	for i := range records {
		rec := &records[i]
		if rec.Task == nil {
			buf.WriteString(rec.Raw)
			buf.WriteByte('\n')
			continue
		}
		if err := Validate(rec.Task); err != nil {
			return err
		}
		writeTask(&buf, rec.Task)
	}
	_, err := w.Write(buf.Bytes())
	if err != nil {
		return apperr.Newf(apperr.IOFailure, "writing tasks file: %v", err)
	}
	return nil
}

func writeTask(buf *bytes.Buffer, t *Task) {
	due := ""
	if t.DueDate != nil {
		due = *t.DueDate
	}
	buf.WriteByte('(')
	buf.WriteString(t.Status)
	buf.WriteByte('|')
	buf.WriteString(t.Priority)
	buf.WriteByte('|')
	buf.WriteString(t.Date)
	buf.WriteByte('|')
	buf.WriteString(due)
	buf.WriteByte('|')
	buf.WriteString(strings.Join(t.Categories, ","))
	buf.WriteString(") ")

	descLines := strings.Split(t.Description, "\n")
	buf.WriteString(descLines[0])
	buf.WriteByte('\n')
	for _, line := range descLines[1:] {
		buf.WriteString(indent)
		buf.WriteString(line)
		buf.WriteByte('\n')
	}

	if t.ClosingRemarks != "" {
		remLines := strings.Split(t.ClosingRemarks, "\n")
		buf.WriteString(remarksMarker)
		buf.WriteString(remLines[0])
		buf.WriteByte('\n')
		for _, line := range remLines[1:] {
			buf.WriteString(indent)
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
}

// Validate checks every field of a task against the grammar and enums.
func Validate(t *Task) error {
	if strings.TrimSpace(t.Description) == "" {
		return apperr.New(apperr.Validation, "description is required")
	}
	descLines := strings.Split(t.Description, "\n")
	if strings.TrimSpace(descLines[0]) == "" || descLines[0][0] == ' ' || descLines[0][0] == '\t' {
		return apperr.New(apperr.Validation, "description must start with non-blank, unindented text")
	}
	for _, line := range descLines[1:] {
		if strings.HasPrefix(line, "[closing_remarks] ") {
			return apperr.New(apperr.Validation, "description lines must not start with the closing remarks marker")
		}
	}
	for _, line := range strings.Split(t.ClosingRemarks, "\n") {
		if strings.HasPrefix(line, "[closing_remarks] ") {
			return apperr.New(apperr.Validation, "closing remarks must not contain the closing remarks marker")
		}
	}
	if err := ValidateStatus(t.Status); err != nil {
		return err
	}
	if err := ValidatePriority(t.Priority); err != nil {
		return err
	}
	if !dates.Valid(t.Date) {
		return apperr.Newf(apperr.Validation, "invalid date %q: expected YYYY-MM-DD", t.Date)
	}
	if t.DueDate != nil && !dates.Valid(*t.DueDate) {
		return apperr.Newf(apperr.Validation, "invalid due_date %q: expected YYYY-MM-DD", *t.DueDate)
	}
	if len(t.Categories) == 0 {
		return apperr.New(apperr.Validation, "at least one category is required")
	}
	for _, cat := range t.Categories {
		if err := ValidateCategoryName(cat); err != nil {
			return err
		}
	}
	return nil
}

// ValidateStatus checks that a status is in the allowed list.
func ValidateStatus(status string) error {
	for _, s := range Statuses {
		if s == status {
			return nil
		}
	}
	return apperr.Newf(apperr.Validation, "invalid status %q", status).
		WithDetails(map[string]any{"status": status, "allowed": Statuses})
}

// ValidatePriority checks that a priority is in the allowed list.
func ValidatePriority(priority string) error {
	for _, p := range Priorities {
		if p == priority {
			return nil
		}
	}
	return apperr.Newf(apperr.Validation, "invalid priority %q", priority).
		WithDetails(map[string]any{"priority": priority, "allowed": Priorities})
}

// ValidateCategoryName rejects labels that would collide with the header
// delimiters or the category separator.
func ValidateCategoryName(name string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.New(apperr.Validation, "category name is required")
	}
	if strings.ContainsAny(name, "|(),") {
		return apperr.Newf(apperr.Validation,
			"category name %q must not contain '|', '(', ')' or ','", name)
	}
	return nil
}

// Tasks extracts the parsed tasks from a record sequence, in file order.
func Tasks(records []Record) []*Task {
	var tasks []*Task
	for i := range records {
		if records[i].Task != nil {
			tasks = append(tasks, records[i].Task)
		}
	}
	return tasks
}

// NextID returns the id the next created task will receive.
func NextID(records []Record) int {
	max := -1
	for i := range records {
		if records[i].Task != nil && records[i].Task.ID > max {
			max = records[i].Task.ID
		}
	}
	return max + 1
}
