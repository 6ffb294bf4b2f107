package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/hardware-is-not-software/taskman/internal/apperr"
	"github.com/hardware-is-not-software/taskman/internal/category"
	"github.com/hardware-is-not-software/taskman/internal/codec"
	"github.com/hardware-is-not-software/taskman/internal/dates"
	"github.com/hardware-is-not-software/taskman/internal/store"
)

const (
	defaultTaskLimit = 200
	maxTaskLimit     = 500
	defaultNoteLimit = 50
	maxNoteLimit     = 100
)

// ToolHandler executes MCP tool calls against the task and note stores.
type ToolHandler struct {
	tasks *store.TaskStore
	notes *store.NoteStore
	reg   *category.Registry
}

// NewToolHandler creates a tool handler.
func NewToolHandler(tasks *store.TaskStore, notes *store.NoteStore, reg *category.Registry) *ToolHandler {
	return &ToolHandler{tasks: tasks, notes: notes, reg: reg}
}

// Handle dispatches a tool call by name.
func (h *ToolHandler) Handle(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	switch name {
	case "list_tasks":
		return h.listTasks(args)
	case "list_categories":
		return h.listCategories()
	case "create_task":
		return h.createTask(args)
	case "set_task_status":
		return h.setTaskStatus(args)
	case "close_task":
		return h.closeTask(args)
	case "create_note":
		return h.createNote(args)
	case "search_notes":
		return h.searchNotes(args)
	case "get_note":
		return h.getNote(args)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func (h *ToolHandler) listTasks(args map[string]interface{}) (interface{}, error) {
	status := stringArg(args, "status")
	categoryArg := stringArg(args, "category")
	priority := stringArg(args, "priority")
	overdueOnly := boolArg(args, "overdue_only")
	limit := intArg(args, "limit", defaultTaskLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxTaskLimit {
		limit = maxTaskLimit
	}

	if status != "" {
		if err := codec.ValidateStatus(status); err != nil {
			return nil, err
		}
	}
	if priority != "" {
		if err := codec.ValidatePriority(priority); err != nil {
			return nil, err
		}
	}

	tasks, err := h.tasks.List()
	if err != nil {
		return nil, err
	}

	today := dates.Today().String()
	out := make([]map[string]interface{}, 0, len(tasks))
	for i := range tasks {
		t := &tasks[i]
		if t.Status == "deleted" {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		if priority != "" && t.Priority != priority {
			continue
		}
		if categoryArg != "" && !hasCategory(t, categoryArg) {
			continue
		}
		due := isDue(t, today)
		if overdueOnly && !due {
			continue
		}
		out = append(out, taskPayload(t, due))
		if len(out) >= limit {
			break
		}
	}
	return map[string]interface{}{"tasks": out, "count": len(out)}, nil
}

func (h *ToolHandler) listCategories() (interface{}, error) {
	categories, err := h.reg.List()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"categories": categories}, nil
}

func (h *ToolHandler) createTask(args map[string]interface{}) (interface{}, error) {
	description := strings.TrimSpace(stringArg(args, "description"))
	if description == "" {
		return nil, apperr.New(apperr.Validation, "description is required")
	}

	req := store.CreateRequest{
		Description: description,
		Status:      stringArg(args, "status"),
		Priority:    stringArg(args, "priority"),
	}
	if due := stringArg(args, "due_date"); due != "" {
		req.DueDate = &due
	}
	if cat := stringArg(args, "category"); cat != "" {
		ok, err := h.reg.Contains(cat)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.Newf(apperr.Validation, "unknown category %q; use list_categories to see valid names", cat)
		}
		req.Categories = []string{cat}
	}

	task, err := h.tasks.Create(req)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"task": taskPayload(&task, false)}, nil
}

func (h *ToolHandler) setTaskStatus(args map[string]interface{}) (interface{}, error) {
	id, ok := idArg(args, "task_id")
	if !ok {
		return nil, apperr.New(apperr.Validation, "task_id is required")
	}
	status := stringArg(args, "status")
	if err := codec.ValidateStatus(status); err != nil {
		return nil, err
	}

	task, err := h.tasks.Update(id, store.UpdateRequest{Status: &status})
	if err != nil {
		return nil, err
	}
	today := dates.Today().String()
	return map[string]interface{}{"task": taskPayload(&task, isDue(&task, today))}, nil
}

func (h *ToolHandler) closeTask(args map[string]interface{}) (interface{}, error) {
	id, ok := idArg(args, "task_id")
	if !ok {
		return nil, apperr.New(apperr.Validation, "task_id is required")
	}

	status := "closed"
	req := store.UpdateRequest{Status: &status}
	if remarks := strings.TrimSpace(stringArg(args, "closing_remarks")); remarks != "" {
		req.ClosingRemarks = &remarks
		req.HasRemarks = true
	}

	task, err := h.tasks.Update(id, req)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"task": taskPayload(&task, false)}, nil
}

func (h *ToolHandler) createNote(args map[string]interface{}) (interface{}, error) {
	name := strings.TrimSpace(stringArg(args, "name"))
	if name == "" {
		return nil, apperr.New(apperr.Validation, "name is required")
	}
	content := stringArg(args, "content")
	explicitPath := stringArg(args, "filepath")

	note, err := h.notes.Create(name, content, explicitPath)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"filename": note.Filename,
		"name":     note.Name,
		"date":     note.Date,
		"path":     note.Path,
	}, nil
}

func (h *ToolHandler) searchNotes(args map[string]interface{}) (interface{}, error) {
	query := strings.TrimSpace(stringArg(args, "query"))
	if query == "" {
		return nil, apperr.New(apperr.Validation, "query is required")
	}
	limit := intArg(args, "limit", defaultNoteLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxNoteLimit {
		limit = maxNoteLimit
	}

	matches, err := h.notes.Search(query, limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"matches": matches, "count": len(matches)}, nil
}

func (h *ToolHandler) getNote(args map[string]interface{}) (interface{}, error) {
	filename := strings.TrimSpace(stringArg(args, "filename"))
	if filename == "" {
		return nil, apperr.New(apperr.Validation, "filename is required")
	}
	if !strings.HasSuffix(filename, ".md") {
		filename += ".md"
	}

	note, err := h.notes.Read(filename)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"filename": note.Filename,
		"name":     note.Name,
		"date":     note.Date,
		"content":  note.Content,
	}, nil
}

// isDue reports whether a task's due date has arrived. Closed and deleted
// tasks are never due.
func isDue(t *codec.Task, today string) bool {
	if t.DueDate == nil || *t.DueDate == "" {
		return false
	}
	if t.Status == "closed" || t.Status == "deleted" {
		return false
	}
	return *t.DueDate <= today
}

func hasCategory(t *codec.Task, name string) bool {
	for _, c := range t.Categories {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

func taskPayload(t *codec.Task, due bool) map[string]interface{} {
	return map[string]interface{}{
		"id":              t.ID,
		"status":          t.Status,
		"priority":        t.Priority,
		"date":            t.Date,
		"due_date":        t.DueDate,
		"description":     t.Description,
		"categories":      t.Categories,
		"closing_remarks": t.ClosingRemarks,
		"is_due":          due,
	}
}

// Argument helpers. MCP arguments arrive as decoded JSON, so numbers are
// float64 and everything is optional.

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func boolArg(args map[string]interface{}, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}

func intArg(args map[string]interface{}, key string, fallback int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return fallback
}

func idArg(args map[string]interface{}, key string) (int, bool) {
	v, ok := args[key].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

func toolDefinitions() []Tool {
	return []Tool{
		{
			Name:        "list_tasks",
			Description: "List tasks, optionally filtered by status, category, priority or overdue state. Soft-deleted tasks are never returned.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"status": map[string]interface{}{
						"type":        "string",
						"description": "Filter by status (created, active, closed)",
					},
					"category": map[string]interface{}{
						"type":        "string",
						"description": "Filter by category name",
					},
					"priority": map[string]interface{}{
						"type":        "string",
						"description": "Filter by priority (urgent, normal, low)",
					},
					"overdue_only": map[string]interface{}{
						"type":        "boolean",
						"description": "Only return tasks whose due date has arrived",
					},
					"limit": map[string]interface{}{
						"type":        "number",
						"description": "Maximum tasks to return (default 200, max 500)",
					},
				},
			},
		},
		{
			Name:        "list_categories",
			Description: "List all registered category names.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "create_task",
			Description: "Create a new task. The category must already exist; use list_categories first.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"description": map[string]interface{}{
						"type":        "string",
						"description": "Task description (first line becomes the summary)",
					},
					"status": map[string]interface{}{
						"type":        "string",
						"description": "Initial status (default created)",
					},
					"priority": map[string]interface{}{
						"type":        "string",
						"description": "Priority: urgent, normal or low (default normal)",
					},
					"due_date": map[string]interface{}{
						"type":        "string",
						"description": "Due date as YYYY-MM-DD",
					},
					"category": map[string]interface{}{
						"type":        "string",
						"description": "Existing category name",
					},
				},
				"required": []string{"description"},
			},
		},
		{
			Name:        "set_task_status",
			Description: "Change a task's status.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"task_id": map[string]interface{}{
						"type":        "number",
						"description": "Task id",
					},
					"status": map[string]interface{}{
						"type":        "string",
						"description": "New status (created, active, closed)",
					},
				},
				"required": []string{"task_id", "status"},
			},
		},
		{
			Name:        "close_task",
			Description: "Close a task, optionally attaching closing remarks.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"task_id": map[string]interface{}{
						"type":        "number",
						"description": "Task id",
					},
					"closing_remarks": map[string]interface{}{
						"type":        "string",
						"description": "Optional remarks recorded with the closed task",
					},
				},
				"required": []string{"task_id"},
			},
		},
		{
			Name:        "create_note",
			Description: "Create a markdown note. The filename is derived from today's date and the sanitized name.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{
						"type":        "string",
						"description": "Note name",
					},
					"content": map[string]interface{}{
						"type":        "string",
						"description": "Markdown content",
					},
					"filepath": map[string]interface{}{
						"type":        "string",
						"description": "Optional path relative to the notes directory",
					},
				},
				"required": []string{"name"},
			},
		},
		{
			Name:        "search_notes",
			Description: "Search notes by name, filename or content. Case-insensitive substring match.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "Search text",
					},
					"limit": map[string]interface{}{
						"type":        "number",
						"description": "Maximum matches to return (default 50, max 100)",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "get_note",
			Description: "Read a note's full content by filename.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"filename": map[string]interface{}{
						"type":        "string",
						"description": "Note filename, with or without the .md suffix",
					},
				},
				"required": []string{"filename"},
			},
		},
	}
}
