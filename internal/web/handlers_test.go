package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/hardware-is-not-software/taskman/internal/category"
	"github.com/hardware-is-not-software/taskman/internal/codec"
	"github.com/hardware-is-not-software/taskman/internal/config"
	"github.com/hardware-is-not-software/taskman/internal/dates"
	"github.com/hardware-is-not-software/taskman/internal/mcp"
	"github.com/hardware-is-not-software/taskman/internal/snapshot"
	"github.com/hardware-is-not-software/taskman/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	mgr, err := config.NewManager(dir)
	if err != nil {
		t.Fatalf("config manager: %v", err)
	}
	reg := category.NewRegistry(config.CategoriesPath(dir))
	tasks := store.NewTaskStore(mgr, reg)
	notes := store.NewNoteStore(mgr)
	snaps := snapshot.NewManager(mgr, reg.Path(), tasks.Locker(), notes.Locker())
	mcpSrv := mcp.NewServer(mcp.NewToolHandler(tasks, notes, reg), "test-session")

	return NewServer(mgr, tasks, notes, reg, snaps, mcpSrv)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
}

func TestTaskLifecycle(t *testing.T) {
	s := newTestServer(t)

	// Create with explicit priority; everything else defaulted.
	w := doJSON(t, s, http.MethodPost, "/api/tasks", map[string]any{
		"description": "Review Q1 budget",
		"priority":    "urgent",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	var created codec.Task
	decodeBody(t, w, &created)
	if created.Status != "created" || created.Priority != "urgent" {
		t.Errorf("created = %+v", created)
	}
	if created.Date != dates.Today().String() {
		t.Errorf("date = %s", created.Date)
	}
	if len(created.Categories) != 1 || created.Categories[0] != "default" {
		t.Errorf("categories = %v", created.Categories)
	}

	// Close with remarks.
	w = doJSON(t, s, http.MethodPut, fmt.Sprintf("/api/tasks/%d", created.ID), map[string]any{
		"status":          "closed",
		"closing_remarks": "done",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", w.Code, w.Body.String())
	}
	var updated codec.Task
	decodeBody(t, w, &updated)
	if updated.Status != "closed" || updated.ClosingRemarks != "done" {
		t.Errorf("updated = %+v", updated)
	}

	// Soft delete keeps the task listed with deleted status.
	w = doJSON(t, s, http.MethodDelete, fmt.Sprintf("/api/tasks/%d", created.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/tasks", nil)
	var listing []codec.Task
	decodeBody(t, w, &listing)
	if len(listing) != 1 || listing[0].Status != "deleted" {
		t.Errorf("listing = %+v", listing)
	}
}

func TestTaskErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing description", http.MethodPost, "/api/tasks", map[string]any{"description": " "}, http.StatusBadRequest},
		{"bad status", http.MethodPost, "/api/tasks", map[string]any{"description": "x", "status": "paused"}, http.StatusBadRequest},
		{"update missing", http.MethodPut, "/api/tasks/99", map[string]any{"status": "active"}, http.StatusNotFound},
		{"delete missing", http.MethodDelete, "/api/tasks/99", nil, http.StatusNotFound},
		{"non-numeric id", http.MethodPut, "/api/tasks/abc", map[string]any{}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, s, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body %s", w.Code, tt.want, w.Body.String())
			}
			var body struct {
				Error string `json:"error"`
			}
			decodeBody(t, w, &body)
			if body.Error == "" {
				t.Errorf("error body missing: %s", w.Body.String())
			}
		})
	}
}

func TestTopicEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/topics", map[string]any{
		"name":    "meeting notes",
		"content": "# Agenda",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	var note store.Note
	decodeBody(t, w, &note)

	w = doJSON(t, s, http.MethodGet, "/api/topics/"+note.Filename, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var read store.Note
	decodeBody(t, w, &read)
	if read.Content != "# Agenda" {
		t.Errorf("content = %q", read.Content)
	}

	w = doJSON(t, s, http.MethodPut, "/api/topics/"+note.Filename, map[string]any{
		"content": "# Agenda v2",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/topics", nil)
	var listing []store.Note
	decodeBody(t, w, &listing)
	if len(listing) != 1 {
		t.Errorf("topics = %+v", listing)
	}

	// Escaping filepath is rejected.
	w = doJSON(t, s, http.MethodPost, "/api/topics", map[string]any{
		"name":     "escape",
		"filepath": "../outside.md",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("escape status = %d", w.Code)
	}
}

func TestTopicInSubdirectoryReachable(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/topics", map[string]any{
		"name":     "plan",
		"content":  "q3 roadmap",
		"filepath": "sub/plan.md",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodGet, "/api/topics/sub/plan.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, body %s", w.Code, w.Body.String())
	}
	var note store.Note
	decodeBody(t, w, &note)
	if note.Content != "q3 roadmap" {
		t.Errorf("content = %q", note.Content)
	}

	w = doJSON(t, s, http.MethodPut, "/api/topics/sub/plan.md", map[string]any{
		"content": "q3 roadmap v2",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestCategoryEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/categories", map[string]any{"name": "work"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}

	// Task carrying the label, then rename cascades into it.
	w = doJSON(t, s, http.MethodPost, "/api/tasks", map[string]any{
		"description": "task",
		"categories":  []string{"work"},
	})
	if w.Code != http.StatusCreated {
		t.Fatal(w.Body.String())
	}
	var task codec.Task
	decodeBody(t, w, &task)

	w = doJSON(t, s, http.MethodPut, "/api/categories/work", map[string]any{"name": "office"})
	if w.Code != http.StatusOK {
		t.Fatalf("rename status = %d, body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodGet, "/api/tasks", nil)
	var listing []codec.Task
	decodeBody(t, w, &listing)
	if len(listing) != 1 || listing[0].Categories[0] != "office" {
		t.Errorf("cascade failed: %+v", listing)
	}

	// Default category is protected.
	w = doJSON(t, s, http.MethodDelete, "/api/categories/default", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("delete default status = %d", w.Code)
	}

	w = doJSON(t, s, http.MethodDelete, "/api/categories/office", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/tasks", nil)
	decodeBody(t, w, &listing)
	if listing[0].Categories[0] != "default" {
		t.Errorf("delete cascade failed: %+v", listing)
	}
}

func TestStorageEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/storage", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var cfg config.Storage
	decodeBody(t, w, &cfg)

	cfg.AutoSnapshotIntervalSeconds = 90000 // above the clamp ceiling
	w = doJSON(t, s, http.MethodPut, "/api/storage", cfg)
	if w.Code != http.StatusOK {
		t.Fatalf("put status = %d, body %s", w.Code, w.Body.String())
	}
	var applied config.Storage
	decodeBody(t, w, &applied)
	if applied.AutoSnapshotIntervalSeconds != 86400 {
		t.Errorf("interval = %d", applied.AutoSnapshotIntervalSeconds)
	}
}

func TestSnapshotEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/tasks", map[string]any{"description": "keep me"})
	if w.Code != http.StatusCreated {
		t.Fatal(w.Body.String())
	}

	w = doJSON(t, s, http.MethodPost, "/api/snapshots", map[string]any{})
	if w.Code != http.StatusCreated {
		t.Fatalf("snapshot status = %d, body %s", w.Code, w.Body.String())
	}
	var meta snapshot.Metadata
	decodeBody(t, w, &meta)
	if meta.Mode != snapshot.ModeManual {
		t.Errorf("mode = %s", meta.Mode)
	}

	w = doJSON(t, s, http.MethodGet, "/api/snapshots", nil)
	var listing []snapshot.Metadata
	decodeBody(t, w, &listing)
	if len(listing) != 1 {
		t.Errorf("snapshots = %+v", listing)
	}

	w = doJSON(t, s, http.MethodPost, "/api/snapshots/"+meta.ID+"/restore", map[string]any{"mode": "revert"})
	if w.Code != http.StatusOK {
		t.Fatalf("restore status = %d, body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodPost, "/api/snapshots/nope/restore", map[string]any{"mode": "revert"})
	if w.Code != http.StatusNotFound {
		t.Errorf("restore missing status = %d", w.Code)
	}
}

func TestMCPEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/mcp", map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/list",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	decodeBody(t, w, &resp)

	names := map[string]bool{}
	for _, tool := range resp.Result.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"list_tasks", "create_task", "close_task", "search_notes"} {
		if !names[want] {
			t.Errorf("tool %s missing from %v", want, names)
		}
	}
	for _, banned := range []string{"delete_task", "restore_snapshot", "set_storage"} {
		if names[banned] {
			t.Errorf("restricted surface exposes %s", banned)
		}
	}
}

func TestMCPConfigEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/mcp-config", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		MCPServers map[string]struct {
			Type string `json:"type"`
			URL  string `json:"url"`
		} `json:"mcpServers"`
	}
	decodeBody(t, w, &body)
	if body.MCPServers["taskman"].Type != "http" {
		t.Errorf("mcp config = %s", w.Body.String())
	}
}
