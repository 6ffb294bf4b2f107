package web

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hardware-is-not-software/taskman/internal/apperr"
	"github.com/hardware-is-not-software/taskman/internal/config"
	"github.com/hardware-is-not-software/taskman/internal/fsbrowse"
	"github.com/hardware-is-not-software/taskman/internal/mcp"
	"github.com/hardware-is-not-software/taskman/internal/snapshot"
	"github.com/hardware-is-not-software/taskman/internal/store"
)

// fail writes the standard error body with the status mapped from the error
// code. Plain errors become 500.
func fail(c *gin.Context, err error) {
	c.JSON(apperr.StatusFor(err), gin.H{"error": err.Error()})
}

// Task handlers

func (s *Server) handleListTasks(c *gin.Context) {
	// Externally edited files may carry labels the registry has never seen;
	// fold them in before answering.
	if labels, err := s.tasks.Labels(); err == nil {
		if _, err := s.reg.SyncFromLabels(labels); err != nil {
			log.Printf("category sync failed: %v", err)
		}
	}

	tasks, err := s.tasks.List()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req store.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	task, err := s.tasks.Create(req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	var req store.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	task, err := s.tasks.Update(id, req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	task, err := s.tasks.SoftDelete(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// Topic (note) handlers

func (s *Server) handleListTopics(c *gin.Context) {
	notes, err := s.notes.List()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, notes)
}

func (s *Server) handleCreateTopic(c *gin.Context) {
	var req struct {
		Name     string `json:"name"`
		Content  string `json:"content"`
		Filepath string `json:"filepath"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	note, err := s.notes.Create(req.Name, req.Content, req.Filepath)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

// topicParam extracts the note filename from the wildcard route, which
// carries a leading slash.
func topicParam(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("filename"), "/")
}

func (s *Server) handleGetTopic(c *gin.Context) {
	note, err := s.notes.Read(topicParam(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

func (s *Server) handleUpdateTopic(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	note, err := s.notes.Update(topicParam(c), req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

func (s *Server) handleSearchTopics(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter required"})
		return
	}
	limit := 50
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil && v > 0 {
		limit = v
	}

	matches, err := s.notes.Search(query, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches, "count": len(matches)})
}

// Category handlers

func (s *Server) handleListCategories(c *gin.Context) {
	if labels, err := s.tasks.Labels(); err == nil {
		if _, err := s.reg.SyncFromLabels(labels); err != nil {
			log.Printf("category sync failed: %v", err)
		}
	}

	categories, err := s.reg.List()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, categories)
}

func (s *Server) handleCreateCategory(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	categories, err := s.reg.Create(req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": req.Name, "categories": categories})
}

func (s *Server) handleRenameCategory(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	// The cascade rewrites task labels and the registry under one lock.
	categories, err := s.tasks.RenameCategory(c.Param("name"), req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (s *Server) handleDeleteCategory(c *gin.Context) {
	categories, err := s.tasks.DeleteCategory(c.Param("name"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

// Storage configuration handlers

func (s *Server) handleGetStorage(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg.Current())
}

func (s *Server) handlePutStorage(c *gin.Context) {
	var req config.Storage
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	applied, err := s.cfg.Set(req)
	if err != nil {
		fail(c, err)
		return
	}
	// Stores read the config manager on every operation; only the cached task
	// mirror needs dropping.
	s.tasks.Invalidate()
	c.JSON(http.StatusOK, applied)
}

// Snapshot handlers

func (s *Server) handleListSnapshots(c *gin.Context) {
	snapshots, err := s.snaps.List()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshots)
}

func (s *Server) handleCreateSnapshot(c *gin.Context) {
	meta, err := s.snaps.Create(snapshot.ModeManual, "api")
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, meta)
}

func (s *Server) handleRestoreSnapshot(c *gin.Context) {
	var req struct {
		Mode string `json:"mode"`
	}
	// An empty body means revert mode.
	_ = c.ShouldBindJSON(&req)
	if req.Mode == "" {
		req.Mode = snapshot.RestoreRevert
	}

	if err := s.snaps.Restore(c.Param("id"), req.Mode); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": c.Param("id"), "mode": req.Mode})
}

// Filesystem browse handlers

func (s *Server) handleFSList(c *gin.Context) {
	listing, err := fsbrowse.List(c.Query("path"), c.DefaultQuery("mode", "dir"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (s *Server) handleNativePicker(c *gin.Context) {
	var req struct {
		Mode        string `json:"mode"`
		InitialPath string `json:"initial_path"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := fsbrowse.NativePick(req.Mode, req.InitialPath)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// MCP handlers

func (s *Server) handleMCPConfig(c *gin.Context) {
	host := c.Request.Host
	if host == "" {
		host = s.addr
	}
	url := fmt.Sprintf("http://%s/mcp", host)
	c.JSON(http.StatusOK, gin.H{
		"mcpServers": gin.H{
			"taskman": gin.H{
				"type": "http",
				"url":  url,
			},
		},
	})
}

func (s *Server) handleMCP(c *gin.Context) {
	var req mcp.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, mcp.Response{
			JSONRPC: "2.0",
			Error:   &mcp.Error{Code: -32700, Message: "Parse error"},
		})
		return
	}

	resp := s.mcpSrv.Handle(c.Request.Context(), &req)
	if resp == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, resp)
}
