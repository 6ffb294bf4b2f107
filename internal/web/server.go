// Package web is the full HTTP command surface. Everything funnels through
// the stores, the category registry and the snapshot manager; no handler
// touches the data files directly.
package web

import (
	"github.com/gin-gonic/gin"

	"github.com/hardware-is-not-software/taskman/internal/category"
	"github.com/hardware-is-not-software/taskman/internal/config"
	"github.com/hardware-is-not-software/taskman/internal/mcp"
	"github.com/hardware-is-not-software/taskman/internal/snapshot"
	"github.com/hardware-is-not-software/taskman/internal/store"
)

// Server is the taskman web server.
type Server struct {
	cfg    *config.Manager
	tasks  *store.TaskStore
	notes  *store.NoteStore
	reg    *category.Registry
	snaps  *snapshot.Manager
	mcpSrv *mcp.Server
	router *gin.Engine
	addr   string
}

// NewServer creates a new web server with all routes registered.
func NewServer(cfg *config.Manager, tasks *store.TaskStore, notes *store.NoteStore, reg *category.Registry, snaps *snapshot.Manager, mcpSrv *mcp.Server) *Server {
	router := gin.Default()

	s := &Server{
		cfg:    cfg,
		tasks:  tasks,
		notes:  notes,
		reg:    reg,
		snaps:  snaps,
		mcpSrv: mcpSrv,
		router: router,
	}

	api := router.Group("/api")
	{
		api.GET("/tasks", s.handleListTasks)
		api.POST("/tasks", s.handleCreateTask)
		api.PUT("/tasks/:id", s.handleUpdateTask)
		api.DELETE("/tasks/:id", s.handleDeleteTask)

		api.GET("/topics", s.handleListTopics)
		api.POST("/topics", s.handleCreateTopic)
		// Wildcard so notes in subdirectories of the notes root stay reachable.
		api.GET("/topics/*filename", s.handleGetTopic)
		api.PUT("/topics/*filename", s.handleUpdateTopic)
		api.GET("/topics-search", s.handleSearchTopics)

		api.GET("/categories", s.handleListCategories)
		api.POST("/categories", s.handleCreateCategory)
		api.PUT("/categories/:name", s.handleRenameCategory)
		api.DELETE("/categories/:name", s.handleDeleteCategory)

		api.GET("/storage", s.handleGetStorage)
		api.PUT("/storage", s.handlePutStorage)

		api.GET("/snapshots", s.handleListSnapshots)
		api.POST("/snapshots", s.handleCreateSnapshot)
		api.POST("/snapshots/:id/restore", s.handleRestoreSnapshot)

		api.GET("/fs/list", s.handleFSList)
		api.POST("/fs/native-picker", s.handleNativePicker)

		api.GET("/mcp-config", s.handleMCPConfig)
	}

	router.POST("/mcp", s.handleMCP)

	return s
}

// Run starts the web server.
func (s *Server) Run(addr string) error {
	s.addr = addr
	return s.router.Run(addr)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
