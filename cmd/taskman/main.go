package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hardware-is-not-software/taskman/internal/category"
	"github.com/hardware-is-not-software/taskman/internal/config"
	"github.com/hardware-is-not-software/taskman/internal/mcp"
	"github.com/hardware-is-not-software/taskman/internal/snapshot"
	"github.com/hardware-is-not-software/taskman/internal/store"
	"github.com/hardware-is-not-software/taskman/internal/watch"
	"github.com/hardware-is-not-software/taskman/internal/web"
)

var Version = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	rootCmd := &cobra.Command{
		Use:     "taskman",
		Short:   "Taskman - plain-text task and notes manager with snapshot recovery",
		Version: Version,
	}

	rootCmd.PersistentFlags().String("config", "", "Application config file (default ~/.taskman/config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory override")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles the wired components every subcommand needs.
type app struct {
	cfg   *config.App
	store *config.Manager
	reg   *category.Registry
	tasks *store.TaskStore
	notes *store.NoteStore
	snaps *snapshot.Manager
}

func buildApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	appCfg, err := config.LoadApp(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if dataDir != "" {
		appCfg.DataDir = dataDir
	}

	storageMgr, err := config.NewManager(appCfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("initializing storage config: %w", err)
	}

	reg := category.NewRegistry(config.CategoriesPath(appCfg.DataDir))
	tasks := store.NewTaskStore(storageMgr, reg)
	notes := store.NewNoteStore(storageMgr)

	// Lock order: tasks first, then notes. The snapshot manager acquires
	// these itself while copying.
	snaps := snapshot.NewManager(storageMgr, reg.Path(), tasks.Locker(), notes.Locker())
	tasks.SetProtectiveHook(snaps.Protective)
	notes.SetProtectiveHook(snaps.Protective)

	return &app{
		cfg:   appCfg,
		store: storageMgr,
		reg:   reg,
		tasks: tasks,
		notes: notes,
		snaps: snaps,
	}, nil
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (or the stdio MCP server with --mcp)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				log.Println("Shutting down...")
				cancel()
			}()

			tools := mcp.NewToolHandler(a.tasks, a.notes, a.reg)
			mcpSrv := mcp.NewServer(tools, uuid.New().String())

			mcpOnly, _ := cmd.Flags().GetBool("mcp")
			if mcpOnly {
				log.Printf("taskman %s MCP server on stdio", Version)
				return mcpSrv.Run(ctx)
			}

			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			watcher, err := watch.New(a.tasks.Invalidate)
			if err != nil {
				return fmt.Errorf("starting file watcher: %w", err)
			}
			defer watcher.Close()

			cur := a.store.Current()
			if err := watcher.Rewatch(cur.TasksFile, cur.TopicsDir); err != nil {
				log.Printf("watch setup failed: %v", err)
			}
			go watcher.Run(ctx, func(err error) {
				log.Printf("watcher error: %v", err)
			})

			a.snaps.SetOnRestore(func(mode string) {
				a.tasks.Invalidate()
				if mode == snapshot.RestoreFull {
					if err := a.store.Reload(); err != nil {
						log.Printf("config reload after restore failed: %v", err)
					}
					cur := a.store.Current()
					if err := watcher.Rewatch(cur.TasksFile, cur.TopicsDir); err != nil {
						log.Printf("rewatch after restore failed: %v", err)
					}
				}
			})

			go a.snaps.RunInterval(ctx)

			gin.SetMode(a.cfg.Server.Mode)
			server := web.NewServer(a.store, a.tasks, a.notes, a.reg, a.snaps, mcpSrv)

			printBanner(addr, a.cfg.DataDir)
			writeStartupLog(a.cfg.DataDir, addr)

			log.Printf("Starting web server on %s", addr)
			return server.Run(addr)
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default from config)")
	cmd.Flags().Bool("mcp", false, "Serve MCP over stdio instead of HTTP")

	return cmd
}

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create and inspect snapshots",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Take a manual snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd)
			if err != nil {
				return err
			}
			meta, err := a.snaps.Create(snapshot.ModeManual, "cli")
			if err != nil {
				return err
			}
			fmt.Printf("Created snapshot %s\n", meta.ID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd)
			if err != nil {
				return err
			}
			snapshots, err := a.snaps.List()
			if err != nil {
				return err
			}
			if len(snapshots) == 0 {
				fmt.Println("No snapshots.")
				return nil
			}
			for _, meta := range snapshots {
				fmt.Printf("%-40s %-12s %s\n", meta.ID, meta.Mode, meta.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	})

	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the application config file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default config file for editing",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = config.AppConfigPath()
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config file %s already exists", path)
			}
			if err := config.WriteDefaultApp(path); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the taskman version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("taskman %s\n", Version)
		},
	}
}

func printBanner(addr, dataDir string) {
	fmt.Printf("taskman %s\n", Version)
	fmt.Printf("  data:   %s\n", dataDir)
	fmt.Printf("  listen: http://%s\n", addr)
}

// writeStartupLog appends a startup record. Failures are logged, never fatal.
func writeStartupLog(dataDir, addr string) {
	path := filepath.Join(dataDir, "startup.log")
	line := fmt.Sprintf("%s taskman %s listening on %s\n", time.Now().Format(time.RFC3339), Version, addr)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("startup log: %v", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		log.Printf("startup log: %v", err)
	}
}
