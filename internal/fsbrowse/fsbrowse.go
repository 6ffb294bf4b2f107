// Package fsbrowse backs the storage-settings file browser: directory
// listings for the in-app picker and a bridge to the OS-native dialog. It is
// an external collaborator of the storage engine, not part of it.
package fsbrowse

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/hardware-is-not-software/taskman/internal/apperr"
)

// Entry is one listed file or directory.
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
}

// Listing is the result of browsing one directory.
type Listing struct {
	CurrentPath string  `json:"current_path"`
	ParentPath  string  `json:"parent_path"`
	Entries     []Entry `json:"entries"`
	Mode        string  `json:"mode"`
}

// PickResult is the outcome of a native picker invocation.
type PickResult struct {
	Cancelled bool   `json:"cancelled"`
	Path      string `json:"path"`
}

// List returns the entries of the nearest existing directory for pathValue.
// Mode "file" includes files; "dir" lists directories only.
func List(pathValue, mode string) (*Listing, error) {
	if mode != "file" && mode != "dir" {
		mode = "dir"
	}
	current := nearestExistingDirectory(pathValue)

	dirents, err := os.ReadDir(current)
	if err != nil {
		if os.IsPermission(err) {
			return nil, apperr.New(apperr.Conflict, "permission denied for this path")
		}
		return nil, apperr.Newf(apperr.Validation, "path is not a directory: %v", err)
	}

	entries := []Entry{}
	for _, d := range dirents {
		full, err := filepath.Abs(filepath.Join(current, d.Name()))
		if err != nil {
			continue
		}
		switch {
		case d.IsDir():
			entries = append(entries, Entry{Name: d.Name(), Path: full, Type: "dir"})
		case mode == "file" && d.Type().IsRegular():
			entries = append(entries, Entry{Name: d.Name(), Path: full, Type: "file"})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type == "dir"
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})

	parent := filepath.Dir(current)
	if parent == current {
		parent = ""
	}
	return &Listing{
		CurrentPath: current,
		ParentPath:  parent,
		Entries:     entries,
		Mode:        mode,
	}, nil
}

// NativePick opens the OS-native chooser. Only implemented on macOS, where
// the sync folders this tool targets live; other platforms get the in-app
// browser instead.
func NativePick(mode, initialPath string) (*PickResult, error) {
	if mode != "dir" && mode != "file" && mode != "save_file" {
		mode = "dir"
	}
	if runtime.GOOS != "darwin" {
		return nil, apperr.New(apperr.NotImplemented, "system picker currently supported on macOS only")
	}

	startDir := nearestExistingDirectory(initialPath)
	initialName := "tasks.md"
	if initialPath != "" {
		if abs, err := filepath.Abs(initialPath); err == nil {
			if info, statErr := os.Stat(abs); statErr != nil || !info.IsDir() {
				if base := filepath.Base(abs); base != "." && base != string(filepath.Separator) {
					initialName = base
				}
			}
		}
	}

	script := buildPickerScript(mode, startDir, initialName)
	out, err := exec.Command("osascript", "-e", script).CombinedOutput()
	if err != nil {
		// AppleScript reports user cancellation as error -128.
		if strings.Contains(string(out), "(-128)") {
			return &PickResult{Cancelled: true}, nil
		}
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = "system picker failed"
		}
		return nil, apperr.New(apperr.IOFailure, msg)
	}

	selected := strings.TrimSpace(string(out))
	if selected == "" {
		return &PickResult{Cancelled: true}, nil
	}
	abs, err := filepath.Abs(selected)
	if err != nil {
		abs = selected
	}
	return &PickResult{Path: abs}, nil
}

func buildPickerScript(mode, startDir, initialName string) string {
	quoted := strings.ReplaceAll(startDir, `"`, `\"`)
	switch mode {
	case "file":
		return `set startFolder to POSIX file "` + quoted + `"
POSIX path of (choose file with prompt "Select file" default location startFolder)`
	case "save_file":
		name := strings.ReplaceAll(initialName, `"`, `\"`)
		return `set startFolder to POSIX file "` + quoted + `"
POSIX path of (choose file name with prompt "Select file location" default location startFolder default name "` + name + `")`
	default:
		return `set startFolder to POSIX file "` + quoted + `"
POSIX path of (choose folder with prompt "Select folder" default location startFolder)`
	}
}

// nearestExistingDirectory walks up from pathValue until it finds a directory
// that exists, defaulting to the user's home.
func nearestExistingDirectory(pathValue string) string {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/"
	}
	trimmed := strings.TrimSpace(pathValue)
	if trimmed == "" {
		return home
	}

	current, err := filepath.Abs(trimmed)
	if err != nil {
		return home
	}
	for {
		info, err := os.Stat(current)
		if err == nil {
			if info.IsDir() {
				return current
			}
			return filepath.Dir(current)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return home
		}
		current = parent
	}
}
