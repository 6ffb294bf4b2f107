package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherFiresOnExternalEdit(t *testing.T) {
	dir := t.TempDir()
	tasksFile := filepath.Join(dir, "tasks.md")
	topicsDir := filepath.Join(dir, "topics")
	if err := os.WriteFile(tasksFile, []byte("initial\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(topicsDir, 0o755); err != nil {
		t.Fatal(err)
	}

	fired := make(chan struct{}, 1)
	w, err := New(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Close()

	if err := w.Rewatch(tasksFile, topicsDir); err != nil {
		t.Fatalf("Rewatch failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx, func(err error) { t.Logf("watch error: %v", err) })

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(tasksFile, []byte("edited outside the process\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("callback never fired after external edit")
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	tasksFile := filepath.Join(dir, "tasks.md")
	topicsDir := filepath.Join(dir, "topics")
	if err := os.WriteFile(tasksFile, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(topicsDir, 0o755); err != nil {
		t.Fatal(err)
	}

	calls := make(chan struct{}, 16)
	w, err := New(func() { calls <- struct{}{} })
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Close()

	if err := w.Rewatch(tasksFile, topicsDir); err != nil {
		t.Fatalf("Rewatch failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx, func(err error) { t.Logf("watch error: %v", err) })

	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(tasksFile, []byte("burst\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The burst collapses into very few callbacks; wait out the debounce
	// window plus slack and count.
	time.Sleep(time.Second)
	if got := len(calls); got == 0 || got >= 5 {
		t.Errorf("callbacks for 5 rapid writes = %d", got)
	}
}
