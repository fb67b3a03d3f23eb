package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func watcherLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitReload(t *testing.T, w *Watcher) Reload {
	t.Helper()
	select {
	case r, ok := <-w.Updates:
		if !ok {
			t.Fatal("Updates closed")
		}
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no reload within 5s")
		return Reload{}
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checks.yaml")
	if err := os.WriteFile(path, []byte("host: a\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(ctx, WatcherConfig{Path: path, Debounce: 20 * time.Millisecond, Logger: watcherLogger()})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if w.Path() != path {
		t.Errorf("Path() = %q, want %q", w.Path(), path)
	}

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Unrelated files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("host: b\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := waitReload(t, w)
	if r.Err != nil {
		t.Fatalf("Reload error = %v", r.Err)
	}
	if r.Checks.Host != "b" {
		t.Errorf("Host = %q, want b", r.Checks.Host)
	}

	// Invalid content is reported, not dropped.
	if err := os.WriteFile(path, []byte("host: \"\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r = waitReload(t, w)
	if r.Err == nil {
		t.Error("Reload of an invalid file should carry an error")
	}
}

func TestWatcher_ReloadsOnReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checks.yaml")
	if err := os.WriteFile(path, []byte("host: a\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(ctx, WatcherConfig{Path: path, Debounce: 20 * time.Millisecond, Logger: watcherLogger()})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	tmp := filepath.Join(dir, ".checks.yaml.tmp")
	if err := os.WriteFile(tmp, []byte("host: c\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	r := waitReload(t, w)
	if r.Err != nil || r.Checks.Host != "c" {
		t.Errorf("Reload = %+v, want host c", r)
	}
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checks.yaml")

	ctx, cancel := context.WithCancel(context.Background())
	w, err := NewWatcher(ctx, WatcherConfig{Path: path, Logger: watcherLogger()})
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case _, ok := <-w.Updates:
		if ok {
			t.Error("unexpected reload after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Updates not closed after cancel")
	}
}

func TestWatcher_RetriesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "later")
	path := filepath.Join(dir, "checks.yaml")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(ctx, WatcherConfig{
		Path:     path,
		Debounce: 10 * time.Millisecond,
		Backoff:  BackoffConfig{Initial: 20 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2},
		Logger:   watcherLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	// Wait for a retry to register the new directory.
	time.Sleep(300 * time.Millisecond)

	if err := os.WriteFile(path, []byte("host: late\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := waitReload(t, w)
	if r.Err != nil || r.Checks.Host != "late" {
		t.Errorf("Reload = %+v, want host late", r)
	}
}

func TestNewWatcher_EmptyPath(t *testing.T) {
	if _, err := NewWatcher(context.Background(), WatcherConfig{}); err == nil {
		t.Error("NewWatcher() should fail without a path")
	}
}
