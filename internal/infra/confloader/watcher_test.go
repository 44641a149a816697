package confloader

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTestWatcher(t *testing.T, path string) *Watcher {
	t.Helper()
	w, err := NewWatcher(path,
		WithWatcherLogger(slog.New(slog.DiscardHandler)),
		WithDebounce(20*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestNewWatcher_NonexistentDir(t *testing.T) {
	if _, err := NewWatcher("/nonexistent/dir/config.yaml"); err == nil {
		t.Fatal("NewWatcher() should fail for a missing directory")
	}
}

func TestWatcher_FileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("a: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := newTestWatcher(t, path)
	changed := make(chan string, 8)
	w.OnChange(func(p string) { changed <- p })
	w.StartAsync()

	if err := os.WriteFile(path, []byte("a: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-changed:
		if got != filepath.Clean(path) {
			t.Fatalf("callback path = %q, want %q", got, path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change callback")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("a: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := newTestWatcher(t, path)
	var calls atomic.Int32
	w.OnChange(func(string) { calls.Add(1) })
	w.StartAsync()

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("b: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Fatalf("callbacks = %d for an unrelated file, want 0", n)
	}
}

func TestWatcher_Debounce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("a: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, WithWatcherLogger(slog.New(slog.DiscardHandler)), WithDebounce(300*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	var calls atomic.Int32
	w.OnChange(func(string) { calls.Add(1) })
	w.StartAsync()

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("a: 1\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	deadline := time.Now().Add(3 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(400 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("callbacks = %d for a burst of writes, want 1", n)
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	w := newTestWatcher(t, path)
	done := make(chan struct{})
	go func() { w.Start(); close(done) }()

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
