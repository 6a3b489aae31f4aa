package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type changeRecorder struct {
	mu      sync.Mutex
	changes []string
}

func (r *changeRecorder) record(path string) {
	r.mu.Lock()
	r.changes = append(r.changes, path)
	r.mu.Unlock()
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func startWatcher(t *testing.T, files []string, rec *changeRecorder) *Watcher {
	t.Helper()
	w := NewWatcher(files, rec.record, WithDebounce(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("debug: false\n"), 0600); err != nil {
		t.Fatal(err)
	}
	rec := &changeRecorder{}
	startWatcher(t, []string{path}, rec)

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("debug: true\n"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	if !waitFor(t, 2*time.Second, func() bool { return rec.count() >= 1 }) {
		t.Fatal("expected a change callback")
	}
	time.Sleep(300 * time.Millisecond)
	if got := rec.count(); got != 1 {
		t.Errorf("callbacks: got %d, want 1", got)
	}
	abs, _ := filepath.Abs(path)
	rec.mu.Lock()
	if rec.changes[0] != abs {
		t.Errorf("changed path: got %s, want %s", rec.changes[0], abs)
	}
	rec.mu.Unlock()
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("a: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	rec := &changeRecorder{}
	startWatcher(t, []string{path}, rec)

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("b: 2\n"), 0600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(400 * time.Millisecond)
	if got := rec.count(); got != 0 {
		t.Errorf("callbacks for unrelated file: got %d", got)
	}
}

func TestWatcher_SeesRenameReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("a: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	rec := &changeRecorder{}
	startWatcher(t, []string{path}, rec)

	tmp := filepath.Join(dir, ".config.yaml.tmp")
	if err := os.WriteFile(tmp, []byte("a: 2\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return rec.count() >= 1 }) {
		t.Error("expected a change callback after rename")
	}
}

func TestWatcher_AddRemoveFiles(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.yaml")
	second := filepath.Join(dir, "b.yaml")
	rec := &changeRecorder{}
	w := startWatcher(t, []string{first}, rec)

	if err := w.AddFile(second); err != nil {
		t.Fatal(err)
	}
	if got := len(w.Files()); got != 2 {
		t.Errorf("Files() after add: got %d", got)
	}
	if err := os.WriteFile(second, []byte("x: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return rec.count() >= 1 }) {
		t.Fatal("expected a change callback for added file")
	}

	if err := w.RemoveFile(second); err != nil {
		t.Fatal(err)
	}
	if got := len(w.Files()); got != 1 {
		t.Errorf("Files() after remove: got %d", got)
	}
	before := rec.count()
	if err := os.WriteFile(second, []byte("x: 2\n"), 0600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(400 * time.Millisecond)
	if got := rec.count(); got != before {
		t.Errorf("callbacks after remove: got %d, want %d", got, before)
	}
}

func TestWatcher_StartWithoutFiles(t *testing.T) {
	w := NewWatcher(nil, func(string) {})
	if err := w.Start(context.Background()); err == nil {
		t.Error("expected error when no files are configured")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	w := NewWatcher([]string{path}, func(string) {})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}

func TestWatcher_StopRightAfterStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < 200; i++ {
		w := NewWatcher([]string{path}, func(string) {})
		if err := w.Start(ctx); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		w.Stop()
	}
	// Give the reader goroutines time to observe the closed watchers.
	time.Sleep(100 * time.Millisecond)
}

func TestWatcher_StopsOnContextCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	rec := &changeRecorder{}
	w := NewWatcher([]string{path}, rec.record, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	stopped := waitFor(t, time.Second, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return !w.started
	})
	if !stopped {
		t.Fatal("watcher still running after cancel")
	}
	if err := os.WriteFile(path, []byte("a: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if got := rec.count(); got != 0 {
		t.Errorf("callbacks after stop: got %d", got)
	}
}
