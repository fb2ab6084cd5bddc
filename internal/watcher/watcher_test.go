package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestIsSave(t *testing.T) {
	path := "/work/scene.py"
	tests := []struct {
		event fsnotify.Event
		want  bool
	}{
		{fsnotify.Event{Name: path, Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: path, Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "/work/./scene.py", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: path, Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: path, Op: fsnotify.Remove}, false},
		{fsnotify.Event{Name: "/work/other.py", Op: fsnotify.Write}, false},
		{fsnotify.Event{Name: "/work/.scene.py.swp", Op: fsnotify.Create}, false},
	}

	for _, tt := range tests {
		if got := IsSave(tt.event, path); got != tt.want {
			t.Errorf("IsSave(%v) = %v, want %v", tt.event, got, tt.want)
		}
	}
}

func TestWatch_RejectsMissingAndDirectories(t *testing.T) {
	dir := t.TempDir()
	w := New(10*time.Millisecond, nil, nil)
	defer w.Shutdown()

	if err := w.Watch(filepath.Join(dir, "missing.py")); err == nil {
		t.Error("expected error for missing file")
	}
	if err := w.Watch(dir); err == nil {
		t.Error("expected error for directory")
	}
}

func TestWatch_ReportsSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scene.py")
	writeFile(t, path, "a = 1\n")

	saved := make(chan string, 4)
	w := New(20*time.Millisecond, func(p string) { saved <- p }, nil)
	defer w.Shutdown()

	if err := w.Watch(path); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	writeFile(t, filepath.Join(dir, "other.py"), "ignored\n")
	writeFile(t, path, "a = 1\nb = 2\n")

	select {
	case got := <-saved:
		if got != path {
			t.Errorf("expected save of %s, got %s", path, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for save")
	}
}

func TestWatch_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scene.py")
	writeFile(t, path, "")

	saved := make(chan string, 8)
	w := New(100*time.Millisecond, func(p string) { saved <- p }, nil)
	defer w.Shutdown()

	if err := w.Watch(path); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	content := ""
	for i := 0; i < 5; i++ {
		content += "x\n"
		writeFile(t, path, content)
	}

	select {
	case <-saved:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for save")
	}
	select {
	case <-saved:
		t.Error("expected a single notification for a burst of writes")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatching_AndUnwatch(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.py")
	b := filepath.Join(dir, "b.py")
	writeFile(t, a, "")
	writeFile(t, b, "")

	w := New(0, nil, nil)
	defer w.Shutdown()

	for _, p := range []string{b, a, a} {
		if err := w.Watch(p); err != nil {
			t.Fatalf("Watch(%s) failed: %v", p, err)
		}
	}
	got := w.Watching()
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("expected [%s %s], got %v", a, b, got)
	}

	w.Unwatch(a)
	if got := w.Watching(); len(got) != 1 || got[0] != b {
		t.Errorf("expected [%s], got %v", b, got)
	}
	w.Unwatch(a)
}
