package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"janim-toolbox/internal/logx"

	"github.com/fsnotify/fsnotify"
	"pkt.systems/pslog"
)

// DefaultDebounce collapses the burst of events one editor save produces.
const DefaultDebounce = 500 * time.Millisecond

// SaveCallback is called with the absolute path of a file whose content
// changed on disk.
type SaveCallback func(path string)

// Watcher reports saves of individual files. It watches each file's
// directory because many editors save by writing a temporary file and
// renaming it over the original.
type Watcher struct {
	mu       sync.RWMutex
	watchers map[string]*fileWatcher // absolute path → watcher
	debounce time.Duration
	callback SaveCallback
	logger   pslog.Logger
}

type fileWatcher struct {
	path      string
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}

	mu        sync.Mutex
	lastStamp stamp
}

// stamp identifies one version of a file on disk.
type stamp struct {
	modTime time.Time
	size    int64
}

// New creates a file watcher. A non-positive debounce uses DefaultDebounce.
func New(debounce time.Duration, callback SaveCallback, logger pslog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Watcher{
		watchers: make(map[string]*fileWatcher),
		debounce: debounce,
		callback: callback,
		logger:   logger,
	}
}

// Watch starts reporting saves of path. Watching an already watched path is
// a no-op.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", abs)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watchers[abs]; ok {
		return nil
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsW.Add(filepath.Dir(abs)); err != nil {
		fsW.Close()
		return err
	}

	fw := &fileWatcher{
		path:      abs,
		fsWatcher: fsW,
		cancel:    make(chan struct{}),
		lastStamp: stampOf(info),
	}
	w.watchers[abs] = fw

	// Run the event loop.
	go w.watchLoop(fw)

	logx.WithPath(w.logger, abs).Debug("watching file")
	return nil
}

// Unwatch stops reporting saves of path.
func (w *Watcher) Unwatch(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	fw, ok := w.watchers[abs]
	if ok {
		delete(w.watchers, abs)
	}
	w.mu.Unlock()

	if ok {
		close(fw.cancel)
		fw.fsWatcher.Close()
	}
}

// Watching returns the watched paths, sorted.
func (w *Watcher) Watching() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	paths := make([]string, 0, len(w.watchers))
	for p := range w.watchers {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop(fw *fileWatcher) {
	var timer *time.Timer

	for {
		select {
		case <-fw.cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-fw.fsWatcher.Events:
			if !ok {
				return
			}
			if !IsSave(event, fw.path) {
				continue
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				w.check(fw)
			})

		case err, ok := <-fw.fsWatcher.Errors:
			if !ok {
				return
			}
			logx.WithPath(w.logger, fw.path).Warn("watcher error", "err", err)
		}
	}
}

// check notifies when the file on disk differs from the last reported
// version.
func (w *Watcher) check(fw *fileWatcher) {
	info, err := os.Stat(fw.path)
	if err != nil {
		// Removed, or mid-rename; a following create re-triggers.
		return
	}

	st := stampOf(info)
	fw.mu.Lock()
	changed := st != fw.lastStamp
	fw.lastStamp = st
	fw.mu.Unlock()

	if changed && w.callback != nil {
		select {
		case <-fw.cancel:
			return
		default:
		}
		w.callback(fw.path)
	}
}

// Shutdown stops all watchers.
func (w *Watcher) Shutdown() {
	for _, path := range w.Watching() {
		w.Unwatch(path)
	}
}

// IsSave reports whether event wrote or replaced the file at path.
func IsSave(event fsnotify.Event, path string) bool {
	if filepath.Clean(event.Name) != filepath.Clean(path) {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}

func stampOf(info os.FileInfo) stamp {
	return stamp{modTime: info.ModTime(), size: info.Size()}
}
