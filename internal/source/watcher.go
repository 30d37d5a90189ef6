package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"karavan/pkg/logging"
)

const watcherSubsystem = "SourceWatcher"

// Watcher reports changed projects below a root directory. Changes to one
// project are debounced so a burst of writes produces one callback.
type Watcher struct {
	mu sync.Mutex

	root     string
	debounce time.Duration
	onChange func(projectID string)

	watcher *fsnotify.Watcher
	pending map[string]*time.Timer
	stopCh  chan struct{}
	running bool
}

// NewWatcher creates a Watcher. onChange runs on its own goroutine once the
// project has been quiet for debounce.
func NewWatcher(root string, debounce time.Duration, onChange func(projectID string)) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		root:     root,
		debounce: debounce,
		onChange: onChange,
		pending:  make(map[string]*time.Timer),
	}
}

// Start watches the root and every project directory in it.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fsw
	w.stopCh = make(chan struct{})
	w.running = true
	w.mu.Unlock()

	if err := fsw.Add(w.root); err != nil {
		_ = w.Stop()
		return err
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		_ = w.Stop()
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() && !isHidden(entry.Name()) {
			w.addProject(fsw, filepath.Join(w.root, entry.Name()))
		}
	}

	go w.processEvents(ctx, fsw, w.stopCh)

	logging.Info(watcherSubsystem, "Watching %s for project changes", w.root)
	return nil
}

func (w *Watcher) addProject(fsw *fsnotify.Watcher, dir string) {
	if err := fsw.Add(dir); err != nil {
		logging.Warn(watcherSubsystem, "Failed to watch %s: %v", dir, err)
		return
	}
	logging.Debug(watcherSubsystem, "Watching directory: %s", dir)
}

func (w *Watcher) processEvents(ctx context.Context, fsw *fsnotify.Watcher, stopCh chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return
		case <-stopCh:
			w.cancelPending()
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			logging.Error(watcherSubsystem, err, "Filesystem watcher error")
		}
	}
}

func (w *Watcher) handle(fsw *fsnotify.Watcher, event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	parts := strings.Split(rel, string(filepath.Separator))
	for _, p := range parts {
		if isHidden(p) {
			return
		}
	}

	if len(parts) == 1 {
		// a project directory appeared below the root
		if event.Has(fsnotify.Create) {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				w.addProject(fsw, event.Name)
			}
		}
		return
	}
	if len(parts) != 2 || event.Op == fsnotify.Chmod {
		return
	}

	w.schedule(parts[0])
}

func (w *Watcher) schedule(projectID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[projectID]; ok {
		t.Stop()
	}
	w.pending[projectID] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, projectID)
		running := w.running
		w.mu.Unlock()

		if running {
			logging.Debug(watcherSubsystem, "Project %s changed", projectID)
			w.onChange(projectID)
		}
	})
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range w.pending {
		t.Stop()
	}
	w.pending = make(map[string]*time.Timer)
}

// Stop ends watching. Pending callbacks are dropped.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	close(w.stopCh)

	var err error
	if w.watcher != nil {
		err = w.watcher.Close()
		w.watcher = nil
	}
	logging.Info(watcherSubsystem, "Stopped watching %s", w.root)
	return err
}
