package pack

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/parlor/internal/pack/api"
)

// DefaultDebounce is how long the watcher waits after the last change
// before reloading a pack. Editors write several events per save.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads packs when their files change on disk. A pack that
// appears in a watched path while the server runs is loaded hot.
type Watcher struct {
	mu sync.Mutex

	manager  *Manager
	fw       *fsnotify.Watcher
	debounce time.Duration
	logger   api.Logger

	// Pending reloads, keyed by pack name
	timers map[string]*time.Timer

	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherDebounce sets the reload debounce interval.
func WithWatcherDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(logger api.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher creates a watcher over the manager's pack paths.
func NewWatcher(manager *Manager, opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		manager:  manager,
		fw:       fw,
		debounce: DefaultDebounce,
		timers:   make(map[string]*time.Timer),
		closeCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start watches the manager's pack paths and begins processing events.
// Missing paths are skipped, matching discovery.
func (w *Watcher) Start() error {
	for _, root := range w.manager.Loader().Paths() {
		if _, err := os.Stat(root); err != nil {
			continue
		}
		if err := w.fw.Add(root); err != nil {
			return err
		}

		// fsnotify does not recurse; watch each pack directory so edits
		// inside them are seen.
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				if err := w.fw.Add(filepath.Join(root, entry.Name())); err != nil {
					w.warnf("pack watcher: %v", err)
				}
			}
		}
	}

	w.wg.Add(1)
	go w.processLoop()
	return nil
}

// Close stops the watcher and cancels pending reloads.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for name, timer := range w.timers {
		timer.Stop()
		delete(w.timers, name)
	}
	close(w.closeCh)
	w.mu.Unlock()

	err := w.fw.Close()
	w.wg.Wait()
	return err
}

// WatchList returns the paths currently being watched.
func (w *Watcher) WatchList() []string {
	return w.fw.WatchList()
}

func (w *Watcher) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.warnf("pack watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	if event.Op.Has(fsnotify.Create) {
		if stat, err := os.Stat(event.Name); err == nil && stat.IsDir() {
			// A new pack directory appeared; watch inside it
			if err := w.fw.Add(event.Name); err != nil {
				w.warnf("pack watcher: %v", err)
			}
		}
	}

	name, ok := w.pathToPack(event.Name)
	if !ok {
		return
	}
	w.scheduleReload(name)
}

// pathToPack maps a changed path to the pack it belongs to. Top-level
// .lua files are single-file packs; anything nested belongs to the pack
// directory it sits under. Files that are neither Lua nor manifests are
// ignored so editor temp files do not trigger reloads.
func (w *Watcher) pathToPack(path string) (string, bool) {
	for _, root := range w.manager.Loader().Paths() {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}

		segs := strings.Split(rel, string(filepath.Separator))
		first := segs[0]
		ext := filepath.Ext(first)

		if len(segs) == 1 {
			if ext == ".lua" {
				return strings.TrimSuffix(first, ".lua"), true
			}
			if ext != "" {
				// Stray top-level file
				return "", false
			}
		} else if e := filepath.Ext(segs[len(segs)-1]); e != ".lua" && e != ".json" {
			return "", false
		}

		// Directory pack: resolve the manifest name if discovered,
		// fall back to the directory name for fresh installs.
		dir := filepath.Join(root, first)
		if info, ok := w.manager.Loader().FindByPath(dir); ok {
			return info.Name, true
		}
		return first, true
	}
	return "", false
}

func (w *Watcher) scheduleReload(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if timer, ok := w.timers[name]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.timers[name] = time.AfterFunc(w.debounce, func() {
		w.fire(name)
	})
}

// fire runs after the debounce window closes. Loaded packs reload;
// unknown names are treated as new packs and loaded hot.
func (w *Watcher) fire(name string) {
	w.mu.Lock()
	delete(w.timers, name)
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	ctx := context.Background()

	if _, err := w.manager.Get(name); err == nil {
		if err := w.manager.Reload(ctx, name); err != nil {
			w.warnf("pack %s failed to reload: %v", name, err)
		}
		return
	}

	if _, err := w.manager.Discover(); err != nil {
		w.warnf("pack watcher discover: %v", err)
		return
	}
	if err := w.manager.Load(ctx, name); err != nil {
		w.warnf("pack %s failed to load: %v", name, err)
	}
}

func (w *Watcher) warnf(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Warn(msg, args...)
	}
}
