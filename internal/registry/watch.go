package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"media-catalog/internal/logging"
	"media-catalog/internal/metrics"
)

// watchDebounce is how long a folder must stay quiet after a filesystem
// event before a silent refresh fires. Bulk copies generate event storms;
// one rescan at the end covers them all.
const watchDebounce = 2 * time.Second

// Watcher observes the granted root folders for filesystem drift and
// triggers debounced silent refreshes. It is an OS-level adjunct to the
// registry: it watches the real paths behind the access tokens.
type Watcher struct {
	registry *Registry

	mu       sync.Mutex
	timers   map[string]*time.Timer
	roots    map[string]string // watched root path -> folder id
	debounce time.Duration

	unsubscribe func()
	fsw         *fsnotify.Watcher
	done        chan struct{}
}

// StartWatcher builds a filesystem watcher over the granted folders and
// starts its event loop. The watch set follows the registry: folders
// registered after the watcher started join it, removed folders drop out.
// Call Stop to shut it down.
func (r *Registry) StartWatcher() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		registry: r,
		timers:   make(map[string]*time.Timer),
		roots:    make(map[string]string),
		debounce: watchDebounce,
		fsw:      fsw,
		done:     make(chan struct{}),
	}

	w.syncRoots()
	w.unsubscribe = r.Subscribe(func(e Event) {
		if e.Type == EventFoldersChanged {
			w.syncRoots()
		}
	})

	go w.loop()
	return w, nil
}

// Stop closes the watcher and waits for its event loop to exit.
func (w *Watcher) Stop() {
	if w.unsubscribe != nil {
		w.unsubscribe()
	}
	if err := w.fsw.Close(); err != nil {
		logging.Error("Failed to close folder watcher: %v", err)
	}
	<-w.done

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range w.timers {
		t.Stop()
	}
}

// syncRoots reconciles the watch set with the currently granted folders.
func (w *Watcher) syncRoots() {
	desired := make(map[string]string)
	for _, folder := range w.registry.Folders() {
		root, ok := w.registry.Handle(folder.ID)
		if !ok {
			continue
		}
		desired[root.Token()] = folder.ID
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for root, id := range w.roots {
		if _, keep := desired[root]; keep {
			continue
		}
		delete(w.roots, root)
		if err := w.fsw.Remove(root); err != nil {
			logging.Debug("Failed to unwatch %s: %v", root, err)
		}
		// Subdirectory watches under the removed root stay registered until
		// Stop, but their events no longer map to a folder and are ignored.
		if t, ok := w.timers[id]; ok {
			t.Stop()
			delete(w.timers, id)
		}
	}

	added := 0
	for root, id := range desired {
		if _, ok := w.roots[root]; ok {
			continue
		}
		w.roots[root] = id
		added += w.addTree(root)
	}
	if added > 0 {
		logging.Debug("Watching %d folders (%d directories added)", len(w.roots), added)
	}
}

// addTree registers a root and its subdirectories with the watcher,
// skipping dot-directories. Unwatchable directories are logged and skipped.
func (w *Watcher) addTree(rootPath string) int {
	count := 0
	err := filepath.Walk(rootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if path != rootPath && strings.HasPrefix(info.Name(), ".") {
			return filepath.SkipDir
		}
		if addErr := w.fsw.Add(path); addErr != nil {
			logging.Warn("Failed to watch directory %s: %v", path, addErr)
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		logging.Warn("Failed to walk %s for watching: %v", rootPath, err)
	}
	return count
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Error("Folder watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Hidden files churn constantly (editor swap files, .DS_Store).
	if strings.Contains(event.Name, string(filepath.Separator)+".") {
		return
	}

	id, ok := w.folderFor(event.Name)
	if !ok {
		return
	}
	metrics.RegistryWatcherEvents.Inc()

	// New subdirectories need their own watch before the debounce fires,
	// or changes inside them go unseen.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if addErr := w.fsw.Add(event.Name); addErr != nil {
				logging.Warn("Failed to watch new directory %s: %v", event.Name, addErr)
			}
		}
	}

	w.scheduleRefresh(id)
}

// folderFor maps an event path to the registered folder containing it.
func (w *Watcher) folderFor(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for root, id := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return id, true
		}
	}
	return "", false
}

// scheduleRefresh resets the folder's debounce timer.
func (w *Watcher) scheduleRefresh(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[id]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[id] = time.AfterFunc(w.debounce, func() {
		logging.Debug("Drift detected in folder %s, refreshing", id)
		err := w.registry.RefreshFolder(context.Background(), id, true)
		if err != nil && !errors.Is(err, ErrScanInFlight) && !errors.Is(err, ErrUnknownFolder) {
			logging.Warn("Drift refresh of folder %s failed: %v", id, err)
		}
		w.mu.Lock()
		delete(w.timers, id)
		w.mu.Unlock()
	})
}
