package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"media-catalog/internal/accessfs"
	"media-catalog/internal/scanner"
	"media-catalog/internal/store"
)

// Watcher tests run against the real filesystem; fsnotify cannot observe
// the in-memory one.
func newWatcherFixture(t *testing.T) (*Registry, *Watcher, string) {
	t.Helper()

	s, err := store.New(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("store.Close: %v", err)
		}
	})

	cap := accessfs.NewOS()
	reg := New(s, cap, scanner.New(cap))

	w, err := reg.StartWatcher()
	if err != nil {
		t.Fatalf("StartWatcher: %v", err)
	}
	t.Cleanup(w.Stop)

	w.mu.Lock()
	w.debounce = 50 * time.Millisecond
	w.mu.Unlock()

	return reg, w, t.TempDir()
}

func TestWatcherCoversFolderAddedAfterStart(t *testing.T) {
	reg, _, dir := newWatcherFixture(t)
	ctx := context.Background()

	folder, err := reg.AddFolder(ctx, dir, "live")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}
	if assets, _ := reg.Assets(folder.ID); len(assets) != 0 {
		t.Fatalf("got %d assets before drift, want 0", len(assets))
	}

	// Drift after registration: the watcher must notice it even though the
	// folder did not exist when the watcher started.
	if err := os.WriteFile(filepath.Join(dir, "new.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if assets, _ := reg.Assets(folder.ID); len(assets) == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("drift refresh never picked up the new file")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWatcherDropsRemovedFolder(t *testing.T) {
	reg, w, dir := newWatcherFixture(t)
	ctx := context.Background()

	folder, err := reg.AddFolder(ctx, dir, "")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	root, ok := reg.Handle(folder.ID)
	if !ok {
		t.Fatal("no handle for added folder")
	}
	token := root.Token()

	w.mu.Lock()
	_, watched := w.roots[token]
	w.mu.Unlock()
	if !watched {
		t.Fatal("added folder not in the watch set")
	}

	if err := reg.RemoveFolder(ctx, folder.ID); err != nil {
		t.Fatalf("RemoveFolder: %v", err)
	}

	w.mu.Lock()
	_, watched = w.roots[token]
	w.mu.Unlock()
	if watched {
		t.Error("removed folder still in the watch set")
	}
}
