package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"media-catalog/internal/accessfs"
	"media-catalog/internal/catalog"
	"media-catalog/internal/scanner"
	"media-catalog/internal/store"
)

// fakeCap wraps a real in-memory capability with injectable failures.
type fakeCap struct {
	accessfs.Capability

	mu           sync.Mutex
	unavailable  bool
	verifyErr    error
	reacquireErr error
	reacquires   int
	enumErr      error
	enumGate     chan struct{}
}

func (f *fakeCap) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.unavailable
}

func (f *fakeCap) Verify(root accessfs.RootHandle) error {
	f.mu.Lock()
	err := f.verifyErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Capability.Verify(root)
}

func (f *fakeCap) RequestReacquire(root accessfs.RootHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reacquires++
	return f.reacquireErr
}

func (f *fakeCap) Enumerate(dir accessfs.Handle) ([]accessfs.Entry, error) {
	f.mu.Lock()
	err := f.enumErr
	gate := f.enumGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return f.Capability.Enumerate(dir)
}

func (f *fakeCap) set(fn func(*fakeCap)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type fixture struct {
	reg   *Registry
	store *store.Store
	fs    afero.Fs
	cap   *fakeCap
}

func newFixture(t *testing.T) *fixture {
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

	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/photos", 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	cap := &fakeCap{Capability: accessfs.NewLocal(fs)}

	return &fixture{
		reg:   New(s, cap, scanner.New(cap)),
		store: s,
		fs:    fs,
		cap:   cap,
	}
}

func (f *fixture) writeFile(t *testing.T, path string) {
	t.Helper()
	if err := afero.WriteFile(f.fs, path, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestAddFolderScansAndPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeFile(t, "/photos/a.jpg")
	f.writeFile(t, "/photos/b.mp4")
	f.writeFile(t, "/photos/notes.txt")

	folder, err := f.reg.AddFolder(ctx, "/photos", "Vacation")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}
	if folder.ID == "" {
		t.Fatal("folder got no id")
	}
	if folder.State != catalog.AccessGranted {
		t.Errorf("State = %v, want granted", folder.State)
	}

	assets, ok := f.reg.Assets(folder.ID)
	if !ok {
		t.Fatal("Assets() does not know the folder")
	}
	if len(assets) != 2 {
		t.Fatalf("got %d assets, want 2 (txt excluded)", len(assets))
	}

	// Registry and assets survive in the store
	persisted, err := f.store.Registry(ctx)
	if err != nil {
		t.Fatalf("store.Registry: %v", err)
	}
	if len(persisted) != 1 || persisted[0].ID != folder.ID {
		t.Errorf("persisted registry = %+v", persisted)
	}
	records, err := f.store.Assets(ctx, folder.ID)
	if err != nil {
		t.Fatalf("store.Assets: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("persisted %d assets, want 2", len(records))
	}
}

func TestAddFolderDefaultDisplayName(t *testing.T) {
	f := newFixture(t)

	folder, err := f.reg.AddFolder(context.Background(), "/photos", "")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}
	if folder.DisplayName != "photos" {
		t.Errorf("DisplayName = %q, want %q", folder.DisplayName, "photos")
	}
}

func TestRemoveFolderCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeFile(t, "/photos/a.jpg")

	folder, err := f.reg.AddFolder(ctx, "/photos", "")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	assets, _ := f.reg.Assets(folder.ID)
	if err := f.store.SetThumbnail(ctx, assets[0].Key, assets[0].ModifiedAt, folder.ID, []byte("thumb")); err != nil {
		t.Fatalf("SetThumbnail: %v", err)
	}

	if err := f.reg.RemoveFolder(ctx, folder.ID); err != nil {
		t.Fatalf("RemoveFolder: %v", err)
	}

	if _, ok := f.reg.Assets(folder.ID); ok {
		t.Error("assets still visible after removal")
	}
	records, err := f.store.Assets(ctx, folder.ID)
	if err != nil {
		t.Fatalf("store.Assets: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("%d asset records survived removal", len(records))
	}
	if _, err := f.store.Thumbnail(ctx, assets[0].Key, assets[0].ModifiedAt); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("thumbnail survived removal: %v", err)
	}

	if err := f.reg.RemoveFolder(ctx, folder.ID); !errors.Is(err, ErrUnknownFolder) {
		t.Errorf("second removal = %v, want ErrUnknownFolder", err)
	}
}

func TestUploadStatusSurvivesRescan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeFile(t, "/photos/a.jpg")
	f.writeFile(t, "/photos/b.jpg")

	folder, err := f.reg.AddFolder(ctx, "/photos", "")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}
	assets, _ := f.reg.Assets(folder.ID)

	if err := f.reg.UpdateAssetUploadStatus(ctx, assets[0].Key, catalog.UploadSuccess, "uploaded"); err != nil {
		t.Fatalf("UpdateAssetUploadStatus: %v", err)
	}

	// Overlay is persisted immediately, before any rescan
	records, err := f.store.Assets(ctx, folder.ID)
	if err != nil {
		t.Fatalf("store.Assets: %v", err)
	}
	found := false
	for _, r := range records {
		if r.Key == assets[0].Key {
			found = true
			if r.Overlay.UploadStatus != catalog.UploadSuccess || r.Overlay.UploadNote != "uploaded" {
				t.Errorf("persisted overlay = %+v", r.Overlay)
			}
		}
	}
	if !found {
		t.Fatal("annotated asset missing from store")
	}

	// Rescan must not clobber the overlay
	if err := f.reg.RefreshFolder(ctx, folder.ID, false); err != nil {
		t.Fatalf("RefreshFolder: %v", err)
	}
	after, _ := f.reg.Assets(folder.ID)
	if len(after) != 2 {
		t.Fatalf("got %d assets after rescan, want 2", len(after))
	}
	for _, r := range after {
		if r.Key == assets[0].Key && r.Overlay.UploadStatus != catalog.UploadSuccess {
			t.Errorf("overlay lost on rescan: %+v", r.Overlay)
		}
	}
}

func TestUpdateAssetUploadStatusUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.reg.UpdateAssetUploadStatus(ctx, "nope", catalog.UploadSuccess, ""); err == nil {
		t.Error("malformed key accepted")
	}
	if err := f.reg.UpdateAssetUploadStatus(ctx, "missing:a.jpg", catalog.UploadSuccess, ""); !errors.Is(err, ErrUnknownFolder) {
		t.Errorf("unknown folder = %v, want ErrUnknownFolder", err)
	}
}

func TestRefreshPicksUpDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeFile(t, "/photos/a.jpg")

	folder, err := f.reg.AddFolder(ctx, "/photos", "")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	f.writeFile(t, "/photos/new.jpg")
	if err := f.reg.RefreshFolder(ctx, folder.ID, true); err != nil {
		t.Fatalf("RefreshFolder: %v", err)
	}

	assets, _ := f.reg.Assets(folder.ID)
	if len(assets) != 2 {
		t.Errorf("got %d assets after drift refresh, want 2", len(assets))
	}
}

func TestRemovedFileDisappearsWithoutTombstone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeFile(t, "/photos/keep.jpg")
	f.writeFile(t, "/photos/gone.jpg")

	folder, err := f.reg.AddFolder(ctx, "/photos", "")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	if err := f.fs.Remove("/photos/gone.jpg"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := f.reg.RefreshFolder(ctx, folder.ID, true); err != nil {
		t.Fatalf("RefreshFolder: %v", err)
	}

	assets, _ := f.reg.Assets(folder.ID)
	if len(assets) != 1 || assets[0].Name != "keep.jpg" {
		t.Errorf("assets after removal = %+v", assets)
	}
}

func TestRefreshUnknownAndNeedsPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.reg.RefreshFolder(ctx, "nope", false); !errors.Is(err, ErrUnknownFolder) {
		t.Errorf("unknown folder refresh = %v", err)
	}

	folder, err := f.reg.AddFolder(ctx, "/photos", "")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	// Root becomes unreadable: folder flips to needsPermission, refreshes
	// stop, but the folder itself is retained.
	f.cap.set(func(c *fakeCap) { c.enumErr = accessfs.ErrAccessDenied })
	if err := f.reg.RefreshFolder(ctx, folder.ID, false); err == nil {
		t.Fatal("refresh with revoked access succeeded")
	}

	folders := f.reg.Folders()
	if len(folders) != 1 {
		t.Fatalf("folder dropped after access failure")
	}
	if folders[0].State != catalog.AccessNeedsPermission {
		t.Errorf("State = %v, want needsPermission", folders[0].State)
	}
	if err := f.reg.RefreshFolder(ctx, folder.ID, false); !errors.Is(err, ErrNeedsPermission) {
		t.Errorf("refresh of needs-permission folder = %v", err)
	}
}

func TestRefreshReentrancyGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeFile(t, "/photos/a.jpg")

	folder, err := f.reg.AddFolder(ctx, "/photos", "")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	gate := make(chan struct{})
	f.cap.set(func(c *fakeCap) { c.enumGate = gate })

	errCh := make(chan error, 1)
	go func() {
		errCh <- f.reg.RefreshFolder(ctx, folder.ID, true)
	}()

	// Wait for the first scan to take the guard
	deadline := time.After(2 * time.Second)
	for !f.reg.Scanning(folder.ID) {
		select {
		case <-deadline:
			t.Fatal("first scan never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if err := f.reg.RefreshFolder(ctx, folder.ID, true); !errors.Is(err, ErrScanInFlight) {
		t.Errorf("concurrent refresh = %v, want ErrScanInFlight", err)
	}

	close(gate)
	if err := <-errCh; err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if f.reg.Scanning(folder.ID) {
		t.Error("guard not released after scan")
	}
}

func TestRemoveFolderMidScanDiscardsResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeFile(t, "/photos/a.jpg")

	folder, err := f.reg.AddFolder(ctx, "/photos", "")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	gate := make(chan struct{})
	f.cap.set(func(c *fakeCap) { c.enumGate = gate })

	errCh := make(chan error, 1)
	go func() {
		errCh <- f.reg.RefreshFolder(ctx, folder.ID, true)
	}()

	deadline := time.After(2 * time.Second)
	for !f.reg.Scanning(folder.ID) {
		select {
		case <-deadline:
			t.Fatal("scan never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	f.cap.set(func(c *fakeCap) { c.enumGate = nil })
	if err := f.reg.RemoveFolder(ctx, folder.ID); err != nil {
		t.Fatalf("RemoveFolder: %v", err)
	}
	close(gate)

	if err := <-errCh; err != nil {
		t.Fatalf("in-flight refresh: %v", err)
	}

	// The late commit was discarded; the store stays empty.
	if _, ok := f.reg.Assets(folder.ID); ok {
		t.Error("removed folder resurfaced after scan commit")
	}
	records, err := f.store.Assets(ctx, folder.ID)
	if err != nil {
		t.Fatalf("store.Assets: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("%d discarded records written to store", len(records))
	}
}

func TestRemoveFolderDuringCommitWriteLeavesNoRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeFile(t, "/photos/a.jpg")

	folder, err := f.reg.AddFolder(ctx, "/photos", "")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	// Remove the folder in the window between the in-memory commit and the
	// store write: the registration check has already passed, so the write
	// would re-insert rows after the removal's cascade delete.
	f.reg.commitHook = func() {
		f.reg.commitHook = nil
		if err := f.reg.RemoveFolder(ctx, folder.ID); err != nil {
			t.Errorf("RemoveFolder: %v", err)
		}
	}

	if err := f.reg.RefreshFolder(ctx, folder.ID, true); err != nil {
		t.Fatalf("RefreshFolder: %v", err)
	}

	if _, ok := f.reg.Assets(folder.ID); ok {
		t.Error("removed folder resurfaced after commit")
	}
	records, err := f.store.Assets(ctx, folder.ID)
	if err != nil {
		t.Fatalf("store.Assets: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("%d rows left in the store for a removed folder", len(records))
	}
}

func TestUploadStatusDuringRemovalLeavesNoRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeFile(t, "/photos/a.jpg")

	folder, err := f.reg.AddFolder(ctx, "/photos", "")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}
	assets, _ := f.reg.Assets(folder.ID)

	f.reg.commitHook = func() {
		f.reg.commitHook = nil
		if err := f.reg.RemoveFolder(ctx, folder.ID); err != nil {
			t.Errorf("RemoveFolder: %v", err)
		}
	}

	if err := f.reg.UpdateAssetUploadStatus(ctx, assets[0].Key, catalog.UploadSuccess, ""); err != nil {
		t.Fatalf("UpdateAssetUploadStatus: %v", err)
	}

	records, err := f.store.Assets(ctx, folder.ID)
	if err != nil {
		t.Fatalf("store.Assets: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("%d rows left in the store for a removed folder", len(records))
	}
}

func TestLoadPersistedRestoresAndRefreshes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeFile(t, "/photos/a.jpg")

	folder, err := f.reg.AddFolder(ctx, "/photos", "Vacation")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	// Drift while "the engine was not running"
	f.writeFile(t, "/photos/new.jpg")

	// Fresh registry over the same store and filesystem
	reloaded := New(f.store, f.cap, scanner.New(f.cap))
	if err := reloaded.LoadPersisted(ctx); err != nil {
		t.Fatalf("LoadPersisted: %v", err)
	}

	folders := reloaded.Folders()
	if len(folders) != 1 || folders[0].ID != folder.ID || folders[0].DisplayName != "Vacation" {
		t.Fatalf("reloaded folders = %+v", folders)
	}
	if folders[0].State != catalog.AccessGranted {
		t.Errorf("State = %v, want granted", folders[0].State)
	}

	reloaded.WaitScans()
	assets, ok := reloaded.Assets(folder.ID)
	if !ok {
		t.Fatal("reloaded registry lost the folder's assets")
	}
	if len(assets) != 2 {
		t.Errorf("got %d assets after silent refresh, want 2", len(assets))
	}
}

func TestLoadPersistedRetainsOnVerifyFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeFile(t, "/photos/a.jpg")

	folder, err := f.reg.AddFolder(ctx, "/photos", "")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	f.cap.set(func(c *fakeCap) {
		c.verifyErr = accessfs.ErrAccessDenied
		c.reacquireErr = accessfs.ErrAccessDenied
	})

	reloaded := New(f.store, f.cap, scanner.New(f.cap))
	if err := reloaded.LoadPersisted(ctx); err != nil {
		t.Fatalf("LoadPersisted: %v", err)
	}
	reloaded.WaitScans()

	// Exactly one reacquire attempt, and the folder is retained
	f.cap.mu.Lock()
	reacquires := f.cap.reacquires
	f.cap.mu.Unlock()
	if reacquires != 1 {
		t.Errorf("reacquire attempts = %d, want 1", reacquires)
	}

	folders := reloaded.Folders()
	if len(folders) != 1 {
		t.Fatal("folder dropped on verification failure")
	}
	if folders[0].State != catalog.AccessNeedsPermission {
		t.Errorf("State = %v, want needsPermission", folders[0].State)
	}
	if err := reloaded.RefreshFolder(ctx, folder.ID, false); !errors.Is(err, ErrNeedsPermission) {
		t.Errorf("refresh = %v, want ErrNeedsPermission", err)
	}
}

func TestLoadPersistedReacquireRecovers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeFile(t, "/photos/a.jpg")

	folder, err := f.reg.AddFolder(ctx, "/photos", "")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	// Verification fails but reacquisition succeeds: folder stays granted.
	f.cap.set(func(c *fakeCap) { c.verifyErr = accessfs.ErrAccessDenied })

	reloaded := New(f.store, f.cap, scanner.New(f.cap))
	if err := reloaded.LoadPersisted(ctx); err != nil {
		t.Fatalf("LoadPersisted: %v", err)
	}
	reloaded.WaitScans()

	folders := reloaded.Folders()
	if folders[0].State != catalog.AccessGranted {
		t.Errorf("State = %v, want granted after reacquire", folders[0].State)
	}
	if _, ok := reloaded.Assets(folder.ID); !ok {
		t.Error("granted folder has no assets")
	}
}

func TestDisabledCapability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cap.set(func(c *fakeCap) { c.unavailable = true })

	if !f.reg.Disabled() {
		t.Error("Disabled() = false with unavailable capability")
	}
	if _, err := f.reg.AddFolder(ctx, "/photos", ""); !errors.Is(err, ErrDisabled) {
		t.Errorf("AddFolder = %v", err)
	}
	if err := f.reg.RemoveFolder(ctx, "x"); !errors.Is(err, ErrDisabled) {
		t.Errorf("RemoveFolder = %v", err)
	}
	if err := f.reg.LoadPersisted(ctx); !errors.Is(err, ErrDisabled) {
		t.Errorf("LoadPersisted = %v", err)
	}
	if err := f.reg.RefreshFolder(ctx, "x", false); !errors.Is(err, ErrDisabled) {
		t.Errorf("RefreshFolder = %v", err)
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 120; i++ {
		f.writeFile(t, fmt.Sprintf("/photos/img%03d.jpg", i))
	}

	var mu sync.Mutex
	counts := map[EventType]int{}
	unsubscribe := f.reg.Subscribe(func(e Event) {
		mu.Lock()
		counts[e.Type]++
		mu.Unlock()
	})

	folder, err := f.reg.AddFolder(ctx, "/photos", "")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	mu.Lock()
	if counts[EventFoldersChanged] == 0 {
		t.Error("no foldersChanged event for add")
	}
	if counts[EventAssetsChanged] == 0 {
		t.Error("no assetsChanged event after scan")
	}
	if counts[EventScanProgress] == 0 {
		t.Error("no progress events during foreground scan")
	}
	mu.Unlock()

	// Silent refresh emits no progress
	mu.Lock()
	progressBefore := counts[EventScanProgress]
	mu.Unlock()
	if err := f.reg.RefreshFolder(ctx, folder.ID, true); err != nil {
		t.Fatalf("RefreshFolder: %v", err)
	}
	mu.Lock()
	if counts[EventScanProgress] != progressBefore {
		t.Error("silent refresh emitted progress events")
	}
	mu.Unlock()

	unsubscribe()
	mu.Lock()
	before := counts[EventFoldersChanged]
	mu.Unlock()
	if err := f.reg.RemoveFolder(ctx, folder.ID); err != nil {
		t.Fatalf("RemoveFolder: %v", err)
	}
	mu.Lock()
	if counts[EventFoldersChanged] != before {
		t.Error("event delivered after unsubscribe")
	}
	mu.Unlock()
}
