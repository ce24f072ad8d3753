package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"media-catalog/internal/accessfs"
	"media-catalog/internal/catalog"
	"media-catalog/internal/logging"
	"media-catalog/internal/merge"
	"media-catalog/internal/metrics"
	"media-catalog/internal/scanner"
	"media-catalog/internal/store"
)

// Sentinel errors for registry operations.
var (
	// ErrUnknownFolder is returned for operations on an unregistered folder id.
	ErrUnknownFolder = errors.New("registry: unknown folder")
	// ErrScanInFlight is returned when a scan is requested for a folder
	// that is already being scanned.
	ErrScanInFlight = errors.New("registry: scan already in flight")
	// ErrNeedsPermission is returned when a folder's access grant is not
	// currently usable.
	ErrNeedsPermission = errors.New("registry: folder needs permission")
	// ErrDisabled is returned when the platform offers no filesystem
	// access capability; no folder operations are attempted.
	ErrDisabled = errors.New("registry: filesystem capability unavailable")
)

// ScanCompleteFunc is invoked after a scan's merged record set has been
// committed, outside the registry lock. Used to kick off thumbnail warming.
type ScanCompleteFunc func(folderID string, records []catalog.AssetRecord, root accessfs.RootHandle)

// Registry owns the authoritative set of registered root folders and
// orchestrates when scans run: on explicit add, on explicit refresh, and as
// silent background refreshes after a reload.
//
// The per-folder asset map is mutated only by the atomic commit at the end
// of a scan, so readers always observe either the pre-scan or the post-scan
// snapshot.
type Registry struct {
	store   *store.Store
	cap     accessfs.Capability
	scanner *scanner.Scanner

	mu       sync.RWMutex
	folders  []catalog.RootFolder
	handles  map[string]accessfs.RootHandle
	assets   map[string][]catalog.AssetRecord
	progress map[string]catalog.ScanProgress
	scanning map[string]bool

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int

	scanWG         sync.WaitGroup
	onScanComplete ScanCompleteFunc

	// commitHook, when set, runs between a folder's in-memory commit and
	// its store write. Tests use it to interleave a removal into that gap.
	commitHook func()
}

// New creates a Registry. If the capability reports itself unavailable the
// registry is disabled and every operation returns ErrDisabled.
func New(st *store.Store, cap accessfs.Capability, sc *scanner.Scanner) *Registry {
	return &Registry{
		store:    st,
		cap:      cap,
		scanner:  sc,
		handles:  make(map[string]accessfs.RootHandle),
		assets:   make(map[string][]catalog.AssetRecord),
		progress: make(map[string]catalog.ScanProgress),
		scanning: make(map[string]bool),
		subs:     make(map[int]func(Event)),
	}
}

// Disabled reports whether the feature surface is unavailable on this
// platform.
func (r *Registry) Disabled() bool {
	return !r.cap.Available()
}

func (r *Registry) checkEnabled() error {
	if r.Disabled() {
		return ErrDisabled
	}
	return nil
}

// SetOnScanComplete registers a callback invoked after each committed scan.
func (r *Registry) SetOnScanComplete(fn ScanCompleteFunc) {
	r.onScanComplete = fn
}

// AddFolder grants access to a directory, registers it under a fresh stable
// id, persists the registry, and runs a foreground scan that reports
// progress to subscribers.
func (r *Registry) AddFolder(ctx context.Context, request, displayName string) (catalog.RootFolder, error) {
	if err := r.checkEnabled(); err != nil {
		return catalog.RootFolder{}, err
	}

	root, err := r.cap.Grant(request)
	if err != nil {
		return catalog.RootFolder{}, fmt.Errorf("grant failed: %w", err)
	}

	if displayName == "" {
		displayName = filepath.Base(root.Token())
	}

	folder := catalog.RootFolder{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		AccessToken: root.Token(),
		State:       catalog.AccessGranted,
	}

	r.mu.Lock()
	r.folders = append(r.folders, folder)
	r.handles[folder.ID] = root
	snapshot := r.foldersLocked()
	r.updateGaugesLocked()
	r.mu.Unlock()

	r.persistRegistry(ctx, snapshot)
	r.notify(Event{Type: EventFoldersChanged, FolderID: folder.ID})

	logging.Info("Registered folder %q (%s)", folder.DisplayName, folder.ID)

	if err := r.RefreshFolder(ctx, folder.ID, false); err != nil {
		logging.Warn("Initial scan of folder %s failed: %v", folder.ID, err)
	}

	return folder, nil
}

// RemoveFolder deletes a folder and cascades deletion of its asset records
// and thumbnails. It is safe to call while a scan for the folder is in
// flight: the scan's eventual commit notices the folder is gone and
// discards its write.
func (r *Registry) RemoveFolder(ctx context.Context, id string) error {
	if err := r.checkEnabled(); err != nil {
		return err
	}

	r.mu.Lock()
	idx := -1
	for i, f := range r.folders {
		if f.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return ErrUnknownFolder
	}
	r.folders = append(r.folders[:idx], r.folders[idx+1:]...)
	delete(r.handles, id)
	delete(r.assets, id)
	delete(r.progress, id)
	snapshot := r.foldersLocked()
	r.updateGaugesLocked()
	r.mu.Unlock()

	r.persistRegistry(ctx, snapshot)
	if err := r.store.DeleteAssets(ctx, id); err != nil {
		logging.Error("Failed to cascade-delete assets for folder %s: %v", id, err)
	}

	r.notify(Event{Type: EventFoldersChanged, FolderID: id})
	logging.Info("Removed folder %s", id)
	return nil
}

// LoadPersisted restores the registry from the store. Every persisted
// folder is verified; a folder that fails verification gets one reacquire
// attempt and is otherwise retained in the needsPermission state — never
// dropped. Cached asset records for granted folders are surfaced
// immediately, then each granted folder gets a silent background scan to
// pick up filesystem drift since the last session.
func (r *Registry) LoadPersisted(ctx context.Context) error {
	if err := r.checkEnabled(); err != nil {
		return err
	}

	persisted, err := r.store.Registry(ctx)
	if err != nil {
		return fmt.Errorf("failed to load folder registry: %w", err)
	}

	folders := make([]catalog.RootFolder, 0, len(persisted))
	handles := make(map[string]accessfs.RootHandle, len(persisted))
	cached := make(map[string][]catalog.AssetRecord)

	for _, f := range persisted {
		f.State = catalog.AccessGranted

		root, restoreErr := r.cap.Restore(f.AccessToken)
		if restoreErr == nil {
			if verifyErr := r.cap.Verify(root); verifyErr != nil {
				logging.Warn("Access verification failed for folder %q: %v", f.DisplayName, verifyErr)
				restoreErr = r.cap.RequestReacquire(root)
			}
		}
		if restoreErr != nil {
			// Hard requirement: the folder is retained, not dropped.
			f.State = catalog.AccessNeedsPermission
			logging.Warn("Folder %q retained in needs-permission state", f.DisplayName)
		} else {
			handles[f.ID] = root
			records, assetsErr := r.store.Assets(ctx, f.ID)
			if assetsErr != nil {
				logging.Error("Failed to load cached assets for folder %s: %v", f.ID, assetsErr)
			} else {
				cached[f.ID] = records
			}
		}

		folders = append(folders, f)
	}

	r.mu.Lock()
	r.folders = folders
	r.handles = handles
	for id, records := range cached {
		r.assets[id] = records
	}
	r.updateGaugesLocked()
	r.mu.Unlock()

	r.notify(Event{Type: EventFoldersChanged})
	logging.Info("Loaded %d folders from store (%d need permission)",
		len(folders), len(folders)-len(handles))

	// Silent background refresh per granted folder to pick up drift.
	for id := range handles {
		id := id
		r.scanWG.Add(1)
		go func() {
			defer r.scanWG.Done()
			if err := r.RefreshFolder(context.Background(), id, true); err != nil &&
				!errors.Is(err, ErrScanInFlight) {
				logging.Warn("Background refresh of folder %s failed: %v", id, err)
			}
		}()
	}

	return nil
}

// WaitScans blocks until all background scans started by LoadPersisted have
// finished. Used at shutdown and by tests.
func (r *Registry) WaitScans() {
	r.scanWG.Wait()
}

// RefreshFolder re-scans one folder and commits the merged record set.
// When silent is true no progress events are emitted (background refreshes
// must not compete visually with user-initiated ones). Scans of a single
// folder are not reentrant; a second request while one is in flight returns
// ErrScanInFlight.
func (r *Registry) RefreshFolder(ctx context.Context, id string, silent bool) error {
	if err := r.checkEnabled(); err != nil {
		return err
	}

	r.mu.RLock()
	folder, ok := r.folderLocked(id)
	root, hasHandle := r.handles[id]
	r.mu.RUnlock()

	if !ok {
		return ErrUnknownFolder
	}
	if folder.State != catalog.AccessGranted || !hasHandle {
		return ErrNeedsPermission
	}

	if !r.tryStartScan(id) {
		return ErrScanInFlight
	}
	defer r.finishScan(id)

	mode := "foreground"
	if silent {
		mode = "silent"
	}

	var onProgress scanner.ProgressFunc
	if !silent {
		onProgress = func(p catalog.ScanProgress) {
			r.mu.Lock()
			r.progress[id] = p
			r.mu.Unlock()
			r.notify(Event{Type: EventScanProgress, FolderID: id, Progress: &p})
		}
	}

	start := time.Now()
	fresh, err := r.scanner.Scan(id, root, onProgress)
	if err != nil {
		metrics.ScansTotal.WithLabelValues(mode, "error").Inc()
		// Access to the root is gone; keep the folder and its cached
		// assets, just stop refreshing until access is re-granted.
		r.markNeedsPermission(id)
		return fmt.Errorf("scan of folder %s failed: %w", id, err)
	}

	r.mu.Lock()
	if _, stillRegistered := r.folderLocked(id); !stillRegistered {
		r.mu.Unlock()
		metrics.ScansTotal.WithLabelValues(mode, "discarded").Inc()
		logging.Info("Discarding scan results for removed folder %s", id)
		return nil
	}
	existing := r.assets[id]
	merged := merge.Records(existing, fresh)
	r.assets[id] = merged
	r.mu.Unlock()

	if !r.persistAssets(ctx, id, merged) {
		metrics.ScansTotal.WithLabelValues(mode, "discarded").Inc()
		logging.Info("Discarding scan results for removed folder %s", id)
		return nil
	}

	metrics.ScansTotal.WithLabelValues(mode, "success").Inc()
	r.notify(Event{Type: EventAssetsChanged, FolderID: id})

	logging.Info("Scan of folder %s committed %d assets in %v", id, len(merged), time.Since(start))

	if r.onScanComplete != nil {
		r.onScanComplete(id, merged, root)
	}
	return nil
}

// UpdateAssetUploadStatus records the upload pipeline's outcome for one
// asset and immediately persists the folder's full record set so the
// overlay survives a reload even if no rescan ever happens again.
func (r *Registry) UpdateAssetUploadStatus(ctx context.Context, assetKey string, status catalog.UploadStatus, note string) error {
	if err := r.checkEnabled(); err != nil {
		return err
	}

	folderID, ok := catalog.FolderIDFromKey(assetKey)
	if !ok {
		return fmt.Errorf("malformed asset key %q", assetKey)
	}

	r.mu.Lock()
	records, ok := r.assets[folderID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownFolder
	}
	found := false
	for i := range records {
		if records[i].Key == assetKey {
			records[i].Overlay = catalog.Overlay{
				UploadStatus: status,
				UploadNote:   note,
				UploadAt:     time.Now(),
			}
			found = true
			break
		}
	}
	if !found {
		r.mu.Unlock()
		return fmt.Errorf("unknown asset %q", assetKey)
	}
	snapshot := make([]catalog.AssetRecord, len(records))
	copy(snapshot, records)
	r.mu.Unlock()

	if r.persistAssets(ctx, folderID, snapshot) {
		r.notify(Event{Type: EventAssetsChanged, FolderID: folderID})
	}
	return nil
}

// persistAssets writes a folder's record set and reports whether the folder
// was still registered once the write finished. A removal interleaving with
// the write can land its cascade delete before SetAssets commits, which
// would re-insert rows for a folder id that no longer exists; the re-check
// issues a compensating delete so the store never keeps rows for an
// unregistered folder.
func (r *Registry) persistAssets(ctx context.Context, id string, records []catalog.AssetRecord) bool {
	if r.commitHook != nil {
		r.commitHook()
	}

	// In-memory state is authoritative for the session; a failed write is
	// superseded by the next successful one.
	if err := r.store.SetAssets(ctx, id, records); err != nil {
		logging.Error("Failed to persist %d assets for folder %s: %v", len(records), id, err)
	}

	r.mu.RLock()
	_, registered := r.folderLocked(id)
	r.mu.RUnlock()
	if registered {
		return true
	}

	if err := r.store.DeleteAssets(ctx, id); err != nil {
		logging.Error("Failed to clear assets for removed folder %s: %v", id, err)
	}
	return false
}

// Folders returns a snapshot of the registered folders.
func (r *Registry) Folders() []catalog.RootFolder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.foldersLocked()
}

// Assets returns a snapshot of one folder's asset records.
func (r *Registry) Assets(id string) ([]catalog.AssetRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.folderLocked(id); !ok {
		return nil, false
	}
	records := r.assets[id]
	out := make([]catalog.AssetRecord, len(records))
	copy(out, records)
	return out, true
}

// Asset returns one asset record by key.
func (r *Registry) Asset(assetKey string) (catalog.AssetRecord, bool) {
	folderID, ok := catalog.FolderIDFromKey(assetKey)
	if !ok {
		return catalog.AssetRecord{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, record := range r.assets[folderID] {
		if record.Key == assetKey {
			return record, true
		}
	}
	return catalog.AssetRecord{}, false
}

// Handle returns the live root handle for a granted folder.
func (r *Registry) Handle(id string) (accessfs.RootHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	root, ok := r.handles[id]
	return root, ok
}

// Progress returns the current scan progress for a folder, if a
// progress-reporting scan is in flight.
func (r *Registry) Progress(id string) (catalog.ScanProgress, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.progress[id]
	return p, ok
}

// Scanning reports whether a scan for the folder is in flight.
func (r *Registry) Scanning(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scanning[id]
}

// folderLocked finds a folder by id. Callers hold r.mu.
func (r *Registry) folderLocked(id string) (catalog.RootFolder, bool) {
	for _, f := range r.folders {
		if f.ID == id {
			return f, true
		}
	}
	return catalog.RootFolder{}, false
}

// foldersLocked copies the folder list. Callers hold r.mu.
func (r *Registry) foldersLocked() []catalog.RootFolder {
	out := make([]catalog.RootFolder, len(r.folders))
	copy(out, r.folders)
	return out
}

func (r *Registry) updateGaugesLocked() {
	needs := 0
	for _, f := range r.folders {
		if f.State == catalog.AccessNeedsPermission {
			needs++
		}
	}
	metrics.RegistryFolders.Set(float64(len(r.folders)))
	metrics.RegistryFoldersNeedingPermission.Set(float64(needs))
}

func (r *Registry) markNeedsPermission(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.folders {
		if r.folders[i].ID == id {
			r.folders[i].State = catalog.AccessNeedsPermission
			break
		}
	}
	r.updateGaugesLocked()
}

// tryStartScan attempts to mark a folder as scanning; false when a scan is
// already in flight.
func (r *Registry) tryStartScan(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scanning[id] {
		return false
	}
	r.scanning[id] = true
	return true
}

func (r *Registry) finishScan(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.scanning, id)
	delete(r.progress, id)
}

// persistRegistry writes the folder list. Write failures are logged, not
// escalated: in-memory state stays authoritative for the session.
func (r *Registry) persistRegistry(ctx context.Context, folders []catalog.RootFolder) {
	if err := r.store.SetRegistry(ctx, folders); err != nil {
		logging.Error("Failed to persist folder registry: %v", err)
	}
}
