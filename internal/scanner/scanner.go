package scanner

import (
	"fmt"
	"path"
	"runtime"
	"time"

	"media-catalog/internal/accessfs"
	"media-catalog/internal/catalog"
	"media-catalog/internal/logging"
	"media-catalog/internal/mediatypes"
	"media-catalog/internal/metrics"
)

const (
	// DefaultMaxDepth bounds recursive traversal below a root folder.
	DefaultMaxDepth = 5

	// ChunkSize is the number of visited entries between progress reports
	// and cooperative yields. It bounds the maximum uninterrupted work
	// quantum regardless of folder size.
	ChunkSize = 50
)

// ProgressFunc receives transient progress reports during a scan.
type ProgressFunc func(catalog.ScanProgress)

// Scanner walks a folder tree through an access capability and produces the
// flat asset record list for the folder. A scan never aborts because of a
// single bad entry; enumeration and stat failures are logged and skipped.
type Scanner struct {
	cap      accessfs.Capability
	maxDepth int
	yield    func()
}

// New creates a Scanner with the default depth bound.
func New(cap accessfs.Capability) *Scanner {
	return &Scanner{
		cap:      cap,
		maxDepth: DefaultMaxDepth,
		yield:    runtime.Gosched,
	}
}

// SetMaxDepth overrides the traversal depth bound.
func (s *Scanner) SetMaxDepth(depth int) {
	if depth > 0 {
		s.maxDepth = depth
	}
}

// SetYield replaces the cooperative yield hook. The default hands the
// processor to the scheduler; tests substitute a counter.
func (s *Scanner) SetYield(fn func()) {
	if fn != nil {
		s.yield = fn
	}
}

// frame is one pending directory on the traversal worklist.
type frame struct {
	dir   accessfs.Handle
	rel   string
	depth int
}

// Scan traverses the folder tree rooted at root and returns the complete
// asset record list. Every ChunkSize visited entries it reports progress
// (when onProgress is non-nil) and yields cooperatively. Entries of kind
// "other" are counted but dropped.
func (s *Scanner) Scan(folderID string, root accessfs.RootHandle, onProgress ProgressFunc) ([]catalog.AssetRecord, error) {
	start := time.Now()
	defer func() {
		metrics.ScanDuration.Observe(time.Since(start).Seconds())
	}()

	// The root itself must be enumerable; everything below is best-effort.
	work := []frame{{dir: root.Handle, rel: "", depth: s.maxDepth}}

	var (
		records []catalog.AssetRecord
		scanned int
		found   int
	)

	for len(work) > 0 {
		f := work[len(work)-1]
		work = work[:len(work)-1]

		entries, err := s.cap.Enumerate(f.dir)
		if err != nil {
			if f.rel == "" {
				return nil, fmt.Errorf("failed to enumerate root of folder %s: %w", folderID, err)
			}
			logging.Warn("Skipping unreadable directory %s: %v", f.rel, err)
			metrics.ScannerEntryErrors.Inc()
			continue
		}

		for _, entry := range entries {
			scanned++
			metrics.ScannerEntriesScanned.Inc()
			rel := joinRel(f.rel, entry.Name)

			switch entry.Kind {
			case accessfs.EntryDir:
				if f.depth > 1 {
					work = append(work, frame{dir: entry.Handle, rel: rel, depth: f.depth - 1})
				}
			case accessfs.EntryFile:
				if record, ok := s.makeRecord(folderID, rel, entry); ok {
					records = append(records, record)
					found++
					metrics.ScannerAssetsFound.Inc()
				}
			}

			if scanned%ChunkSize == 0 {
				if onProgress != nil {
					onProgress(catalog.ScanProgress{
						FolderID:     folderID,
						ScannedCount: scanned,
						FoundCount:   found,
						CurrentPath:  rel,
					})
				}
				s.yield()
			}
		}
	}

	logging.Debug("Scan of folder %s finished: %d scanned, %d found in %v",
		folderID, scanned, found, time.Since(start))

	return records, nil
}

// makeRecord classifies one file entry and builds its asset record. Records
// of kind "other" are dropped. Stat failures leave size and modification
// time unset but still emit the record.
func (s *Scanner) makeRecord(folderID, rel string, entry accessfs.Entry) (catalog.AssetRecord, bool) {
	kind := mediatypes.KindForName(entry.Name)
	if kind == mediatypes.KindOther {
		return catalog.AssetRecord{}, false
	}

	record := catalog.AssetRecord{
		Key:          catalog.AssetKey(folderID, rel),
		FolderID:     folderID,
		Name:         entry.Name,
		RelativePath: rel,
		Kind:         kind,
	}

	stat, err := s.cap.Stat(entry.Handle)
	if err != nil {
		logging.Warn("Failed to stat %s: %v", rel, err)
		metrics.ScannerEntryErrors.Inc()
		return record, true
	}
	record.SizeBytes = stat.Size
	record.ModifiedAt = stat.ModifiedAt

	return record, true
}

// joinRel extends a relative path with an entry name. Relative paths always
// use forward slashes so asset keys are stable across platforms.
func joinRel(rel, name string) string {
	if rel == "" {
		return name
	}
	return path.Join(rel, name)
}
