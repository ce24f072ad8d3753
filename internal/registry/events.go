package registry

import "media-catalog/internal/catalog"

// EventType classifies registry notifications.
type EventType string

const (
	// EventFoldersChanged fires when the folder list or a folder's access
	// state changes.
	EventFoldersChanged EventType = "foldersChanged"
	// EventAssetsChanged fires when a folder's asset records change.
	EventAssetsChanged EventType = "assetsChanged"
	// EventScanProgress fires during foreground scans, every progress chunk.
	EventScanProgress EventType = "scanProgress"
)

// Event is one registry notification. Progress is set only for
// EventScanProgress.
type Event struct {
	Type     EventType
	FolderID string
	Progress *catalog.ScanProgress
}

// Subscribe registers a notification callback and returns its unsubscribe
// function. Callbacks run synchronously on the notifying goroutine and must
// not block.
func (r *Registry) Subscribe(fn func(Event)) func() {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn

	return func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		delete(r.subs, id)
	}
}

func (r *Registry) notify(e Event) {
	r.subMu.Lock()
	fns := make([]func(Event), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}
