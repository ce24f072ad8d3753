package merge

import (
	"media-catalog/internal/catalog"
)

// Records reconciles a fresh scan against the previously stored record set
// for the same folder.
//
// Structural fields (name, size, modification time) always come from the
// fresh scan. Overlay annotations from the existing set are copied onto the
// matching fresh record whenever any overlay field is set, so upload state
// survives rescans. Records present only in the existing set were deleted
// from disk and are dropped outright; there are no tombstones.
//
// The result replaces the prior persisted set wholesale, which makes the
// operation idempotent: merging an unchanged filesystem twice yields the
// same record set.
func Records(existing, fresh []catalog.AssetRecord) []catalog.AssetRecord {
	if len(existing) == 0 {
		return fresh
	}

	overlays := make(map[string]catalog.Overlay, len(existing))
	for _, r := range existing {
		if !r.Overlay.IsZero() {
			overlays[r.Key] = r.Overlay
		}
	}

	merged := make([]catalog.AssetRecord, len(fresh))
	for i, r := range fresh {
		if overlay, ok := overlays[r.Key]; ok && r.Overlay.IsZero() {
			r.Overlay = overlay
		}
		merged[i] = r
	}
	return merged
}
