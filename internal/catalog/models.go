package catalog

import (
	"strings"
	"time"

	"media-catalog/internal/mediatypes"
)

// SchemaVersion is the current persisted schema version. The store runs
// migrations up to this version when it opens.
const SchemaVersion = 1

// AccessState describes whether a root folder's access grant is currently usable.
type AccessState string

const (
	// AccessGranted means the folder can be enumerated and read.
	AccessGranted AccessState = "granted"
	// AccessNeedsPermission means access verification failed and the folder
	// is retained but not refreshed until access is re-granted.
	AccessNeedsPermission AccessState = "needsPermission"
)

// RootFolder is a user-registered directory used as a media source.
//
// The ID is allocated at registration time and is stable across sessions.
// AccessToken is the capability-specific token needed to resolve a live
// handle again after a reload; live handles themselves are never persisted.
type RootFolder struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"displayName"`
	AccessToken string      `json:"-"`
	State       AccessState `json:"state"`
}

// UploadStatus is the outcome reported by the external upload pipeline.
type UploadStatus string

const (
	// UploadSuccess marks an asset as uploaded.
	UploadSuccess UploadStatus = "success"
	// UploadError marks an asset upload as failed.
	UploadError UploadStatus = "error"
)

// ParseUploadStatus validates an upload status string from an external
// caller.
func ParseUploadStatus(s string) (UploadStatus, bool) {
	switch UploadStatus(s) {
	case UploadSuccess, UploadError:
		return UploadStatus(s), true
	default:
		return "", false
	}
}

// Overlay holds annotations written by the upload pipeline. Overlay fields
// survive rescans of the same asset key; they are dropped only when the key
// disappears from disk.
type Overlay struct {
	UploadStatus UploadStatus `json:"uploadStatus,omitempty"`
	UploadNote   string       `json:"uploadNote,omitempty"`
	UploadAt     time.Time    `json:"uploadAt,omitempty"`
}

// IsZero reports whether no overlay field is set.
func (o Overlay) IsZero() bool {
	return o.UploadStatus == "" && o.UploadNote == "" && o.UploadAt.IsZero()
}

// AssetRecord is the catalog entry for one media file within a root folder.
//
// SizeBytes and ModifiedAt are best-effort; a failed stat during scanning
// leaves them at their zero values. A zero ModifiedAt means unknown.
type AssetRecord struct {
	Key          string          `json:"key"`
	FolderID     string          `json:"folderId"`
	Name         string          `json:"name"`
	RelativePath string          `json:"relativePath"`
	Kind         mediatypes.Kind `json:"kind"`
	SizeBytes    int64           `json:"sizeBytes,omitempty"`
	ModifiedAt   time.Time       `json:"modifiedAt,omitempty"`
	Overlay      Overlay         `json:"overlay,omitempty"`
}

// AssetKey builds the globally unique key for an asset. Folder IDs never
// contain ':' so the folder namespace can always be recovered from the key.
func AssetKey(folderID, relativePath string) string {
	return folderID + ":" + relativePath
}

// FolderIDFromKey extracts the folder namespace from an asset key.
// The second return is false if the key is malformed.
func FolderIDFromKey(key string) (string, bool) {
	i := strings.IndexByte(key, ':')
	if i <= 0 || i == len(key)-1 {
		return "", false
	}
	return key[:i], true
}

// ScanProgress is a transient progress report emitted while a scan is in
// flight. It is never persisted.
type ScanProgress struct {
	FolderID     string `json:"folderId"`
	ScannedCount int    `json:"scannedCount"`
	FoundCount   int    `json:"foundCount"`
	CurrentPath  string `json:"currentPath"`
}
