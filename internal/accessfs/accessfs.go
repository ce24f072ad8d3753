package accessfs

import (
	"errors"
	"time"
)

// Sentinel errors returned by capability implementations. Callers classify
// failures with errors.Is; every failure is per-call and never fatal to the
// engine as a whole.
var (
	// ErrGrantCancelled is returned when the user aborts a grant request.
	ErrGrantCancelled = errors.New("accessfs: grant cancelled")
	// ErrAccessDenied is returned when a handle fails verification or an
	// operation is not permitted.
	ErrAccessDenied = errors.New("accessfs: access denied")
	// ErrNotFound is returned when a path cannot be resolved under a root.
	ErrNotFound = errors.New("accessfs: not found")
	// ErrUnavailable is returned when the platform offers no filesystem
	// access capability at all.
	ErrUnavailable = errors.New("accessfs: capability unavailable")
)

// EntryKind distinguishes directories from files during enumeration.
type EntryKind int

const (
	// EntryFile is a regular file entry.
	EntryFile EntryKind = iota
	// EntryDir is a directory entry.
	EntryDir
)

// Handle identifies a file or directory reachable through a capability.
// Handles are live values: they are never serialized. When a handle is
// needed after a reload it is reconstructed via Restore plus Resolve.
type Handle struct {
	Path string
}

// IsZero reports whether the handle is unset.
func (h Handle) IsZero() bool {
	return h.Path == ""
}

// RootHandle is a handle to a granted root directory. Token returns the
// value the registry persists so the handle can be restored next session.
type RootHandle struct {
	Handle
}

// Token returns the serializable token for this root.
func (r RootHandle) Token() string {
	return r.Path
}

// Entry is one child produced by Enumerate.
type Entry struct {
	Name   string
	Kind   EntryKind
	Handle Handle
}

// FileStat carries the best-effort metadata for a file.
type FileStat struct {
	Size       int64
	ModifiedAt time.Time
}

// Capability is the engine's only way to touch real files and directories.
// Implementations may fail any individual call; the engine treats each
// failure in isolation.
type Capability interface {
	// Available reports whether the platform supports filesystem access at
	// all. When false, every other method returns ErrUnavailable and the
	// feature surface reports itself disabled up front.
	Available() bool

	// Grant requests access to the directory identified by the request
	// string and returns a root handle, or ErrGrantCancelled.
	Grant(request string) (RootHandle, error)

	// Restore rebuilds a root handle from a previously persisted token.
	// It does not check permissions; pair it with Verify.
	Restore(token string) (RootHandle, error)

	// Verify checks that a previously granted root is still accessible.
	Verify(root RootHandle) error

	// RequestReacquire asks the platform to re-establish a lapsed grant.
	RequestReacquire(root RootHandle) error

	// Enumerate lists the children of a directory handle.
	Enumerate(dir Handle) ([]Entry, error)

	// Stat returns size and modification time for a file handle.
	Stat(file Handle) (FileStat, error)

	// ReadFile returns the file's bytes along with its metadata.
	ReadFile(file Handle) ([]byte, FileStat, error)

	// Resolve turns a root handle plus relative path into a file handle,
	// or ErrNotFound.
	Resolve(root RootHandle, relativePath string) (Handle, error)
}
