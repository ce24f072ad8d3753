package accessfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Local implements Capability over a local filesystem. It is backed by an
// afero.Fs so tests can run against an in-memory filesystem.
type Local struct {
	fs afero.Fs
}

// NewLocal creates a local capability over the given filesystem.
func NewLocal(fs afero.Fs) *Local {
	return &Local{fs: fs}
}

// NewOS creates a local capability over the real OS filesystem.
func NewOS() *Local {
	return NewLocal(afero.NewOsFs())
}

// Available always reports true for the local filesystem.
func (l *Local) Available() bool {
	return true
}

// Grant validates that the requested path is an existing directory and
// returns a root handle for it. An empty request means the user dismissed
// the picker.
func (l *Local) Grant(request string) (RootHandle, error) {
	if request == "" {
		return RootHandle{}, ErrGrantCancelled
	}

	abs, err := filepath.Abs(request)
	if err != nil {
		return RootHandle{}, fmt.Errorf("failed to resolve %s: %w", request, err)
	}

	info, err := l.fs.Stat(abs)
	if err != nil {
		return RootHandle{}, fmt.Errorf("%w: %s", ErrAccessDenied, abs)
	}
	if !info.IsDir() {
		return RootHandle{}, fmt.Errorf("%w: %s is not a directory", ErrAccessDenied, abs)
	}

	return RootHandle{Handle{Path: abs}}, nil
}

// Restore rebuilds a root handle from its persisted token. The local token
// is the absolute root path.
func (l *Local) Restore(token string) (RootHandle, error) {
	if token == "" {
		return RootHandle{}, fmt.Errorf("%w: empty token", ErrNotFound)
	}
	return RootHandle{Handle{Path: token}}, nil
}

// Verify checks that the root directory still exists and can be listed.
func (l *Local) Verify(root RootHandle) error {
	info, err := l.fs.Stat(root.Path)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrAccessDenied, root.Path)
	}
	if _, err := afero.ReadDir(l.fs, root.Path); err != nil {
		return fmt.Errorf("%w: %s", ErrAccessDenied, root.Path)
	}
	return nil
}

// RequestReacquire re-checks access. The local filesystem has no permission
// prompt, so this is equivalent to Verify.
func (l *Local) RequestReacquire(root RootHandle) error {
	return l.Verify(root)
}

// Enumerate lists the children of a directory. Hidden entries (dot-prefixed)
// are skipped.
func (l *Local) Enumerate(dir Handle) ([]Entry, error) {
	infos, err := afero.ReadDir(l.fs, dir.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s: %w", dir.Path, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		if strings.HasPrefix(info.Name(), ".") {
			continue
		}
		kind := EntryFile
		if info.IsDir() {
			kind = EntryDir
		}
		entries = append(entries, Entry{
			Name:   info.Name(),
			Kind:   kind,
			Handle: Handle{Path: filepath.Join(dir.Path, info.Name())},
		})
	}
	return entries, nil
}

// Stat returns size and modification time for a file handle.
func (l *Local) Stat(file Handle) (FileStat, error) {
	info, err := l.fs.Stat(file.Path)
	if err != nil {
		return FileStat{}, fmt.Errorf("failed to stat %s: %w", file.Path, err)
	}
	return FileStat{Size: info.Size(), ModifiedAt: info.ModTime()}, nil
}

// ReadFile returns the file's bytes and metadata.
func (l *Local) ReadFile(file Handle) ([]byte, FileStat, error) {
	stat, err := l.Stat(file)
	if err != nil {
		return nil, FileStat{}, err
	}
	data, err := afero.ReadFile(l.fs, file.Path)
	if err != nil {
		return nil, FileStat{}, fmt.Errorf("failed to read %s: %w", file.Path, err)
	}
	return data, stat, nil
}

// Resolve joins a relative path onto a root and validates that the result
// stays inside the root and exists.
func (l *Local) Resolve(root RootHandle, relativePath string) (Handle, error) {
	full := filepath.Join(root.Path, filepath.FromSlash(relativePath))

	// Joined path must remain inside the granted root.
	rel, err := filepath.Rel(root.Path, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return Handle{}, fmt.Errorf("%w: %s escapes root", ErrAccessDenied, relativePath)
	}

	if _, err := l.fs.Stat(full); err != nil {
		return Handle{}, fmt.Errorf("%w: %s", ErrNotFound, relativePath)
	}
	return Handle{Path: full}, nil
}
