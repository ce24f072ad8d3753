// Package accessfs abstracts filesystem access behind a capability
// interface: granting a root directory, verifying or reacquiring a lapsed
// grant, enumerating children, and reading file bytes and metadata.
//
// Live handles are never serialized. A root persists only as a token, and
// file handles are reconstructed on demand from root plus relative path.
//
// The Local implementation is backed by an afero.Fs, which lets tests run
// against an in-memory filesystem.
package accessfs
