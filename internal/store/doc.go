// Package store persists catalog state in a local SQLite database: the root
// folder registry, per-folder asset record sets, and thumbnail blobs.
//
// Asset sets are replaced atomically per folder inside a transaction, so
// readers observe either the pre-scan or the post-scan snapshot. The schema
// is versioned; migrations run when the store opens.
//
// Live filesystem handles never cross this boundary. Folders persist only
// the capability token needed to restore a handle next session.
package store
