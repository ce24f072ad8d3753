// Package registry owns the set of registered media folders and their
// cached asset records.
//
// The registry is the orchestration point of the engine: it grants and
// restores filesystem access, decides when scans run, merges fresh scan
// results with cached records so user annotations survive rescans, and
// keeps the metadata store in sync with its in-memory state. In-memory
// state is authoritative for a session; persistence failures are logged
// and superseded by the next successful write.
package registry
