// Package scanner implements depth-bounded traversal of a media source
// folder through an access capability.
//
// Traversal uses an explicit worklist rather than recursion, which keeps
// the suspension points precise: every ChunkSize visited entries the
// scanner reports progress and yields cooperatively so a long scan cannot
// starve other pending work. Individual entry failures are skipped; only an
// unreadable root fails the scan.
package scanner
