// Package api exposes the catalog engine over HTTP.
//
// Routes are JSON in and out, built on gorilla/mux, with logging and
// Prometheus middleware mirroring the rest of the engine's observability.
// The thumbnail route is the one binary endpoint; it serves preview blobs
// directly.
package api
