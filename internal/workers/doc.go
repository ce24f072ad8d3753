// Package workers sizes worker pools for background tasks such as the
// thumbnail warm pass, respecting container CPU limits.
package workers
