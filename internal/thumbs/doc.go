// Package thumbs generates and caches size-bounded preview images for
// catalog assets.
//
// Previews are keyed by asset key and content modification time, so a
// modified source naturally invalidates its cached preview. Image sources
// are decoded (jpeg, png, gif, webp), bounded to MaxDimension on the longer
// side and re-encoded as JPEG. Video previews are a deferred feature; the
// service returns the original bytes as a placeholder. Sources that fail to
// decode produce a sentinel empty thumbnail instead of an error.
package thumbs
