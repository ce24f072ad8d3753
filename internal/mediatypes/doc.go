// Package mediatypes classifies files by extension into the media kinds
// the catalog tracks.
//
// Supported kinds:
//   - Images: jpg, jpeg, png, gif, bmp, webp, svg, ico, tiff, heic, heif
//   - Videos: mp4, mkv, avi, mov, wmv, flv, webm, m4v, mpeg, mpg, 3gp, ts
//
// Everything else classifies as KindOther and is excluded from the catalog
// at scan time.
package mediatypes
