// Package merge reconciles fresh scan results with previously cached asset
// records, preserving upload-pipeline overlay annotations while letting the
// fresh scan decide which assets still exist.
package merge
