// Package catalog defines the data model shared by the scanning, merging,
// storage and registry layers: root folders, asset records with their
// upload-pipeline overlay, and transient scan progress reports.
package catalog
