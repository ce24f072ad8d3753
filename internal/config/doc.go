// Package config loads engine configuration from a TOML file with
// environment variable overrides, defaulting storage locations to the XDG
// base directories.
package config
