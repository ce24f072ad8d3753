// Package logging provides leveled logging for the catalog engine.
//
// The log level is read from the LOG_LEVEL environment variable (debug,
// info, warn, error) and defaults to info. Setting DEBUG=true forces the
// debug level regardless of LOG_LEVEL.
package logging
