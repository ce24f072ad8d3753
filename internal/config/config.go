package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"

	"media-catalog/internal/logging"
)

// Config holds all engine configuration. Values come from the TOML config
// file, overridden by environment variables, with sensible defaults
// underneath.
type Config struct {
	// DataDir holds the metadata database. Defaults to the XDG data home.
	DataDir string `toml:"data_dir"`
	// ListenAddr is the HTTP API bind address.
	ListenAddr string `toml:"listen_addr"`
	// ScanMaxDepth bounds folder traversal depth; zero keeps the default.
	ScanMaxDepth int `toml:"scan_max_depth"`
	// WatcherEnabled controls the filesystem drift watcher.
	WatcherEnabled bool `toml:"watcher_enabled"`
	// WarmThumbnails controls the post-scan thumbnail warm pass.
	WarmThumbnails bool `toml:"warm_thumbnails"`
	// MetricsEnabled exposes /metrics on the API listener.
	MetricsEnabled bool `toml:"metrics_enabled"`
	// LogHealthChecks includes health endpoint hits in the request log.
	LogHealthChecks bool `toml:"log_health_checks"`

	// DatabasePath is derived from DataDir.
	DatabasePath string `toml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:         filepath.Join(xdg.DataHome, "media-catalog"),
		ListenAddr:      ":8080",
		WatcherEnabled:  true,
		WarmThumbnails:  true,
		MetricsEnabled:  true,
		LogHealthChecks: false,
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "media-catalog", "config.toml")
}

// Read decodes a Config from the provided reader on top of the defaults.
func Read(r io.Reader) (*Config, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Load builds the effective configuration: defaults, then the config file
// at path (a missing file is fine), then environment overrides. The result
// is validated and logged.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer func() {
			if closeErr := f.Close(); closeErr != nil {
				logging.Warn("Failed to close config file: %v", closeErr)
			}
		}()
		cfg, err = Read(f)
		if err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
		logging.Info("Loaded configuration from %s", path)
	case errors.Is(err, fs.ErrNotExist):
		logging.Debug("No config file at %s, using defaults", path)
	default:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	applyEnv(cfg)

	if cfg.DataDir == "" {
		return nil, errors.New("data_dir must not be empty")
	}
	cfg.DatabasePath = filepath.Join(cfg.DataDir, "catalog.db")

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  DATA_DIR:          %s", cfg.DataDir)
	logging.Info("  LISTEN_ADDR:       %s", cfg.ListenAddr)
	logging.Info("  SCAN_MAX_DEPTH:    %s", depthString(cfg.ScanMaxDepth))
	logging.Info("  WATCHER_ENABLED:   %v", cfg.WatcherEnabled)
	logging.Info("  WARM_THUMBNAILS:   %v", cfg.WarmThumbnails)
	logging.Info("  METRICS_ENABLED:   %v", cfg.MetricsEnabled)
	logging.Info("  LOG_HEALTH_CHECKS: %v", cfg.LogHealthChecks)
	logging.Info("  LOG_LEVEL:         %s", logging.GetLevel())

	return cfg, nil
}

func depthString(depth int) string {
	if depth <= 0 {
		return "default"
	}
	return strconv.Itoa(depth)
}

// applyEnv layers environment variables over the loaded values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CATALOG_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CATALOG_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CATALOG_SCAN_MAX_DEPTH"); v != "" {
		if depth, err := strconv.Atoi(v); err == nil && depth > 0 {
			cfg.ScanMaxDepth = depth
		} else {
			logging.Warn("Invalid CATALOG_SCAN_MAX_DEPTH %q, keeping %s", v, depthString(cfg.ScanMaxDepth))
		}
	}
	if v, ok := envBool("CATALOG_WATCHER_ENABLED"); ok {
		cfg.WatcherEnabled = v
	}
	if v, ok := envBool("CATALOG_WARM_THUMBNAILS"); ok {
		cfg.WarmThumbnails = v
	}
	if v, ok := envBool("CATALOG_METRICS_ENABLED"); ok {
		cfg.MetricsEnabled = v
	}
	if v, ok := envBool("CATALOG_LOG_HEALTH_CHECKS"); ok {
		cfg.LogHealthChecks = v
	}
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		logging.Warn("Invalid boolean for %s: %q", key, v)
		return false, false
	}
	return parsed, true
}
