package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"media-catalog/internal/accessfs"
	"media-catalog/internal/api"
	"media-catalog/internal/catalog"
	"media-catalog/internal/config"
	"media-catalog/internal/logging"
	"media-catalog/internal/registry"
	"media-catalog/internal/scanner"
	"media-catalog/internal/store"
	"media-catalog/internal/thumbs"
)

func main() {
	startTime := time.Now()

	cfg, err := config.Load(os.Getenv("CATALOG_CONFIG"))
	if err != nil {
		logging.Fatal("Configuration error: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logging.Fatal("Failed to create data directory: %v", err)
	}

	ctx := context.Background()

	dbStart := time.Now()
	st, err := store.New(ctx, cfg.DatabasePath)
	if err != nil {
		logging.Fatal("Failed to open metadata store: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error("Failed to close metadata store: %v", err)
		}
	}()
	logging.Info("Metadata store ready in %v (%s)", time.Since(dbStart), st.Path())

	cap := accessfs.NewOS()
	sc := scanner.New(cap)
	if cfg.ScanMaxDepth > 0 {
		sc.SetMaxDepth(cfg.ScanMaxDepth)
	}

	reg := registry.New(st, cap, sc)
	thumbSvc := thumbs.New(st, cap)
	if cfg.WarmThumbnails {
		reg.SetOnScanComplete(func(folderID string, records []catalog.AssetRecord, root accessfs.RootHandle) {
			go thumbSvc.WarmFolder(ctx, records, root)
		})
	}

	if reg.Disabled() {
		logging.Warn("Filesystem access unavailable; folder operations are disabled")
	} else if err := reg.LoadPersisted(ctx); err != nil {
		logging.Fatal("Failed to load persisted folders: %v", err)
	}

	var watcher *registry.Watcher
	if cfg.WatcherEnabled && !reg.Disabled() {
		watcher, err = reg.StartWatcher()
		if err != nil {
			logging.Warn("Folder watcher unavailable: %v", err)
		}
	}

	h := api.New(reg, thumbSvc)
	router := h.Router()
	if cfg.MetricsEnabled {
		router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	handler := api.Logger(api.LoggingConfig{LogHealthChecks: cfg.LogHealthChecks})(
		api.Metrics()(router))

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go handleShutdown(srv, reg, watcher)

	logging.Info("Catalog engine listening on %s (started in %v)", cfg.ListenAddr, time.Since(startTime))
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("Server error: %v", err)
	}
}

func handleShutdown(srv *http.Server, reg *registry.Registry, watcher *registry.Watcher) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logging.Info("Received %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if watcher != nil {
		watcher.Stop()
		logging.Info("Folder watcher stopped")
	}

	reg.WaitScans()
	logging.Info("Background scans drained")

	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		logging.Info("HTTP server stopped")
	}
}
