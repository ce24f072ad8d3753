package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"media-catalog/internal/logging"
	"media-catalog/internal/metrics"
)

// defaultTimeout bounds every store operation.
const defaultTimeout = 5 * time.Second

// ErrNotFound is returned when a requested record or blob does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistent metadata store for the catalog: the root folder
// registry, per-folder asset record sets, and thumbnail blobs. Only plain
// serializable data crosses this boundary; live filesystem handles are
// never stored.
type Store struct {
	db     *sql.DB
	dbPath string
}

// New opens (or creates) the store at dbPath and migrates the schema to the
// current version. The parent directory must already exist.
func New(ctx context.Context, dbPath string) (*Store, error) {
	logging.Info("Opening metadata store: %s", dbPath)

	// busy_timeout prevents "database is locked" errors when a scan commit
	// races a snapshot read.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close store after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: dbPath}

	if err := s.migrate(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close store after migration failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to migrate store schema: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// observe records metrics for one store operation.
func observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.StoreQueriesTotal.WithLabelValues(operation, status).Inc()
	metrics.StoreQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Error("rollback failed: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// timeToNanos converts a time to its persisted form; the zero time persists
// as 0 (unknown).
func timeToNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// nanosToTime is the inverse of timeToNanos.
func nanosToTime(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// thumbCacheKey derives the cache key for a thumbnail. A changed
// modification time produces a new key, so stale entries become unreachable
// without active deletion.
func thumbCacheKey(assetKey string, modifiedAt time.Time) string {
	return assetKey + "@" + strconv.FormatInt(timeToNanos(modifiedAt), 10)
}
