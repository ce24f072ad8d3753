package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"media-catalog/internal/catalog"
	"media-catalog/internal/logging"
)

// migration is one schema upgrade step. Steps run in order inside a single
// transaction per step; the meta table records the version reached.
type migration struct {
	version int
	apply   func(tx *sql.Tx) error
}

var migrations = []migration{
	{version: 1, apply: migrateV1},
}

func migrateV1(tx *sql.Tx) error {
	schema := `
	CREATE TABLE IF NOT EXISTS folders (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		access_token TEXT NOT NULL,
		position INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assets (
		key TEXT PRIMARY KEY,
		folder_id TEXT NOT NULL,
		name TEXT NOT NULL,
		relative_path TEXT NOT NULL,
		kind TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		mod_time_ns INTEGER NOT NULL DEFAULT 0,
		upload_status TEXT NOT NULL DEFAULT '',
		upload_note TEXT NOT NULL DEFAULT '',
		upload_at_ns INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_assets_folder ON assets(folder_id);

	CREATE TABLE IF NOT EXISTS thumbnails (
		cache_key TEXT PRIMARY KEY,
		folder_id TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at_ns INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_thumbnails_folder ON thumbnails(folder_id);
	`
	if _, err := tx.Exec(schema); err != nil {
		return fmt.Errorf("failed to create v1 schema: %w", err)
	}
	return nil
}

// migrate brings the schema up to catalog.SchemaVersion.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}

	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	if current > catalog.SchemaVersion {
		return fmt.Errorf("store schema version %d is newer than supported version %d", current, catalog.SchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		logging.Info("Migrating store schema to version %d", m.version)
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			if err := m.apply(tx); err != nil {
				return err
			}
			_, err := tx.Exec(`
				INSERT INTO meta (key, value) VALUES ('schema_version', ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value
			`, strconv.Itoa(m.version))
			return err
		})
		if err != nil {
			return fmt.Errorf("migration to version %d failed: %w", m.version, err)
		}
	}

	return nil
}

// schemaVersion reads the current schema version, 0 for a fresh store.
func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'schema_version'").Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	version, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid schema version %q: %w", value, err)
	}
	return version, nil
}
