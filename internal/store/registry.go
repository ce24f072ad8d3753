package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"media-catalog/internal/catalog"
)

// Registry returns the persisted root folders in registration order. Access
// state is a runtime property and is left unset; the registry assigns it
// after verification.
func (s *Store) Registry(ctx context.Context) (folders []catalog.RootFolder, err error) {
	start := time.Now()
	defer func() { observe("get_registry", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, access_token
		FROM folders
		ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query folders: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	folders = make([]catalog.RootFolder, 0)
	for rows.Next() {
		var f catalog.RootFolder
		if err = rows.Scan(&f.ID, &f.DisplayName, &f.AccessToken); err != nil {
			return nil, fmt.Errorf("failed to scan folder row: %w", err)
		}
		folders = append(folders, f)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("folder row iteration failed: %w", err)
	}

	return folders, nil
}

// SetRegistry atomically replaces the persisted folder registry.
func (s *Store) SetRegistry(ctx context.Context, folders []catalog.RootFolder) (err error) {
	start := time.Now()
	defer func() { observe("set_registry", start, err) }()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM folders"); err != nil {
			return fmt.Errorf("failed to clear folders: %w", err)
		}
		for i, f := range folders {
			if _, err := tx.Exec(`
				INSERT INTO folders (id, display_name, access_token, position)
				VALUES (?, ?, ?, ?)
			`, f.ID, f.DisplayName, f.AccessToken, i); err != nil {
				return fmt.Errorf("failed to insert folder %s: %w", f.ID, err)
			}
		}
		return nil
	})
}
