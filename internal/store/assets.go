package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"media-catalog/internal/catalog"
	"media-catalog/internal/mediatypes"
)

// Assets returns the persisted asset record set for one folder.
func (s *Store) Assets(ctx context.Context, folderID string) (records []catalog.AssetRecord, err error) {
	start := time.Now()
	defer func() { observe("get_assets", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, folder_id, name, relative_path, kind, size_bytes, mod_time_ns,
		       upload_status, upload_note, upload_at_ns
		FROM assets
		WHERE folder_id = ?
		ORDER BY relative_path
	`, folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets for %s: %w", folderID, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	records = make([]catalog.AssetRecord, 0)
	for rows.Next() {
		var (
			r          catalog.AssetRecord
			kind       string
			status     string
			modNs      int64
			uploadAtNs int64
		)
		if err = rows.Scan(&r.Key, &r.FolderID, &r.Name, &r.RelativePath, &kind,
			&r.SizeBytes, &modNs, &status, &r.Overlay.UploadNote, &uploadAtNs); err != nil {
			return nil, fmt.Errorf("failed to scan asset row: %w", err)
		}
		r.Kind = mediatypes.Kind(kind)
		r.ModifiedAt = nanosToTime(modNs)
		r.Overlay.UploadStatus = catalog.UploadStatus(status)
		r.Overlay.UploadAt = nanosToTime(uploadAtNs)
		records = append(records, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("asset row iteration failed: %w", err)
	}

	return records, nil
}

// SetAssets atomically replaces the asset record set for one folder. Readers
// see either the pre-scan or post-scan snapshot, never a partial one.
func (s *Store) SetAssets(ctx context.Context, folderID string, records []catalog.AssetRecord) (err error) {
	start := time.Now()
	defer func() { observe("set_assets", start, err) }()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM assets WHERE folder_id = ?", folderID); err != nil {
			return fmt.Errorf("failed to clear assets for %s: %w", folderID, err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO assets (key, folder_id, name, relative_path, kind, size_bytes,
			                    mod_time_ns, upload_status, upload_note, upload_at_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare asset insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, r := range records {
			if _, err := stmt.Exec(r.Key, folderID, r.Name, r.RelativePath,
				string(r.Kind), r.SizeBytes, timeToNanos(r.ModifiedAt),
				string(r.Overlay.UploadStatus), r.Overlay.UploadNote,
				timeToNanos(r.Overlay.UploadAt)); err != nil {
				return fmt.Errorf("failed to insert asset %s: %w", r.Key, err)
			}
		}
		return nil
	})
}

// DeleteAssets removes a folder's asset records and thumbnail blobs. Used
// when a root folder is removed from the registry.
func (s *Store) DeleteAssets(ctx context.Context, folderID string) (err error) {
	start := time.Now()
	defer func() { observe("delete_assets", start, err) }()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM assets WHERE folder_id = ?", folderID); err != nil {
			return fmt.Errorf("failed to delete assets for %s: %w", folderID, err)
		}
		if _, err := tx.Exec("DELETE FROM thumbnails WHERE folder_id = ?", folderID); err != nil {
			return fmt.Errorf("failed to delete thumbnails for %s: %w", folderID, err)
		}
		return nil
	})
}

// CountAssets returns the number of asset records for one folder.
func (s *Store) CountAssets(ctx context.Context, folderID string) (count int, err error) {
	start := time.Now()
	defer func() { observe("count_assets", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM assets WHERE folder_id = ?", folderID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count assets for %s: %w", folderID, err)
	}
	return count, nil
}
