package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Thumbnail returns the cached thumbnail blob for an asset at a specific
// modification time, or ErrNotFound. A changed modification time is a
// different cache key, so a stale blob can never be returned for fresh
// content.
func (s *Store) Thumbnail(ctx context.Context, assetKey string, modifiedAt time.Time) (data []byte, err error) {
	start := time.Now()
	defer func() { observe("get_thumbnail", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = s.db.QueryRowContext(ctx,
		"SELECT data FROM thumbnails WHERE cache_key = ?",
		thumbCacheKey(assetKey, modifiedAt)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query thumbnail %s: %w", assetKey, err)
	}
	return data, nil
}

// SetThumbnail stores a thumbnail blob under (assetKey, modifiedAt). The
// folder id is recorded so folder removal can cascade to thumbnails.
func (s *Store) SetThumbnail(ctx context.Context, assetKey string, modifiedAt time.Time, folderID string, data []byte) (err error) {
	start := time.Now()
	defer func() { observe("set_thumbnail", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO thumbnails (cache_key, folder_id, data, created_at_ns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET data = excluded.data
	`, thumbCacheKey(assetKey, modifiedAt), folderID, data, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to store thumbnail %s: %w", assetKey, err)
	}
	return nil
}
