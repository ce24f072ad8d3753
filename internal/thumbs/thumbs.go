package thumbs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"strconv"
	"sync"

	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"

	"media-catalog/internal/accessfs"
	"media-catalog/internal/catalog"
	"media-catalog/internal/logging"
	"media-catalog/internal/mediatypes"
	"media-catalog/internal/metrics"
	"media-catalog/internal/store"
	"media-catalog/internal/workers"
)

const (
	// MaxDimension bounds the longer side of a generated thumbnail.
	MaxDimension = 400

	jpegQuality  = 80
	hotCacheSize = 256
)

// Thumbnail is a generated preview. A zero Thumbnail is the "no thumbnail"
// sentinel returned for undecodable sources.
type Thumbnail struct {
	Data     []byte
	MimeType string
}

// None reports whether no thumbnail could be produced.
func (t Thumbnail) None() bool {
	return len(t.Data) == 0
}

// Service derives size-bounded preview blobs for catalog assets. Generated
// previews persist in the metadata store keyed by (assetKey, modifiedAt);
// a changed modification time produces a new key, so stale entries become
// unreachable rather than actively deleted. A small in-memory LRU fronts
// the store for repeat requests.
type Service struct {
	blobs *store.Store
	cap   accessfs.Capability
	hot   *lru.Cache[string, Thumbnail]
	group singleflight.Group
}

// New creates a thumbnail service over the given store and capability.
func New(blobs *store.Store, cap accessfs.Capability) *Service {
	hot, err := lru.New[string, Thumbnail](hotCacheSize)
	if err != nil {
		// Only fails for a non-positive size.
		panic(err)
	}
	return &Service{blobs: blobs, cap: cap, hot: hot}
}

// GetOrCreate returns the preview for an asset, generating and caching it
// on first request. Video assets return the original bytes as a placeholder
// (frame extraction is a deferred feature). A source that fails to decode
// yields the zero Thumbnail sentinel, not an error.
func (s *Service) GetOrCreate(ctx context.Context, asset catalog.AssetRecord, root accessfs.RootHandle) (Thumbnail, error) {
	hotKey := hotKeyFor(asset)

	if thumb, ok := s.hot.Get(hotKey); ok {
		metrics.ThumbnailCacheHits.WithLabelValues("memory").Inc()
		return thumb, nil
	}

	if data, err := s.blobs.Thumbnail(ctx, asset.Key, asset.ModifiedAt); err == nil {
		metrics.ThumbnailCacheHits.WithLabelValues("store").Inc()
		thumb := Thumbnail{Data: data, MimeType: "image/jpeg"}
		s.hot.Add(hotKey, thumb)
		return thumb, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		logging.Warn("Thumbnail cache read failed for %s: %v", asset.Key, err)
	}

	metrics.ThumbnailCacheMisses.Inc()

	// Concurrent requests for the same asset share one generation; requests
	// for different assets proceed in parallel.
	v, err, _ := s.group.Do(hotKey, func() (interface{}, error) {
		if thumb, ok := s.hot.Get(hotKey); ok {
			return thumb, nil
		}

		source, err := s.readSource(asset, root)
		if err != nil {
			metrics.ThumbnailsGenerated.WithLabelValues("read_error").Inc()
			return Thumbnail{}, err
		}

		switch asset.Kind {
		case mediatypes.KindVideo:
			// Placeholder until frame extraction lands; not persisted because
			// the blob is the full source file.
			return Thumbnail{Data: source, MimeType: mediatypes.MimeType(asset.Name)}, nil
		case mediatypes.KindImage:
			return s.generateImage(ctx, asset, hotKey, source), nil
		default:
			return Thumbnail{}, fmt.Errorf("unsupported asset kind %s", asset.Kind)
		}
	})
	if err != nil {
		return Thumbnail{}, err
	}
	return v.(Thumbnail), nil
}

// hotKeyFor builds the in-memory cache key. A zero modification time maps
// to version 0, the same value the persistent tier stores for an unknown
// mtime, so the two cache tiers always agree on an asset's key.
func hotKeyFor(asset catalog.AssetRecord) string {
	var version int64
	if !asset.ModifiedAt.IsZero() {
		version = asset.ModifiedAt.UnixNano()
	}
	return asset.Key + "@" + strconv.FormatInt(version, 10)
}

// readSource resolves the asset's handle lazily and reads its bytes. Handles
// are never cached between sessions; resolution happens at the moment of use.
func (s *Service) readSource(asset catalog.AssetRecord, root accessfs.RootHandle) ([]byte, error) {
	handle, err := s.cap.Resolve(root, asset.RelativePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", asset.Key, err)
	}
	data, _, err := s.cap.ReadFile(handle)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", asset.Key, err)
	}
	return data, nil
}

// generateImage decodes, bounds and re-encodes an image source. Decode
// failures return the sentinel rather than an error.
func (s *Service) generateImage(ctx context.Context, asset catalog.AssetRecord, hotKey string, source []byte) Thumbnail {
	img, err := imaging.Decode(bytes.NewReader(source), imaging.AutoOrientation(true))
	if err != nil {
		logging.Debug("Thumbnail decode failed for %s: %v", asset.Key, err)
		metrics.ThumbnailsGenerated.WithLabelValues("decode_error").Inc()
		return Thumbnail{}
	}

	resized := imaging.Fit(img, MaxDimension, MaxDimension, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: jpegQuality}); err != nil {
		logging.Debug("Thumbnail encode failed for %s: %v", asset.Key, err)
		metrics.ThumbnailsGenerated.WithLabelValues("decode_error").Inc()
		return Thumbnail{}
	}

	thumb := Thumbnail{Data: buf.Bytes(), MimeType: "image/jpeg"}
	s.hot.Add(hotKey, thumb)

	if err := s.blobs.SetThumbnail(ctx, asset.Key, asset.ModifiedAt, asset.FolderID, thumb.Data); err != nil {
		logging.Warn("Failed to cache thumbnail for %s: %v", asset.Key, err)
	}

	metrics.ThumbnailsGenerated.WithLabelValues("ok").Inc()
	return thumb
}

// WarmFolder pre-generates thumbnails for a folder's image assets on a
// worker pool. Failures are logged and skipped.
func (s *Service) WarmFolder(ctx context.Context, assets []catalog.AssetRecord, root accessfs.RootHandle) {
	images := make([]catalog.AssetRecord, 0, len(assets))
	for _, a := range assets {
		if a.Kind == mediatypes.KindImage {
			images = append(images, a)
		}
	}
	if len(images) == 0 {
		return
	}

	numWorkers := workers.ForCPU(8)
	logging.Debug("Warming %d thumbnails with %d workers", len(images), numWorkers)

	jobs := make(chan catalog.AssetRecord)
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for asset := range jobs {
				if _, err := s.GetOrCreate(ctx, asset, root); err != nil {
					logging.Debug("Thumbnail warm failed for %s: %v", asset.Key, err)
				}
			}
		}()
	}
	for _, asset := range images {
		jobs <- asset
	}
	close(jobs)
	wg.Wait()
}
