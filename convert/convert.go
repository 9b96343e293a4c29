package convert

import (
	"bytes"
	"context"
	"errors"
	"image"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/pagemill/pagemill/address"
	"github.com/pagemill/pagemill/config"
	"github.com/pagemill/pagemill/pdfrenderer"
	"github.com/pagemill/pagemill/store"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// Result is the outcome of converting one uploaded document. URL slices are
// page-ordinal aligned: ImageURLs[i] and PreviewURLs[i] belong to page i+1.
type Result struct {
	FileID      string    `json:"fileId"`
	ImageURLs   []string  `json:"imageUrls"`
	PreviewURLs []string  `json:"previewUrls"`
	PageCount   int       `json:"pageCount"`
	ComputedAt  time.Time `json:"computedAt"`
}

// ResultCache is the best-effort read-through layer in front of the
// orchestrator. A miss only costs redundant work, never correctness, so
// implementations swallow their own failures and report them as misses.
type ResultCache interface {
	Get(ctx context.Context, fileID string) (*Result, bool)
	Put(ctx context.Context, fileID string, result *Result)
}

// Converter runs the conversion pipeline: cache lookup, source fetch,
// rasterization, variant encoding, content-addressed deduplicating upload.
type Converter struct {
	Store    store.ObjectStore
	Renderer pdfrenderer.Renderer
	Cache    ResultCache

	MainSize    int
	PreviewSize int
	Quality     int
	Parallelism int
}

// New builds a Converter wired to the given collaborators.
func New(objectStore store.ObjectStore, renderer pdfrenderer.Renderer, cache ResultCache, serverConfig config.ServerConfig) *Converter {
	return &Converter{
		Store:       objectStore,
		Renderer:    renderer,
		Cache:       cache,
		MainSize:    serverConfig.MainImageSize,
		PreviewSize: serverConfig.PreviewImageSize,
		Quality:     serverConfig.JPEGQuality,
		Parallelism: 8,
	}
}

// Process converts the uploaded document identified by fileID into per-page
// images and returns their public URLs. Safe to call concurrently for the same
// fileID: storage writes are idempotent and content addressed, so the
// check-then-upload race between invocations is tolerated by design of the
// keys, not by locking.
func (c *Converter) Process(ctx context.Context, fileID string, sourceIP string) (*Result, error) {
	// Fast path: no store or rasterizer calls on a cache hit
	if cached, ok := c.Cache.Get(ctx, fileID); ok {
		Logger.Debug("Returning cached conversion result", "fileId", fileID)
		return cached, nil
	}

	source, err := c.Store.FetchSource(ctx, fileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, failed(KindNotFound, "no uploaded document for "+fileID, err)
		}
		return nil, failed(KindUpstreamStore, "unable to fetch source document", err)
	}

	pages, err := c.Renderer.Render(source)
	if err != nil {
		return nil, failed(KindConversionFailed, "rasterizer rejected document "+fileID, err)
	}
	Logger.Info("Rasterized document", "fileId", fileID, "pages", len(pages))

	// An empty document is a valid zero-page result, not an error
	result := &Result{
		FileID:      fileID,
		ImageURLs:   make([]string, len(pages)),
		PreviewURLs: make([]string, len(pages)),
		PageCount:   len(pages),
		ComputedAt:  time.Now().UTC(),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.parallelism())
	for pageIndex, page := range pages {
		group.Go(func() error {
			mainURL, err := c.storeVariant(groupCtx, page, address.VariantMain, sourceIP)
			if err != nil {
				return err
			}
			previewURL, err := c.storeVariant(groupCtx, page, address.VariantPreview, sourceIP)
			if err != nil {
				return err
			}
			// Slots are index-addressed so parallel completion keeps page order
			result.ImageURLs[pageIndex] = mainURL
			result.PreviewURLs[pageIndex] = previewURL
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		// Nothing partial is ever cached or returned
		return nil, err
	}

	c.Cache.Put(ctx, fileID, result)
	return result, nil
}

// storeVariant encodes one variant of a page image and stores it under its
// content address, skipping the upload when the object already exists.
func (c *Converter) storeVariant(ctx context.Context, page image.Image, variant address.Variant, sourceIP string) (string, error) {
	encoded, err := c.encodeVariant(page, variant)
	if err != nil {
		return "", failed(KindConversionFailed, "unable to encode "+string(variant)+" image", err)
	}

	digest := address.Digest(encoded)
	key := address.Key(digest, variant)

	exists, err := c.Store.Exists(ctx, key)
	if err != nil {
		return "", failed(KindUpstreamStore, "unable to check for stored image", err)
	}
	if exists {
		Logger.Debug("Image already stored, skipping upload", "key", key)
	} else {
		if err := c.Store.Put(ctx, key, encoded, "image/jpeg"); err != nil {
			return "", failed(KindUpstreamStore, "unable to upload image", err)
		}
	}

	if sourceIP != "" {
		if err := c.Store.Tag(ctx, key, map[string]string{"source_ip": sourceIP}); err != nil {
			// Tagging is strictly best effort
			Logger.Warn("Unable to tag stored image", "key", key, "error", err)
		}
	}

	return c.Store.PublicURL(key), nil
}

// encodeVariant scales a page to the variant's bounding box and encodes it as
// JPEG. Identical page content always yields identical bytes, which is what
// makes the content addressing deduplicate across uploads.
func (c *Converter) encodeVariant(page image.Image, variant address.Variant) ([]byte, error) {
	size := c.MainSize
	if variant == address.VariantPreview {
		size = c.PreviewSize
	}
	scaled := imaging.Fit(page, size, size, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, scaled, imaging.JPEG, imaging.JPEGQuality(c.Quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Converter) parallelism() int {
	if c.Parallelism > 0 {
		return c.Parallelism
	}
	return 1
}
