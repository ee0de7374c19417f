package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/pagecut/internal/core/domain"
	"github.com/kirillkom/pagecut/internal/core/ports"
)

// renderTimeout bounds one shared upstream render.
const renderTimeout = 2 * time.Minute

// PageImageCache memoizes rendered pages by (document, page). Entries are never evicted
// individually; Discard drops a whole document.
type PageImageCache struct {
	raster   ports.Rasterizer
	blobs    ports.BlobStore
	index    ports.PageImageIndex
	logger   *slog.Logger
	observer PipelineObserver

	mu     sync.RWMutex
	images map[domain.PageKey]domain.PageImage
	group  singleflight.Group
}

// NewPageImageCache builds the cache. index may be nil when pages are not shared across processes.
func NewPageImageCache(
	raster ports.Rasterizer,
	blobs ports.BlobStore,
	index ports.PageImageIndex,
	logger *slog.Logger,
	observer PipelineObserver,
) *PageImageCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageImageCache{
		raster:   raster,
		blobs:    blobs,
		index:    index,
		logger:   logger,
		observer: observerOrNop(observer),
		images:   make(map[domain.PageKey]domain.PageImage),
	}
}

// Get returns the rendered page, rendering and uploading it on first use.
// Concurrent misses for the same page share one upstream render.
func (c *PageImageCache) Get(ctx context.Context, doc *domain.Document, page int) (domain.PageImage, error) {
	if doc == nil {
		return domain.PageImage{}, domain.WrapError(domain.ErrInvalidInput, "get page image", errors.New("document is required"))
	}
	if page < 1 || (doc.TotalPages > 0 && page > doc.TotalPages) {
		return domain.PageImage{}, domain.NewRenderError(doc.ID, page, fmt.Errorf("page out of range 1..%d", doc.TotalPages))
	}

	key := domain.PageKey{DocumentID: doc.ID, Page: page}
	if img, ok := c.Peek(key); ok {
		return img, nil
	}

	ch := c.group.DoChan(key.String(), func() (any, error) {
		// Shared by every waiter, so one caller giving up must not cancel it.
		renderCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), renderTimeout)
		defer cancel()

		if img, ok := c.Peek(key); ok {
			return img, nil
		}
		if img, ok := c.fromIndex(renderCtx, key); ok {
			c.store(img)
			return img, nil
		}
		img, err := c.render(renderCtx, doc, page)
		if err != nil {
			return domain.PageImage{}, err
		}
		c.store(img)
		c.publish(renderCtx, img)
		return img, nil
	})
	select {
	case <-ctx.Done():
		return domain.PageImage{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.PageImage{}, res.Err
		}
		return res.Val.(domain.PageImage), nil
	}
}

// Peek returns a cached page without touching any collaborator.
func (c *PageImageCache) Peek(key domain.PageKey) (domain.PageImage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	img, ok := c.images[key]
	return img, ok
}

// Discard forgets every page of a document, locally and in the shared index.
func (c *PageImageCache) Discard(ctx context.Context, documentID string) {
	c.mu.Lock()
	for key := range c.images {
		if key.DocumentID == documentID {
			delete(c.images, key)
		}
	}
	c.mu.Unlock()

	if c.index == nil {
		return
	}
	if err := c.index.DeleteDocument(ctx, documentID); err != nil {
		c.logger.Warn("page_index_discard_failed", "document_id", documentID, "error", err)
	}
}

func (c *PageImageCache) store(img domain.PageImage) {
	c.mu.Lock()
	c.images[img.Key()] = img
	c.mu.Unlock()
}

func (c *PageImageCache) render(ctx context.Context, doc *domain.Document, page int) (domain.PageImage, error) {
	raw, err := c.raster.Render(ctx, doc, page)
	if err != nil {
		if errors.Is(err, domain.ErrRenderFailed) {
			return domain.PageImage{}, err
		}
		return domain.PageImage{}, domain.NewRenderError(doc.ID, page, err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return domain.PageImage{}, domain.NewRenderError(doc.ID, page, fmt.Errorf("decode rendered page: %w", err))
	}

	obj, err := c.blobs.Upload(ctx, pageImageKey(doc.ID, page), raw)
	if err != nil {
		return domain.PageImage{}, fmt.Errorf("upload page image: %w", err)
	}
	c.observer.PageRendered()
	c.logger.Debug("page_rendered", "document_id", doc.ID, "page", page, "width", cfg.Width, "height", cfg.Height)

	return domain.PageImage{
		DocumentID: doc.ID,
		Page:       page,
		Path:       obj.Path,
		Src:        obj.Src,
		Width:      cfg.Width,
		Height:     cfg.Height,
	}, nil
}

// fromIndex reuses a page another process already rendered, as long as its blob still exists.
func (c *PageImageCache) fromIndex(ctx context.Context, key domain.PageKey) (domain.PageImage, bool) {
	if c.index == nil {
		return domain.PageImage{}, false
	}
	img, ok, err := c.index.GetPageImage(ctx, key)
	if err != nil {
		c.logger.Warn("page_index_lookup_failed", "page", key.String(), "error", err)
		return domain.PageImage{}, false
	}
	if !ok || img == nil {
		return domain.PageImage{}, false
	}
	exists, err := c.blobs.Exists(ctx, img.Path)
	if err != nil || !exists {
		c.logger.Info("page_index_entry_stale", "page", key.String(), "path", img.Path)
		return domain.PageImage{}, false
	}
	return *img, true
}

func (c *PageImageCache) publish(ctx context.Context, img domain.PageImage) {
	if c.index == nil {
		return
	}
	if err := c.index.PutPageImage(ctx, img); err != nil {
		c.logger.Warn("page_index_store_failed", "page", img.Key().String(), "error", err)
	}
}

func pageImageKey(documentID string, page int) string {
	return fmt.Sprintf("pages/%s/%d.png", documentID, page)
}
