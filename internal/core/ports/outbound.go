package ports

import (
	"context"
	"io"

	"github.com/kirillkom/pagecut/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
}

// PageLogRepository records every "segment everything" attempt.
type PageLogRepository interface {
	LogPageProcessing(ctx context.Context, entry domain.PageLogEntry) error
	ListPageLogs(ctx context.Context, documentID string, limit int) ([]domain.PageLogEntry, error)
}

// CutoutRepository persists the ordered workspace of a document.
type CutoutRepository interface {
	ReplaceCutouts(ctx context.Context, documentID string, cutouts []domain.Cutout) error
	ListCutouts(ctx context.Context, documentID string) ([]domain.Cutout, error)
}

// BlobStore stores source documents, page renders, cutouts and exports.
type BlobStore interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Upload(ctx context.Context, key string, data []byte) (domain.StoredObject, error)
}

// MessageQueue publishes/consumes upload events.
type MessageQueue interface {
	PublishDocumentUploaded(ctx context.Context, documentID string) error
	SubscribeDocumentUploaded(ctx context.Context, handler func(context.Context, string) error) error
}

// Rasterizer counts and renders document pages. Render returns PNG bytes for a 1-based page.
type Rasterizer interface {
	Inspect(ctx context.Context, doc *domain.Document) (int, error)
	Render(ctx context.Context, doc *domain.Document, page int) ([]byte, error)
}

// PointSegmenter runs point-prompt segmentation over a page image.
type PointSegmenter interface {
	SegmentPoints(ctx context.Context, image domain.PageImage, clicks []domain.Click) (domain.EncodedMask, error)
}

// EverythingSegmenter extracts every detected region of a page as stored sub-images.
type EverythingSegmenter interface {
	SegmentEverything(ctx context.Context, image domain.PageImage) ([]domain.SubImage, error)
}

// CategoryMasker returns the multi-object category overlay of a page.
type CategoryMasker interface {
	SegmentCategories(ctx context.Context, image domain.PageImage) (domain.CategoryRuns, error)
}

// AutomaticMasker returns one mask per automatically detected object of a page.
type AutomaticMasker interface {
	SegmentObjects(ctx context.Context, image domain.PageImage) ([]domain.ObjectMask, error)
}

// PageImageIndex shares rendered page references between processes.
type PageImageIndex interface {
	GetPageImage(ctx context.Context, key domain.PageKey) (*domain.PageImage, bool, error)
	PutPageImage(ctx context.Context, image domain.PageImage) error
	DeleteDocument(ctx context.Context, documentID string) error
}

// MaskCache memoizes point-prompt masks by image and click signature.
type MaskCache interface {
	GetMask(ctx context.Context, key string) (*domain.EncodedMask, bool, error)
	PutMask(ctx context.Context, key string, mask domain.EncodedMask) error
}

// PageResultStore holds "segment everything" results, one per page.
type PageResultStore interface {
	GetResult(ctx context.Context, key domain.PageKey) (*domain.PageResult, bool, error)
	PutResult(ctx context.Context, result domain.PageResult) error
	DeleteResult(ctx context.Context, key domain.PageKey) error
}

// ImageCropper cuts the masked region out of a page image and returns it as PNG.
type ImageCropper interface {
	CropMasked(page io.Reader, mask *domain.Mask) ([]byte, error)
}

// ManifestWriter renders the export manifest workbook.
type ManifestWriter interface {
	WriteManifest(exportID string, entries []domain.ExportEntry) ([]byte, error)
}
