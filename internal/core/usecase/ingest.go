package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/pagecut/internal/core/domain"
	"github.com/kirillkom/pagecut/internal/core/ports"
)

type IngestDocumentUseCase struct {
	repo     ports.DocumentRepository
	storage  ports.BlobStore
	raster   ports.Rasterizer
	queue    ports.MessageQueue
	sessions *SessionRegistry
	logger   *slog.Logger
}

// NewIngestDocumentUseCase wires upload orchestration. sessions may be nil in processes that
// only accept uploads.
func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.BlobStore,
	raster ports.Rasterizer,
	queue ports.MessageQueue,
	sessions *SessionRegistry,
	logger *slog.Logger,
) *IngestDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestDocumentUseCase{
		repo:     repo,
		storage:  storage,
		raster:   raster,
		queue:    queue,
		sessions: sessions,
		logger:   logger,
	}
}

// Upload stores the document, asks the rasterizer for its page count, persists it and
// announces it to workers.
func (uc *IngestDocumentUseCase) Upload(
	ctx context.Context,
	filename, mimeType string,
	body io.Reader,
) (*domain.Document, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", errors.New("filename is required"))
	}
	id := uuid.NewString()
	storageKey := fmt.Sprintf("documents/%s_%s", id, sanitizeFilename(filename))
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	doc := &domain.Document{
		ID:          id,
		Filename:    filename,
		MimeType:    mimeType,
		StoragePath: storageKey,
		Status:      domain.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	pages, err := uc.raster.Inspect(ctx, doc)
	if err != nil {
		uc.discardUpload(ctx, storageKey)
		if errors.Is(err, domain.ErrRenderFailed) {
			return nil, err
		}
		return nil, domain.NewRenderError(id, 0, err)
	}
	if pages < 1 {
		uc.discardUpload(ctx, storageKey)
		return nil, domain.NewRenderError(id, 0, errors.New("document has no pages"))
	}
	doc.TotalPages = pages

	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}

	// The document is already stored; without the event only worker pre-rendering is lost,
	// pages still render on demand.
	if err := uc.queue.PublishDocumentUploaded(ctx, doc.ID); err != nil {
		uc.logger.Warn("upload_event_publish_failed", "document_id", doc.ID, "error", err)
	}

	if uc.sessions != nil {
		uc.sessions.Open(doc)
	}
	uc.logger.Info("document_uploaded", "document_id", doc.ID, "filename", filename, "pages", pages)
	return doc, nil
}

func (uc *IngestDocumentUseCase) discardUpload(ctx context.Context, key string) {
	if err := uc.storage.Delete(ctx, key); err != nil {
		uc.logger.Warn("upload_cleanup_failed", "key", key, "error", err)
	}
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.pdf"
	}
	return base
}
