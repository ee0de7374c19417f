package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/pagecut/internal/core/domain"
	"github.com/kirillkom/pagecut/internal/core/ports"
)

// PrerenderObserver is told how each leading page was made available: rendered, cached or failed.
type PrerenderObserver interface {
	PagePrerendered(outcome string, elapsed time.Duration)
}

// ProcessDocumentUseCase pre-renders the first pages of an uploaded document so the
// interactive process finds them in the shared page index.
type ProcessDocumentUseCase struct {
	repo        ports.DocumentRepository
	images      *PageImageCache
	pages       int
	concurrency int
	logger      *slog.Logger
	observer    PrerenderObserver
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	images *PageImageCache,
	prerenderPages int,
	concurrency int,
	logger *slog.Logger,
) *ProcessDocumentUseCase {
	if concurrency <= 0 {
		concurrency = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessDocumentUseCase{
		repo:        repo,
		images:      images,
		pages:       prerenderPages,
		concurrency: concurrency,
		logger:      logger,
	}
}

// WithObserver reports per-page pre-render outcomes to o.
func (uc *ProcessDocumentUseCase) WithObserver(o PrerenderObserver) *ProcessDocumentUseCase {
	uc.observer = o
	return uc
}

func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	if err := uc.markStatus(ctx, documentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	rendered, err := uc.prerender(ctx, documentID)
	if err != nil {
		if failErr := uc.markFailed(ctx, documentID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.markStatus(ctx, documentID, domain.StatusReady, ""); err != nil {
		return fmt.Errorf("set status=ready: %w", err)
	}
	uc.logger.Info("document_prerendered", "document_id", documentID, "pages", rendered)
	return nil
}

func (uc *ProcessDocumentUseCase) prerender(ctx context.Context, documentID string) (int, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("fetch document by id: %w", err)
	}

	n := min(uc.pages, doc.TotalPages)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.concurrency)
	for page := 1; page <= n; page++ {
		g.Go(func() error {
			return uc.prerenderPage(gctx, doc, page)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return max(n, 0), nil
}

func (uc *ProcessDocumentUseCase) prerenderPage(ctx context.Context, doc *domain.Document, page int) error {
	started := time.Now()
	outcome := "rendered"
	if _, ok := uc.images.Peek(domain.PageKey{DocumentID: doc.ID, Page: page}); ok {
		outcome = "cached"
	}
	_, err := uc.images.Get(ctx, doc, page)
	if err != nil {
		outcome = "failed"
	}
	if uc.observer != nil {
		uc.observer.PagePrerendered(outcome, time.Since(started))
	}
	if err != nil {
		return fmt.Errorf("prerender page %d: %w", page, err)
	}
	return nil
}

func (uc *ProcessDocumentUseCase) markStatus(ctx context.Context, documentID string, status domain.DocumentStatus, errMessage string) error {
	return uc.repo.UpdateStatus(ctx, documentID, status, errMessage)
}

func (uc *ProcessDocumentUseCase) markFailed(ctx context.Context, documentID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	return uc.markStatus(ctx, documentID, domain.StatusFailed, processErr.Error())
}
