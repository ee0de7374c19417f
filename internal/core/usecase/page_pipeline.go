package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/kirillkom/pagecut/internal/core/domain"
	"github.com/kirillkom/pagecut/internal/core/ports"
)

type PageOutcome string

const (
	PageProcessed PageOutcome = "processed"
	PageCached    PageOutcome = "cached"
	PageContended PageOutcome = "contended"
	PageFailed    PageOutcome = "failed"
)

// PageProcessor runs "segment everything" for one page.
type PageProcessor interface {
	Process(ctx context.Context, page int) (PageOutcome, error)
}

// PagePipeline renders a page, segments everything on it and stores the result once.
// The result store check plus the lock table are the only deduplication guard.
type PagePipeline struct {
	doc       *domain.Document
	images    *PageImageCache
	segmenter ports.EverythingSegmenter
	blobs     ports.BlobStore
	results   ports.PageResultStore
	locks     *PageLockTable
	logs      ports.PageLogRepository
	model     string
	onStored  func(domain.PageResult)
	logger    *slog.Logger
	observer  PipelineObserver
}

type PagePipelineConfig struct {
	Images    *PageImageCache
	Segmenter ports.EverythingSegmenter
	Blobs     ports.BlobStore
	Results   ports.PageResultStore
	Locks     *PageLockTable
	Logs      ports.PageLogRepository
	Model     string
	OnStored  func(domain.PageResult)
	Logger    *slog.Logger
	Observer  PipelineObserver
}

func NewPagePipeline(doc *domain.Document, cfg PagePipelineConfig) *PagePipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Locks == nil {
		cfg.Locks = NewPageLockTable()
	}
	if cfg.Model == "" {
		cfg.Model = "everything"
	}
	return &PagePipeline{
		doc:       doc,
		images:    cfg.Images,
		segmenter: cfg.Segmenter,
		blobs:     cfg.Blobs,
		results:   cfg.Results,
		locks:     cfg.Locks,
		logs:      cfg.Logs,
		model:     cfg.Model,
		onStored:  cfg.OnStored,
		logger:    cfg.Logger,
		observer:  observerOrNop(cfg.Observer),
	}
}

func (p *PagePipeline) Process(ctx context.Context, page int) (PageOutcome, error) {
	key := domain.PageKey{DocumentID: p.doc.ID, Page: page}
	done, err := p.hasResult(ctx, key)
	if err != nil {
		return PageFailed, err
	}
	if done {
		return PageCached, nil
	}

	if !p.locks.TryLock(page) {
		p.observer.LockContended()
		p.logger.Debug("page_lock_contended", "document_id", p.doc.ID, "page", page)
		return PageContended, nil
	}
	defer p.locks.Unlock(page)

	// Another job may have finished between the first check and the lock.
	done, err = p.hasResult(ctx, key)
	if err != nil {
		return PageFailed, err
	}
	if done {
		return PageCached, nil
	}

	started := time.Now()
	result, err := p.segment(ctx, page)
	elapsed := time.Since(started)
	p.record(ctx, page, result, elapsed, err)
	if err != nil {
		p.observer.PageProcessed(string(PageFailed), elapsed)
		return PageFailed, err
	}
	p.observer.PageProcessed(string(PageProcessed), elapsed)
	if p.onStored != nil {
		p.onStored(result)
	}
	return PageProcessed, nil
}

// Reprocess drops the stored result of a page and runs it again.
func (p *PagePipeline) Reprocess(ctx context.Context, page int) (*domain.PageResult, error) {
	key := domain.PageKey{DocumentID: p.doc.ID, Page: page}
	if p.locks.Locked(page) {
		return nil, domain.WrapError(domain.ErrLockContention, "reprocess page", fmt.Errorf("page %d is being processed", page))
	}
	if err := p.results.DeleteResult(ctx, key); err != nil {
		return nil, fmt.Errorf("delete page result: %w", err)
	}
	outcome, err := p.Process(ctx, page)
	if err != nil {
		return nil, err
	}
	if outcome == PageContended {
		return nil, domain.WrapError(domain.ErrLockContention, "reprocess page", fmt.Errorf("page %d is being processed", page))
	}
	result, ok, err := p.results.GetResult(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load page result: %w", err)
	}
	if !ok {
		return nil, domain.WrapError(domain.ErrTemporary, "reprocess page", errors.New("result vanished after processing"))
	}
	return result, nil
}

func (p *PagePipeline) hasResult(ctx context.Context, key domain.PageKey) (bool, error) {
	_, ok, err := p.results.GetResult(ctx, key)
	if err != nil {
		return false, fmt.Errorf("lookup page result: %w", err)
	}
	return ok, nil
}

func (p *PagePipeline) segment(ctx context.Context, page int) (domain.PageResult, error) {
	img, err := p.images.Get(ctx, p.doc, page)
	if err != nil {
		return domain.PageResult{}, err
	}
	subs, err := p.segmenter.SegmentEverything(ctx, img)
	if err != nil {
		return domain.PageResult{}, domain.WrapError(domain.ErrInferenceFailed, "segment everything", err)
	}

	stored := make([]domain.SubImage, 0, len(subs))
	for _, sub := range subs {
		if len(sub.Data) == 0 {
			stored = append(stored, sub)
			continue
		}
		obj, err := p.blobs.Upload(ctx, subImageKey(p.doc.ID, page, sub.Name), sub.Data)
		if err != nil {
			return domain.PageResult{}, fmt.Errorf("upload sub image %s: %w", sub.Name, err)
		}
		stored = append(stored, domain.SubImage{Name: sub.Name, Path: obj.Path, Src: obj.Src})
	}

	result := domain.PageResult{
		DocumentID: p.doc.ID,
		Page:       page,
		Images:     stored,
		CreatedAt:  time.Now().UTC(),
	}
	if err := p.results.PutResult(ctx, result); err != nil {
		return domain.PageResult{}, fmt.Errorf("store page result: %w", err)
	}
	return result, nil
}

func (p *PagePipeline) record(ctx context.Context, page int, result domain.PageResult, elapsed time.Duration, procErr error) {
	entry := domain.PageLogEntry{
		DocumentID: p.doc.ID,
		Page:       page,
		Model:      p.model,
		Status:     string(PageProcessed),
		Images:     len(result.Images),
		Duration:   elapsed,
		CreatedAt:  time.Now().UTC(),
	}
	if procErr != nil {
		entry.Status = string(PageFailed)
		entry.Error = procErr.Error()
	}
	p.logger.Info("page_processed",
		"document_id", p.doc.ID,
		"page", page,
		"status", entry.Status,
		"images", entry.Images,
		"duration_ms", elapsed.Milliseconds(),
	)
	if p.logs == nil {
		return
	}
	if err := p.logs.LogPageProcessing(ctx, entry); err != nil {
		p.logger.Warn("page_log_write_failed", "document_id", p.doc.ID, "page", page, "error", err)
	}
}

func subImageKey(documentID string, page int, name string) string {
	return fmt.Sprintf("results/%s/%d/%s", documentID, page, path.Base(sanitizeFilename(name)))
}
