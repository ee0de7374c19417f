package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/kirillkom/pagecut/internal/core/domain"
	"github.com/kirillkom/pagecut/internal/core/ports"
)

// RegistryConfig holds the collaborators every document session is built from.
type RegistryConfig struct {
	Documents  ports.DocumentRepository
	Images     *PageImageCache
	Blobs      ports.BlobStore
	Points     ports.PointSegmenter
	Everything ports.EverythingSegmenter
	Categories ports.CategoryMasker
	Objects    ports.AutomaticMasker
	MaskCache  ports.MaskCache
	Results    ports.PageResultStore
	PageLogs   ports.PageLogRepository
	Cutouts    ports.CutoutRepository
	Cropper    ports.ImageCropper
	Export     *ExportUseCase
	Scheduler  SchedulerOptions
	GridSize   int
	// CollectResults prepends every "segment everything" sub-image to the workspace.
	CollectResults bool
	// SweepOnOpen starts processing from page 1 as soon as an upload opens its session.
	SweepOnOpen bool
	Model          string
	Logger         *slog.Logger
	Observer       PipelineObserver
}

// SessionRegistry owns one DocumentSession per open document.
type SessionRegistry struct {
	ctx    context.Context
	cfg    RegistryConfig
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*DocumentSession
}

// NewSessionRegistry builds a registry whose background sweeps live as long as ctx.
func NewSessionRegistry(ctx context.Context, cfg RegistryConfig) *SessionRegistry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Observer = observerOrNop(cfg.Observer)
	cfg.Scheduler.Logger = cfg.Logger
	cfg.Scheduler.Observer = cfg.Observer
	return &SessionRegistry{
		ctx:      ctx,
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[string]*DocumentSession),
	}
}

// Open creates the session of a freshly uploaded document, replacing any previous one.
func (r *SessionRegistry) Open(doc *domain.Document) *DocumentSession {
	ds := newDocumentSession(r.ctx, doc, r.cfg)
	r.mu.Lock()
	prev := r.sessions[doc.ID]
	r.sessions[doc.ID] = ds
	r.mu.Unlock()
	if prev != nil {
		prev.close(false)
	}
	if r.cfg.SweepOnOpen {
		ds.StartSweep()
	}
	return ds
}

// Get returns the session of a document, reopening it from the repository after a restart.
func (r *SessionRegistry) Get(ctx context.Context, documentID string) (*DocumentSession, error) {
	r.mu.Lock()
	ds, ok := r.sessions[documentID]
	r.mu.Unlock()
	if ok {
		return ds, nil
	}

	doc, err := r.cfg.Documents.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.TotalPages < 1 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open document session", errors.New("document has no pages"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ds, ok := r.sessions[documentID]; ok {
		return ds, nil
	}
	ds = newDocumentSession(r.ctx, doc, r.cfg)
	r.sessions[documentID] = ds
	return ds, nil
}

// Close stops the document's sweeps and discards its cached pages.
func (r *SessionRegistry) Close(documentID string) {
	r.mu.Lock()
	ds := r.sessions[documentID]
	delete(r.sessions, documentID)
	r.mu.Unlock()
	if ds != nil {
		ds.close(true)
	}
}

func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*DocumentSession)
	r.mu.Unlock()
	for _, ds := range all {
		ds.close(false)
	}
}

// DocumentSession ties together the per-page sessions, the sweep and the workspace of one document.
type DocumentSession struct {
	doc       *domain.Document
	cfg       RegistryConfig
	ctx       context.Context
	cancel    context.CancelFunc
	locks     *PageLockTable
	pipeline  *PagePipeline
	scheduler *BatchScheduler
	workspace *CutoutWorkspace

	mu    sync.Mutex
	pages map[int]*SegmentationSession
}

func newDocumentSession(parent context.Context, doc *domain.Document, cfg RegistryConfig) *DocumentSession {
	ctx, cancel := context.WithCancel(parent)
	ds := &DocumentSession{
		doc:    doc,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		locks:  NewPageLockTable(),
		pages:  make(map[int]*SegmentationSession),
	}
	ds.workspace = NewCutoutWorkspace(doc.ID, cfg.Blobs, cfg.Cutouts, cfg.Logger)

	var onStored func(domain.PageResult)
	if cfg.CollectResults {
		onStored = ds.workspace.AddPageResult
	}
	ds.pipeline = NewPagePipeline(doc, PagePipelineConfig{
		Images:    cfg.Images,
		Segmenter: cfg.Everything,
		Blobs:     cfg.Blobs,
		Results:   cfg.Results,
		Locks:     ds.locks,
		Logs:      cfg.PageLogs,
		Model:     cfg.Model,
		OnStored:  onStored,
		Logger:    cfg.Logger,
		Observer:  cfg.Observer,
	})

	opts := cfg.Scheduler
	opts.OnFirstProcessed = ds.refreshViewedPage
	ds.scheduler = NewBatchScheduler(ds.pipeline, doc.TotalPages, opts)
	return ds
}

func (d *DocumentSession) Document() *domain.Document {
	copyDoc := *d.doc
	return &copyDoc
}

func (d *DocumentSession) Workspace() *CutoutWorkspace { return d.workspace }

func (d *DocumentSession) Cursor() SchedulerCursor { return d.scheduler.Cursor() }

// PageImage returns the rendered page through the cache.
func (d *DocumentSession) PageImage(ctx context.Context, page int) (domain.PageImage, error) {
	return d.cfg.Images.Get(ctx, d.doc, page)
}

// RawPage opens the PNG bytes of a rendered page.
func (d *DocumentSession) RawPage(ctx context.Context, page int) (io.ReadCloser, error) {
	img, err := d.PageImage(ctx, page)
	if err != nil {
		return nil, err
	}
	rc, err := d.cfg.Blobs.Open(ctx, img.Path)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStaleReference, "open page image", err)
	}
	return rc, nil
}

// View records the page the user is looking at.
func (d *DocumentSession) View(page int) error {
	if err := d.checkPage("view page", page); err != nil {
		return err
	}
	d.scheduler.SetViewedPage(page)
	return nil
}

// Jump shows page immediately and restarts background processing from it.
func (d *DocumentSession) Jump(ctx context.Context, page int) (domain.PageImage, uint64, error) {
	if err := d.checkPage("jump to page", page); err != nil {
		return domain.PageImage{}, 0, err
	}
	img, err := d.PageImage(ctx, page)
	gen := d.scheduler.Jump(d.ctx, page)
	if err != nil {
		return domain.PageImage{}, gen, err
	}
	return img, gen, nil
}

// StartSweep begins background processing from the viewed page.
func (d *DocumentSession) StartSweep() uint64 {
	return d.scheduler.Start(d.ctx, d.scheduler.ViewedPage())
}

func (d *DocumentSession) Result(ctx context.Context, page int) (*domain.PageResult, bool, error) {
	if err := d.checkPage("get page result", page); err != nil {
		return nil, false, err
	}
	return d.cfg.Results.GetResult(ctx, domain.PageKey{DocumentID: d.doc.ID, Page: page})
}

func (d *DocumentSession) Reprocess(ctx context.Context, page int) (*domain.PageResult, error) {
	if err := d.checkPage("reprocess page", page); err != nil {
		return nil, err
	}
	return d.pipeline.Reprocess(ctx, page)
}

// Session returns the interactive session of a page, creating it on first use.
func (d *DocumentSession) Session(page int) (*SegmentationSession, error) {
	if err := d.checkPage("open page session", page); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.pages[page]; ok {
		return s, nil
	}
	s := NewSegmentationSession(d.doc, page, SessionDeps{
		Images:    d.cfg.Images,
		Segmenter: d.cfg.Points,
		Masker:    d.cfg.Categories,
		Objects:   d.cfg.Objects,
		Cache:     d.cfg.MaskCache,
		Cropper:   d.cfg.Cropper,
		Blobs:     d.cfg.Blobs,
		Locks:     d.locks,
		Workspace: d.workspace,
		GridSize:  d.cfg.GridSize,
		Logger:    d.cfg.Logger,
		Observer:  d.cfg.Observer,
	})
	d.pages[page] = s
	return s, nil
}

// Export writes the current workspace through the export use case.
func (d *DocumentSession) Export(ctx context.Context) (domain.ExportReport, error) {
	if d.cfg.Export == nil {
		return domain.ExportReport{}, domain.WrapError(domain.ErrInvalidInput, "export cutouts", errors.New("export is not configured"))
	}
	return d.cfg.Export.Export(ctx, d.workspace.List())
}

func (d *DocumentSession) refreshViewedPage(_ context.Context, page int) {
	if _, err := d.cfg.Images.Get(d.ctx, d.doc, page); err != nil {
		d.cfg.Logger.Warn("viewed_page_refresh_failed", "document_id", d.doc.ID, "page", page, "error", err)
	}
}

func (d *DocumentSession) checkPage(operation string, page int) error {
	if page < 1 || page > d.doc.TotalPages {
		return domain.WrapError(domain.ErrInvalidInput, operation, fmt.Errorf("page %d out of range 1..%d", page, d.doc.TotalPages))
	}
	return nil
}

func (d *DocumentSession) close(discardPages bool) {
	d.scheduler.Stop()
	d.cancel()
	if discardPages {
		d.cfg.Images.Discard(context.WithoutCancel(d.ctx), d.doc.ID)
	}
}
