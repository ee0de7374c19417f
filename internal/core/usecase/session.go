package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/pagecut/internal/core/domain"
	"github.com/kirillkom/pagecut/internal/core/maskcodec"
	"github.com/kirillkom/pagecut/internal/core/ports"
)

type SessionState string

const (
	SessionIdle         SessionState = "idle"
	SessionAwaitingMask SessionState = "awaiting_mask"
)

// MaskUpdate is the outcome of one recompute request. Applied is false when a newer request
// was issued before this one returned, or when the operation was a no-op.
type MaskUpdate struct {
	Seq     uint64         `json:"seq"`
	Applied bool           `json:"applied"`
	Clicks  []domain.Click `json:"clicks"`
	Mask    *domain.Mask   `json:"-"`
}

// SessionSnapshot is a consistent copy of one page's interactive state.
type SessionSnapshot struct {
	Page        int            `json:"page"`
	State       SessionState   `json:"state"`
	Clicks      []domain.Click `json:"clicks"`
	History     []domain.Click `json:"history"`
	OverlaySeq  uint64         `json:"overlay_seq"`
	Overlay     *domain.Mask   `json:"-"`
	BatchLocked bool           `json:"batch_locked"`
}

// SessionDeps are the collaborators shared by every page session of a document.
type SessionDeps struct {
	Images    *PageImageCache
	Segmenter ports.PointSegmenter
	Masker    ports.CategoryMasker
	Objects   ports.AutomaticMasker
	Cache     ports.MaskCache
	Cropper   ports.ImageCropper
	Blobs     ports.BlobStore
	Locks     *PageLockTable
	Workspace *CutoutWorkspace
	GridSize  int
	Logger    *slog.Logger
	Observer  PipelineObserver
}

// SegmentationSession holds the click history and mask overlay of one page.
// The mutex is never held across collaborator calls.
type SegmentationSession struct {
	doc  *domain.Document
	page int
	deps SessionDeps

	mu         sync.Mutex
	clicks     []domain.Click
	history    []domain.Click
	overlay    *domain.Mask
	overlaySeq uint64
	issued     uint64
	state      SessionState
}

func NewSegmentationSession(doc *domain.Document, page int, deps SessionDeps) *SegmentationSession {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Observer = observerOrNop(deps.Observer)
	if deps.GridSize <= 0 {
		deps.GridSize = DefaultClickGridSize
	}
	return &SegmentationSession{doc: doc, page: page, deps: deps, state: SessionIdle}
}

// AddClick appends a prompt point, clears redo history and recomputes the mask for the
// whole click sequence.
func (s *SegmentationSession) AddClick(ctx context.Context, click domain.Click) (MaskUpdate, error) {
	if click.Sign != domain.ClickPositive && click.Sign != domain.ClickNegative {
		return MaskUpdate{}, domain.WrapError(domain.ErrInvalidInput, "add click", fmt.Errorf("unknown click sign %d", click.Sign))
	}
	if click.X < 0 || click.Y < 0 {
		return MaskUpdate{}, domain.WrapError(domain.ErrInvalidInput, "add click", errors.New("click outside image"))
	}

	s.mu.Lock()
	s.clicks = append(s.clicks, click)
	s.history = nil
	seq, clicks := s.issueLocked()
	s.mu.Unlock()

	return s.recompute(ctx, seq, clicks)
}

// Undo moves the last click to the history stack. Undoing the last click clears the overlay
// without calling the segmenter.
func (s *SegmentationSession) Undo(ctx context.Context) (MaskUpdate, error) {
	s.mu.Lock()
	if len(s.clicks) == 0 {
		update := s.currentLocked()
		s.mu.Unlock()
		return update, nil
	}
	last := s.clicks[len(s.clicks)-1]
	s.clicks = s.clicks[:len(s.clicks)-1]
	s.history = append(s.history, last)
	if len(s.clicks) == 0 {
		s.clearOverlayLocked()
		update := s.currentLocked()
		update.Applied = true
		s.mu.Unlock()
		return update, nil
	}
	seq, clicks := s.issueLocked()
	s.mu.Unlock()

	return s.recompute(ctx, seq, clicks)
}

// Redo moves the most recently undone click back onto the click sequence.
func (s *SegmentationSession) Redo(ctx context.Context) (MaskUpdate, error) {
	s.mu.Lock()
	if len(s.history) == 0 {
		update := s.currentLocked()
		s.mu.Unlock()
		return update, nil
	}
	last := s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	s.clicks = append(s.clicks, last)
	seq, clicks := s.issueLocked()
	s.mu.Unlock()

	return s.recompute(ctx, seq, clicks)
}

// Reset clears clicks, history and overlay. In-flight recomputes are discarded when they return.
func (s *SegmentationSession) Reset() {
	s.mu.Lock()
	s.clicks = nil
	s.history = nil
	s.clearOverlayLocked()
	s.mu.Unlock()
}

// Cut crops the current selection out of the page image, stores it and prepends it to the
// workspace. The click sequence and overlay are cleared; history is kept.
func (s *SegmentationSession) Cut(ctx context.Context) (domain.Cutout, error) {
	s.mu.Lock()
	mask := s.overlay
	s.mu.Unlock()
	if mask.Empty() || mask.Area() == 0 {
		return domain.Cutout{}, domain.WrapError(domain.ErrInvalidInput, "cut", errors.New("no selection on page"))
	}

	img, err := s.deps.Images.Get(ctx, s.doc, s.page)
	if err != nil {
		return domain.Cutout{}, err
	}
	src, err := s.deps.Blobs.Open(ctx, img.Path)
	if err != nil {
		return domain.Cutout{}, domain.WrapError(domain.ErrStaleReference, "open page image", err)
	}
	png, err := s.deps.Cropper.CropMasked(src, mask)
	_ = src.Close()
	if err != nil {
		return domain.Cutout{}, fmt.Errorf("crop selection: %w", err)
	}

	id := uuid.NewString()
	obj, err := s.deps.Blobs.Upload(ctx, fmt.Sprintf("cutouts/%s/%s.png", s.doc.ID, id), png)
	if err != nil {
		return domain.Cutout{}, fmt.Errorf("upload cutout: %w", err)
	}
	cut := domain.Cutout{
		ID:        id,
		Name:      fmt.Sprintf("%d_cut", s.page),
		Path:      obj.Path,
		Src:       obj.Src,
		Page:      s.page,
		Ephemeral: true,
		CreatedAt: time.Now().UTC(),
	}
	if s.deps.Workspace != nil {
		s.deps.Workspace.Add(cut)
	}

	s.mu.Lock()
	s.clicks = nil
	s.clearOverlayLocked()
	s.mu.Unlock()

	s.deps.Logger.Info("cutout_created", "document_id", s.doc.ID, "page", s.page, "cutout_id", id)
	return cut, nil
}

// AutoOverlay fetches and decodes the "segment everything" category overlay of the page.
func (s *SegmentationSession) AutoOverlay(ctx context.Context) (domain.CategoryOverlay, error) {
	if s.deps.Masker == nil {
		return domain.CategoryOverlay{}, domain.WrapError(domain.ErrInvalidInput, "auto overlay", errors.New("category masker is not configured"))
	}
	img, err := s.deps.Images.Get(ctx, s.doc, s.page)
	if err != nil {
		return domain.CategoryOverlay{}, err
	}
	runs, err := s.deps.Masker.SegmentCategories(ctx, img)
	if err != nil {
		return domain.CategoryOverlay{}, domain.WrapError(domain.ErrInferenceFailed, "segment categories", err)
	}
	categories, err := maskcodec.DecodeCategoryRuns(maskcodec.Shape{Height: runs.Height, Width: runs.Width}, runs.Pairs)
	if err != nil {
		return domain.CategoryOverlay{}, err
	}

	palette := maskcodec.AssignPalette(categories)
	colors := make(map[uint8][4]uint8, len(palette.Colors))
	for v, c := range palette.Colors {
		colors[v] = [4]uint8{c.R, c.G, c.B, c.A}
	}
	return domain.CategoryOverlay{
		Width:      runs.Width,
		Height:     runs.Height,
		Categories: categories,
		Order:      palette.Order,
		Colors:     colors,
	}, nil
}

// DetectedObject is one decoded automatic mask.
type DetectedObject struct {
	Mask  *domain.Mask
	Point [2]float64
	Area  int
}

// Objects fetches the automatic object masks of the page, decoded and ordered by area,
// largest first.
func (s *SegmentationSession) Objects(ctx context.Context) ([]DetectedObject, error) {
	if s.deps.Objects == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "objects", errors.New("automatic masker is not configured"))
	}
	img, err := s.deps.Images.Get(ctx, s.doc, s.page)
	if err != nil {
		return nil, err
	}
	encoded, err := s.deps.Objects.SegmentObjects(ctx, img)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInferenceFailed, "segment objects", err)
	}

	objects := make([]DetectedObject, 0, len(encoded))
	for _, obj := range encoded {
		data, err := maskcodec.DecodeRLE(maskcodec.Shape{Height: obj.Mask.Height, Width: obj.Mask.Width}, obj.Mask.RLE)
		if err != nil {
			return nil, domain.WrapError(domain.ErrInferenceFailed, "decode object mask", err)
		}
		mask := &domain.Mask{Width: obj.Mask.Width, Height: obj.Mask.Height, Data: data}
		objects = append(objects, DetectedObject{Mask: mask, Point: obj.Point, Area: mask.Area()})
	}
	sort.SliceStable(objects, func(i, j int) bool { return objects[i].Area > objects[j].Area })
	return objects, nil
}

func (s *SegmentationSession) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := SessionSnapshot{
		Page:       s.page,
		State:      s.state,
		Clicks:     append([]domain.Click(nil), s.clicks...),
		History:    append([]domain.Click(nil), s.history...),
		OverlaySeq: s.overlaySeq,
		Overlay:    s.overlay,
	}
	if s.deps.Locks != nil {
		snap.BatchLocked = s.deps.Locks.Locked(s.page)
	}
	return snap
}

func (s *SegmentationSession) issueLocked() (uint64, []domain.Click) {
	s.issued++
	s.state = SessionAwaitingMask
	return s.issued, append([]domain.Click(nil), s.clicks...)
}

func (s *SegmentationSession) clearOverlayLocked() {
	s.issued++
	s.overlay = nil
	s.overlaySeq = s.issued
	s.state = SessionIdle
}

func (s *SegmentationSession) currentLocked() MaskUpdate {
	return MaskUpdate{
		Seq:    s.overlaySeq,
		Clicks: append([]domain.Click(nil), s.clicks...),
		Mask:   s.overlay,
	}
}

func (s *SegmentationSession) recompute(ctx context.Context, seq uint64, clicks []domain.Click) (MaskUpdate, error) {
	mask, err := s.segment(ctx, clicks)
	if err != nil {
		s.mu.Lock()
		if seq == s.issued {
			s.state = SessionIdle
		}
		s.mu.Unlock()
		s.deps.Logger.Warn("mask_recompute_failed", "document_id", s.doc.ID, "page", s.page, "seq", seq, "error", err)
		return MaskUpdate{Seq: seq, Clicks: clicks}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.issued {
		s.deps.Logger.Debug("mask_response_stale", "document_id", s.doc.ID, "page", s.page, "seq", seq, "latest", s.issued)
		return MaskUpdate{Seq: seq, Clicks: clicks}, nil
	}
	s.overlay = mask
	s.overlaySeq = seq
	s.state = SessionIdle
	return MaskUpdate{Seq: seq, Applied: true, Clicks: clicks, Mask: mask}, nil
}

func (s *SegmentationSession) segment(ctx context.Context, clicks []domain.Click) (*domain.Mask, error) {
	img, err := s.deps.Images.Get(ctx, s.doc, s.page)
	if err != nil {
		return nil, err
	}

	key := maskCacheKey(img.Path, clicks, s.deps.GridSize)
	encoded, hit := s.cachedMask(ctx, key)
	if !hit {
		fresh, err := s.deps.Segmenter.SegmentPoints(ctx, img, clicks)
		if err != nil {
			return nil, domain.WrapError(domain.ErrInferenceFailed, "segment points", err)
		}
		encoded = fresh
	}

	if img.Width > 0 && img.Height > 0 && (encoded.Width != img.Width || encoded.Height != img.Height) {
		mismatch := fmt.Errorf("mask %dx%d does not match page %dx%d", encoded.Width, encoded.Height, img.Width, img.Height)
		return nil, domain.WrapError(domain.ErrInferenceFailed, "decode mask", domain.WrapError(domain.ErrMalformedMask, "check mask shape", mismatch))
	}
	data, err := maskcodec.DecodeRLE(maskcodec.Shape{Height: encoded.Height, Width: encoded.Width}, encoded.RLE)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInferenceFailed, "decode mask", err)
	}

	if !hit && s.deps.Cache != nil {
		if err := s.deps.Cache.PutMask(ctx, key, encoded); err != nil {
			s.deps.Logger.Warn("mask_cache_store_failed", "key", key, "error", err)
		}
	}
	return &domain.Mask{Width: encoded.Width, Height: encoded.Height, Data: data}, nil
}

func (s *SegmentationSession) cachedMask(ctx context.Context, key string) (domain.EncodedMask, bool) {
	if s.deps.Cache == nil {
		return domain.EncodedMask{}, false
	}
	cached, ok, err := s.deps.Cache.GetMask(ctx, key)
	if err != nil {
		s.deps.Logger.Warn("mask_cache_lookup_failed", "key", key, "error", err)
		return domain.EncodedMask{}, false
	}
	hit := ok && cached != nil
	s.deps.Observer.MaskCacheLookup(hit)
	if !hit {
		return domain.EncodedMask{}, false
	}
	return *cached, true
}
