package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/kirillkom/pagecut/internal/core/domain"
	"github.com/kirillkom/pagecut/internal/core/ports"
)

// CutoutWorkspace is the ordered, most-recent-first list of cutouts of one document.
type CutoutWorkspace struct {
	documentID string
	blobs      ports.BlobStore
	repo       ports.CutoutRepository
	logger     *slog.Logger

	mu    sync.Mutex
	items []domain.Cutout
}

func NewCutoutWorkspace(documentID string, blobs ports.BlobStore, repo ports.CutoutRepository, logger *slog.Logger) *CutoutWorkspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &CutoutWorkspace{documentID: documentID, blobs: blobs, repo: repo, logger: logger}
}

// Add puts a cutout at the front of the list.
func (w *CutoutWorkspace) Add(c domain.Cutout) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = append(w.items, domain.Cutout{})
	copy(w.items[1:], w.items)
	w.items[0] = c
}

// AddPageResult prepends every sub-image of a "segment everything" result, in result order.
func (w *CutoutWorkspace) AddPageResult(result domain.PageResult) {
	for _, sub := range result.Images {
		w.Add(domain.Cutout{
			ID:        fmt.Sprintf("%s-%d-%s", result.DocumentID, result.Page, sub.Name),
			Name:      trimExtension(sub.Name),
			Path:      sub.Path,
			Src:       sub.Src,
			Page:      result.Page,
			CreatedAt: result.CreatedAt,
		})
	}
}

func (w *CutoutWorkspace) List() []domain.Cutout {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]domain.Cutout(nil), w.items...)
}

func (w *CutoutWorkspace) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

// RemoveAt deletes one cutout. Ephemeral cutouts release their blob.
func (w *CutoutWorkspace) RemoveAt(ctx context.Context, index int) (domain.Cutout, error) {
	w.mu.Lock()
	if err := w.checkIndexLocked("remove cutout", index); err != nil {
		w.mu.Unlock()
		return domain.Cutout{}, err
	}
	removed := w.items[index]
	w.items = append(w.items[:index], w.items[index+1:]...)
	w.mu.Unlock()

	if removed.Ephemeral {
		w.release(ctx, removed)
	}
	return removed, nil
}

// Move takes the cutout at from out of the list and reinserts it at to.
func (w *CutoutWorkspace) Move(from, to int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkIndexLocked("move cutout", from); err != nil {
		return err
	}
	if err := w.checkIndexLocked("move cutout", to); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	item := w.items[from]
	if from < to {
		copy(w.items[from:to], w.items[from+1:to+1])
	} else {
		copy(w.items[to+1:from+1], w.items[to:from])
	}
	w.items[to] = item
	return nil
}

// Rename sets the name of the cutout at index to the marker prefix of name (or of the
// current name when name is empty) followed by its 1-based position.
func (w *CutoutWorkspace) Rename(index int, name string) (domain.Cutout, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkIndexLocked("rename cutout", index); err != nil {
		return domain.Cutout{}, err
	}
	if name == "" {
		name = w.items[index].Name
	}
	w.items[index].Name = PositionalName(name, index+1)
	return w.items[index], nil
}

// Clear drops every cutout and releases ephemeral blobs. It refuses to run unconfirmed.
func (w *CutoutWorkspace) Clear(ctx context.Context, confirm bool) (int, error) {
	if !confirm {
		return 0, domain.WrapError(domain.ErrInvalidInput, "clear workspace", errors.New("confirmation required"))
	}
	w.mu.Lock()
	items := w.items
	w.items = nil
	w.mu.Unlock()

	for _, c := range items {
		if c.Ephemeral {
			w.release(ctx, c)
		}
	}
	w.logger.Info("workspace_cleared", "document_id", w.documentID, "cutouts", len(items))
	return len(items), nil
}

// Save persists the current order.
func (w *CutoutWorkspace) Save(ctx context.Context) error {
	if w.repo == nil {
		return domain.WrapError(domain.ErrInvalidInput, "save workspace", errors.New("workspace persistence is not configured"))
	}
	if err := w.repo.ReplaceCutouts(ctx, w.documentID, w.List()); err != nil {
		return fmt.Errorf("save workspace: %w", err)
	}
	return nil
}

// Load replaces the in-memory list with the persisted one. Entries whose blob is gone are
// dropped and reported as stale.
func (w *CutoutWorkspace) Load(ctx context.Context) ([]domain.Cutout, error) {
	if w.repo == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "load workspace", errors.New("workspace persistence is not configured"))
	}
	persisted, err := w.repo.ListCutouts(ctx, w.documentID)
	if err != nil {
		return nil, fmt.Errorf("load workspace: %w", err)
	}

	kept := make([]domain.Cutout, 0, len(persisted))
	var dropped []domain.Cutout
	for _, c := range persisted {
		exists, err := w.blobs.Exists(ctx, c.Path)
		if err == nil && exists {
			kept = append(kept, c)
			continue
		}
		if err == nil {
			err = errors.New("blob is gone")
		}
		stale := domain.WrapError(domain.ErrStaleReference, "load cutout", err)
		w.logger.Warn("workspace_entry_dropped", "document_id", w.documentID, "cutout_id", c.ID, "path", c.Path, "error", stale)
		dropped = append(dropped, c)
	}

	w.mu.Lock()
	w.items = kept
	w.mu.Unlock()
	return dropped, nil
}

func (w *CutoutWorkspace) checkIndexLocked(operation string, index int) error {
	if index < 0 || index >= len(w.items) {
		return domain.WrapError(domain.ErrInvalidInput, operation, fmt.Errorf("index %d out of range [0,%d)", index, len(w.items)))
	}
	return nil
}

func (w *CutoutWorkspace) release(ctx context.Context, c domain.Cutout) {
	if err := w.blobs.Delete(ctx, c.Path); err != nil {
		w.logger.Warn("cutout_release_failed", "document_id", w.documentID, "cutout_id", c.ID, "error", err)
	}
}

// nameMarkers are the characters kept from the start of a cutout name: digits, Chinese
// numerals and the list/heading markers that number questions on a page.
const nameMarkers = "0123456789０１２３４５６７８９〇零一二三四五六七八九十百" +
	"①②③④⑤⑥⑦⑧⑨⑩⑪⑫⑬⑭⑮⑯⑰⑱⑲⑳" +
	"()（）[]【】.．、-"

// PositionalName keeps the leading run of marker characters of name and appends _position.
func PositionalName(name string, position int) string {
	var prefix strings.Builder
	for _, r := range name {
		if !strings.ContainsRune(nameMarkers, r) {
			break
		}
		prefix.WriteRune(r)
	}
	base := prefix.String()
	if base == "" {
		base = "cutout"
	}
	return base + "_" + strconv.Itoa(position)
}

func trimExtension(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}
