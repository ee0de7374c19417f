package httpadapter

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/pagecut/internal/config"
	"github.com/kirillkom/pagecut/internal/core/domain"
	"github.com/kirillkom/pagecut/internal/core/maskcodec"
	"github.com/kirillkom/pagecut/internal/core/usecase"
	cacheredis "github.com/kirillkom/pagecut/internal/infrastructure/cache/redis"
	"github.com/kirillkom/pagecut/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/pagecut/internal/infrastructure/imaging"
	"github.com/kirillkom/pagecut/internal/infrastructure/storage/localfs"
)

const (
	pageWidth  = 40
	pageHeight = 30
)

func pagePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, pageWidth, pageHeight))
	for y := 0; y < pageHeight; y++ {
		for x := 0; x < pageWidth; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 6), G: uint8(y * 8), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode page png: %v", err)
	}
	return buf.Bytes()
}

type docRepoFake struct {
	mu   sync.Mutex
	docs map[string]*domain.Document
}

func (f *docRepoFake) Create(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copyDoc := *doc
	f.docs[doc.ID] = &copyDoc
	return nil
}

func (f *docRepoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *docRepoFake) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "update status", fmt.Errorf("id=%s", id))
	}
	doc.Status = status
	doc.Error = errMessage
	return nil
}

type rasterFake struct {
	pages int
	png   []byte
}

func (f rasterFake) Inspect(context.Context, *domain.Document) (int, error) { return f.pages, nil }

func (f rasterFake) Render(context.Context, *domain.Document, int) ([]byte, error) {
	return f.png, nil
}

// pointsFake selects a fixed rectangle; negative clicks shrink it.
type pointsFake struct{}

func (pointsFake) SegmentPoints(_ context.Context, img domain.PageImage, clicks []domain.Click) (domain.EncodedMask, error) {
	w, h := img.Width, img.Height
	right := 20
	for _, c := range clicks {
		if c.Sign == domain.ClickNegative {
			right = 12
		}
	}
	mask := make([]uint8, w*h)
	for y := 5; y < 15; y++ {
		for x := 4; x < right; x++ {
			mask[y*w+x] = 1
		}
	}
	rle, err := maskcodec.EncodeRLE(maskcodec.Shape{Height: h, Width: w}, mask)
	if err != nil {
		return domain.EncodedMask{}, err
	}
	return domain.EncodedMask{Height: h, Width: w, RLE: rle}, nil
}

type everythingFake struct {
	png []byte
}

func (f everythingFake) SegmentEverything(context.Context, domain.PageImage) ([]domain.SubImage, error) {
	return []domain.SubImage{{Name: "figure_1.png", Data: f.png}}, nil
}

// objectsFake reports a small object at the top-left and a larger one below it.
type objectsFake struct{}

func (objectsFake) SegmentObjects(_ context.Context, img domain.PageImage) ([]domain.ObjectMask, error) {
	boxes := []struct{ x0, y0, x1, y1 int }{{0, 0, 2, 2}, {0, 10, 8, 20}}
	out := make([]domain.ObjectMask, 0, len(boxes))
	for _, b := range boxes {
		mask := make([]uint8, img.Width*img.Height)
		for y := b.y0; y < b.y1; y++ {
			for x := b.x0; x < b.x1; x++ {
				mask[y*img.Width+x] = 1
			}
		}
		rle, err := maskcodec.EncodeRLE(maskcodec.Shape{Height: img.Height, Width: img.Width}, mask)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.ObjectMask{
			Mask:  domain.EncodedMask{Height: img.Height, Width: img.Width, RLE: rle},
			Point: [2]float64{float64(b.x0), float64(b.y0)},
		})
	}
	return out, nil
}

type categoriesFake struct{}

func (categoriesFake) SegmentCategories(_ context.Context, img domain.PageImage) (domain.CategoryRuns, error) {
	categories := make([]uint8, img.Width*img.Height)
	for i := range categories {
		switch {
		case i < 200:
			categories[i] = 0
		case i < 600:
			categories[i] = 3
		default:
			categories[i] = 7
		}
	}
	return domain.CategoryRuns{Height: img.Height, Width: img.Width, Pairs: maskcodec.EncodeCategoryRuns(categories)}, nil
}

type queueFake struct{}

func (queueFake) PublishDocumentUploaded(context.Context, string) error { return nil }

func (queueFake) SubscribeDocumentUploaded(context.Context, func(context.Context, string) error) error {
	return nil
}

type pageLogFake struct {
	mu      sync.Mutex
	entries []domain.PageLogEntry
}

func (f *pageLogFake) LogPageProcessing(_ context.Context, entry domain.PageLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *pageLogFake) ListPageLogs(_ context.Context, documentID string, limit int) ([]domain.PageLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.PageLogEntry, 0, len(f.entries))
	for _, e := range f.entries {
		if e.DocumentID == documentID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

type cutoutRepoFake struct {
	mu    sync.Mutex
	saved map[string][]domain.Cutout
}

func (f *cutoutRepoFake) ReplaceCutouts(_ context.Context, documentID string, cutouts []domain.Cutout) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[documentID] = append([]domain.Cutout(nil), cutouts...)
	return nil
}

func (f *cutoutRepoFake) ListCutouts(_ context.Context, documentID string) ([]domain.Cutout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Cutout(nil), f.saved[documentID]...), nil
}

// harness wires the real use cases over in-memory collaborators and a temp-dir blob store.
type harness struct {
	handler http.Handler
	doc     *domain.Document
	blobs   *localfs.Storage
	logs    *pageLogFake
}

func newHarness(t *testing.T, cfg config.Config) *harness {
	t.Helper()
	page := pagePNG(t)
	blobs, err := localfs.New(t.TempDir(), "http://files.test")
	if err != nil {
		t.Fatalf("init blob store: %v", err)
	}
	kv := cacheredis.NewMemoryClient()
	repo := &docRepoFake{docs: map[string]*domain.Document{}}
	raster := rasterFake{pages: 3, png: page}
	logs := &pageLogFake{}

	images := usecase.NewPageImageCache(raster, blobs, cacheredis.NewPageIndex(kv, time.Hour), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	registry := usecase.NewSessionRegistry(ctx, usecase.RegistryConfig{
		Documents:  repo,
		Images:     images,
		Blobs:      blobs,
		Points:     pointsFake{},
		Everything: everythingFake{png: page},
		Categories: categoriesFake{},
		Objects:    objectsFake{},
		MaskCache:  cacheredis.NewMaskCache(kv, time.Minute),
		Results:    cacheredis.NewResultStore(kv),
		PageLogs:   logs,
		Cutouts:    &cutoutRepoFake{saved: map[string][]domain.Cutout{}},
		Cropper:    imaging.NewCropper(),
		Export:     usecase.NewExportUseCase(blobs, xlsx.NewManifestWriter(), nil),
		Scheduler: usecase.SchedulerOptions{
			BatchSize:    2,
			PageDelay:    time.Millisecond,
			PollInterval: 5 * time.Millisecond,
		},
		GridSize: 20,
		Model:    "test",
	})
	t.Cleanup(func() {
		registry.CloseAll()
		cancel()
	})

	ingest := usecase.NewIngestDocumentUseCase(repo, blobs, raster, queueFake{}, registry, nil)
	doc, err := ingest.Upload(context.Background(), "scan.pdf", "application/pdf", strings.NewReader("%PDF-1.4 fake"))
	if err != nil {
		t.Fatalf("seed upload: %v", err)
	}

	handler := NewRouter(cfg, Dependencies{
		Ingest:   ingest,
		Docs:     repo,
		Sessions: registry,
		PageLogs: logs,
		Thumbs:   imaging.NewCropper(),
	}).Handler()
	return &harness{handler: handler, doc: doc, blobs: blobs, logs: logs}
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	res := httptest.NewRecorder()
	h.handler.ServeHTTP(res, req)
	return res
}

func (h *harness) docPath(suffix string) string {
	return "/v1/documents/" + h.doc.ID + suffix
}
