package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/pagecut/internal/core/domain"
	"github.com/kirillkom/pagecut/internal/core/maskcodec"
)

func pngBytes(w, h int) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

type rasterFake struct {
	width, height int
	pages         int
	delay         time.Duration
	renderErr     error
	inspectErr    error
	renders       atomic.Int32
}

func (f *rasterFake) Inspect(context.Context, *domain.Document) (int, error) {
	if f.inspectErr != nil {
		return 0, f.inspectErr
	}
	return f.pages, nil
}

func (f *rasterFake) Render(ctx context.Context, _ *domain.Document, _ int) ([]byte, error) {
	f.renders.Add(1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	return pngBytes(f.width, f.height), nil
}

type blobFake struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr map[string]error
	deleted   []string
}

func newBlobFake() *blobFake {
	return &blobFake{objects: make(map[string][]byte), uploadErr: make(map[string]error)}
}

func (f *blobFake) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = raw
	return nil
}

func (f *blobFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *blobFake) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *blobFake) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *blobFake) Upload(_ context.Context, key string, data []byte) (domain.StoredObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for prefix, err := range f.uploadErr {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			return domain.StoredObject{}, err
		}
	}
	f.objects[key] = append([]byte(nil), data...)
	return domain.StoredObject{Path: key, Src: "http://blobs.test/" + key}, nil
}

func (f *blobFake) has(key string) bool {
	ok, _ := f.Exists(context.Background(), key)
	return ok
}

type resultStoreFake struct {
	mu      sync.Mutex
	results map[domain.PageKey]domain.PageResult
}

func newResultStoreFake() *resultStoreFake {
	return &resultStoreFake{results: make(map[domain.PageKey]domain.PageResult)}
}

func (f *resultStoreFake) GetResult(_ context.Context, key domain.PageKey) (*domain.PageResult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.results[key]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (f *resultStoreFake) PutResult(_ context.Context, result domain.PageResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[domain.PageKey{DocumentID: result.DocumentID, Page: result.Page}] = result
	return nil
}

func (f *resultStoreFake) DeleteResult(_ context.Context, key domain.PageKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.results, key)
	return nil
}

func (f *resultStoreFake) pages() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.results))
	for key := range f.results {
		out = append(out, key.Page)
	}
	return out
}

// everythingFake counts "segment everything" calls per page. When gate is set every call
// blocks until a value is received from it.
type everythingFake struct {
	mu     sync.Mutex
	calls  map[int]int
	order  []int
	failOn map[int]error
	gate   chan struct{}
	delay  time.Duration
}

func newEverythingFake() *everythingFake {
	return &everythingFake{calls: make(map[int]int), failOn: make(map[int]error)}
}

func (f *everythingFake) SegmentEverything(ctx context.Context, img domain.PageImage) ([]domain.SubImage, error) {
	f.mu.Lock()
	f.calls[img.Page]++
	f.order = append(f.order, img.Page)
	err := f.failOn[img.Page]
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err != nil {
		return nil, err
	}
	return []domain.SubImage{
		{Name: fmt.Sprintf("%d-1.png", img.Page), Data: []byte("sub")},
	}, nil
}

func (f *everythingFake) callCount(page int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[page]
}

func (f *everythingFake) processedOrder() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.order...)
}

// pointsFake answers with a mask covering a rectangle per click count unless respond overrides it.
type pointsFake struct {
	mu      sync.Mutex
	calls   int
	respond func(call int, clicks []domain.Click) (domain.EncodedMask, error)
}

func (f *pointsFake) SegmentPoints(_ context.Context, _ domain.PageImage, clicks []domain.Click) (domain.EncodedMask, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	respond := f.respond
	f.mu.Unlock()
	return respond(call, clicks)
}

func (f *pointsFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// encodedMask builds a w x h mask whose first n pixels in row-major order are set.
func encodedMask(w, h, n int) domain.EncodedMask {
	data := make([]uint8, w*h)
	for i := 0; i < n && i < len(data); i++ {
		data[i] = 1
	}
	rle, err := maskcodec.EncodeRLE(maskcodec.Shape{Height: h, Width: w}, data)
	if err != nil {
		panic(err)
	}
	return domain.EncodedMask{Width: w, Height: h, RLE: rle}
}

type maskCacheFake struct {
	mu    sync.Mutex
	masks map[string]domain.EncodedMask
}

func newMaskCacheFake() *maskCacheFake {
	return &maskCacheFake{masks: make(map[string]domain.EncodedMask)}
}

func (f *maskCacheFake) GetMask(_ context.Context, key string) (*domain.EncodedMask, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.masks[key]
	if !ok {
		return nil, false, nil
	}
	return &m, true, nil
}

func (f *maskCacheFake) PutMask(_ context.Context, key string, mask domain.EncodedMask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.masks[key] = mask
	return nil
}

type cropperFake struct {
	err error
}

func (f *cropperFake) CropMasked(page io.Reader, mask *domain.Mask) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if _, err := io.ReadAll(page); err != nil {
		return nil, err
	}
	r := mask.BoundingBox()
	return pngBytes(r.Dx(), r.Dy()), nil
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

func (f *pageLogFake) ListPageLogs(context.Context, string, int) ([]domain.PageLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.PageLogEntry(nil), f.entries...), nil
}

type cutoutRepoFake struct {
	saved map[string][]domain.Cutout
	err   error
}

func (f *cutoutRepoFake) ReplaceCutouts(_ context.Context, documentID string, cutouts []domain.Cutout) error {
	if f.err != nil {
		return f.err
	}
	if f.saved == nil {
		f.saved = make(map[string][]domain.Cutout)
	}
	f.saved[documentID] = append([]domain.Cutout(nil), cutouts...)
	return nil
}

func (f *cutoutRepoFake) ListCutouts(_ context.Context, documentID string) ([]domain.Cutout, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.Cutout(nil), f.saved[documentID]...), nil
}

type manifestFake struct {
	entries []domain.ExportEntry
	err     error
}

func (f *manifestFake) WriteManifest(_ string, entries []domain.ExportEntry) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.entries = append([]domain.ExportEntry(nil), entries...)
	return []byte("xlsx"), nil
}

type docRepoFake struct {
	mu          sync.Mutex
	docs        map[string]*domain.Document
	createErr   error
	statusCalls []statusCall
	statusErr   error
}

type statusCall struct {
	status domain.DocumentStatus
	errMsg string
}

func newDocRepoFake(docs ...*domain.Document) *docRepoFake {
	f := &docRepoFake{docs: make(map[string]*domain.Document)}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *docRepoFake) Create(_ context.Context, doc *domain.Document) error {
	if f.createErr != nil {
		return f.createErr
	}
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
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(id))
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *docRepoFake) UpdateStatus(_ context.Context, _ string, status domain.DocumentStatus, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, statusCall{status: status, errMsg: errMessage})
	if status == domain.StatusFailed {
		return nil
	}
	return f.statusErr
}

type queueFake struct {
	documentID string
	err        error
}

func (f *queueFake) PublishDocumentUploaded(_ context.Context, documentID string) error {
	if f.err != nil {
		return f.err
	}
	f.documentID = documentID
	return nil
}

func (f *queueFake) SubscribeDocumentUploaded(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

func testDocument(pages int) *domain.Document {
	return &domain.Document{ID: "doc-1", Filename: "exam.pdf", TotalPages: pages, Status: domain.StatusUploaded}
}
