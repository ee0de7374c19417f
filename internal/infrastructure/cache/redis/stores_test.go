package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/pagecut/internal/core/domain"
)

type brokenKV struct{ *MemoryClient }

func (brokenKV) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func TestPageIndexRoundTripAndDocumentDelete(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryClient()
	index := NewPageIndex(kv, 0)
	results := NewResultStore(kv)

	for _, doc := range []string{"doc-1", "doc-10"} {
		img := domain.PageImage{DocumentID: doc, Page: 2, Path: "pages/" + doc + "/2.png", Width: 10, Height: 20}
		if err := index.PutPageImage(ctx, img); err != nil {
			t.Fatalf("put: %v", err)
		}
		if err := results.PutResult(ctx, domain.PageResult{DocumentID: doc, Page: 2}); err != nil {
			t.Fatalf("put result: %v", err)
		}
	}

	got, ok, err := index.GetPageImage(ctx, domain.PageKey{DocumentID: "doc-1", Page: 2})
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if got.Path != "pages/doc-1/2.png" || got.Width != 10 || got.Height != 20 {
		t.Fatalf("unexpected image %+v", got)
	}

	if err := index.DeleteDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("delete document: %v", err)
	}
	if _, ok, _ := index.GetPageImage(ctx, domain.PageKey{DocumentID: "doc-1", Page: 2}); ok {
		t.Fatalf("expected doc-1 page to be dropped")
	}
	if _, ok, _ := results.GetResult(ctx, domain.PageKey{DocumentID: "doc-1", Page: 2}); ok {
		t.Fatalf("expected doc-1 result to be dropped")
	}
	if _, ok, _ := index.GetPageImage(ctx, domain.PageKey{DocumentID: "doc-10", Page: 2}); !ok {
		t.Fatalf("doc-10 must survive deleting doc-1")
	}
}

func TestMaskCacheExpires(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryClient()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }
	cache := NewMaskCache(kv, time.Minute)

	mask := domain.EncodedMask{Height: 3, Width: 3, RLE: "CwRmQ"}
	if err := cache.PutMask(ctx, "pages/d/1.png:abc", mask); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := cache.GetMask(ctx, "pages/d/1.png:abc")
	if err != nil || !ok || *got != mask {
		t.Fatalf("expected hit, got %+v ok=%v err=%v", got, ok, err)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, err := cache.GetMask(ctx, "pages/d/1.png:abc"); ok || err != nil {
		t.Fatalf("expected expiry miss, ok=%v err=%v", ok, err)
	}
}

func TestResultStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewResultStore(NewMemoryClient())
	key := domain.PageKey{DocumentID: "d", Page: 4}

	if _, ok, err := store.GetResult(ctx, key); ok || err != nil {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
	result := domain.PageResult{DocumentID: "d", Page: 4, Images: []domain.SubImage{{Name: "1.png", Path: "results/d/4/1.png"}}}
	if err := store.PutResult(ctx, result); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := store.GetResult(ctx, key)
	if err != nil || !ok || len(got.Images) != 1 || got.Images[0].Path != "results/d/4/1.png" {
		t.Fatalf("unexpected result %+v ok=%v err=%v", got, ok, err)
	}
	if err := store.DeleteResult(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.GetResult(ctx, key); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestBackendErrorsPropagate(t *testing.T) {
	index := NewPageIndex(brokenKV{MemoryClient: NewMemoryClient()}, 0)
	_, ok, err := index.GetPageImage(context.Background(), domain.PageKey{DocumentID: "d", Page: 1})
	if ok || err == nil {
		t.Fatalf("expected backend error, ok=%v err=%v", ok, err)
	}
}

func TestCorruptEntryIsAnError(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryClient()
	_ = kv.Set(ctx, "mask:k", []byte("{not json"), 0)
	if _, _, err := NewMaskCache(kv, 0).GetMask(ctx, "k"); err == nil {
		t.Fatalf("expected decode error")
	}
}
