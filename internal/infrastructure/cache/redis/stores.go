package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/pagecut/internal/core/domain"
)

func pageKey(key domain.PageKey) string {
	return fmt.Sprintf("page:%s:%d", key.DocumentID, key.Page)
}

func resultKey(key domain.PageKey) string {
	return fmt.Sprintf("result:%s:%d", key.DocumentID, key.Page)
}

// PageIndex shares rendered page references between the API and the worker.
type PageIndex struct {
	kv  KV
	ttl time.Duration
}

func NewPageIndex(kv KV, ttl time.Duration) *PageIndex {
	return &PageIndex{kv: kv, ttl: ttl}
}

func (i *PageIndex) GetPageImage(ctx context.Context, key domain.PageKey) (*domain.PageImage, bool, error) {
	var img domain.PageImage
	ok, err := getJSON(ctx, i.kv, pageKey(key), &img)
	if !ok || err != nil {
		return nil, false, err
	}
	return &img, true, nil
}

func (i *PageIndex) PutPageImage(ctx context.Context, image domain.PageImage) error {
	return setJSON(ctx, i.kv, pageKey(image.Key()), image, i.ttl)
}

// DeleteDocument drops every indexed page and stored result of the document.
func (i *PageIndex) DeleteDocument(ctx context.Context, documentID string) error {
	if err := i.kv.DeleteByPrefix(ctx, "page:"+documentID+":"); err != nil {
		return err
	}
	return i.kv.DeleteByPrefix(ctx, "result:"+documentID+":")
}

// MaskCache memoizes encoded point-prompt masks for a bounded time.
type MaskCache struct {
	kv  KV
	ttl time.Duration
}

func NewMaskCache(kv KV, ttl time.Duration) *MaskCache {
	return &MaskCache{kv: kv, ttl: ttl}
}

func (c *MaskCache) GetMask(ctx context.Context, key string) (*domain.EncodedMask, bool, error) {
	var mask domain.EncodedMask
	ok, err := getJSON(ctx, c.kv, "mask:"+key, &mask)
	if !ok || err != nil {
		return nil, false, err
	}
	return &mask, true, nil
}

func (c *MaskCache) PutMask(ctx context.Context, key string, mask domain.EncodedMask) error {
	return setJSON(ctx, c.kv, "mask:"+key, mask, c.ttl)
}

// ResultStore holds one "segment everything" result per page.
type ResultStore struct {
	kv KV
}

func NewResultStore(kv KV) *ResultStore {
	return &ResultStore{kv: kv}
}

func (s *ResultStore) GetResult(ctx context.Context, key domain.PageKey) (*domain.PageResult, bool, error) {
	var result domain.PageResult
	ok, err := getJSON(ctx, s.kv, resultKey(key), &result)
	if !ok || err != nil {
		return nil, false, err
	}
	return &result, true, nil
}

func (s *ResultStore) PutResult(ctx context.Context, result domain.PageResult) error {
	return setJSON(ctx, s.kv, resultKey(domain.PageKey{DocumentID: result.DocumentID, Page: result.Page}), result, 0)
}

func (s *ResultStore) DeleteResult(ctx context.Context, key domain.PageKey) error {
	return s.kv.Delete(ctx, resultKey(key))
}

func getJSON(ctx context.Context, kv KV, key string, out any) (bool, error) {
	raw, err := kv.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

func setJSON(ctx context.Context, kv KV, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached %s: %w", key, err)
	}
	return kv.Set(ctx, key, raw, ttl)
}
