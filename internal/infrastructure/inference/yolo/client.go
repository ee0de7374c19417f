// Package yolo is the client of the region-extraction ("segment everything") service.
package yolo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/pagecut/internal/core/domain"
	"github.com/kirillkom/pagecut/internal/infrastructure/resilience"
)

const (
	service      = "yolo"
	maxImageSize = 32 << 20
)

// Client reads page images from a volume it shares with the service: the service is given
// sharedRoot joined with the blob key.
type Client struct {
	baseURL    string
	sharedRoot string
	httpClient *http.Client
	executor   *resilience.Executor
	maxImage   int64
}

func New(baseURL, sharedRoot string, cfg resilience.Config) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		sharedRoot: sharedRoot,
		httpClient: &http.Client{Timeout: 180 * time.Second},
		executor:   resilience.NewExecutor(cfg),
		maxImage:   maxImageSize,
	}
}

type uploadRequest struct {
	Path string `json:"path"`
	Page string `json:"page"`
}

type segmentResponse struct {
	Images []struct {
		Name  string `json:"name"`
		Image string `json:"image"`
	} `json:"images"`
}

// SegmentEverything runs detection on the page and downloads every extracted region.
func (c *Client) SegmentEverything(ctx context.Context, image domain.PageImage) ([]domain.SubImage, error) {
	pageID := runID(image)
	payload := uploadRequest{
		Path: filepath.Join(c.sharedRoot, filepath.FromSlash(image.Path)),
		Page: pageID,
	}

	err := c.executor.Execute(ctx, "yolo_predict", func(callCtx context.Context) error {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal predict request: %w", err)
		}
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/upload", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create predict request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		var ack map[string]any
		return c.doJSON(req, "predict", &ack)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return nil, resilience.WrapTemporary("yolo predict", err)
	}

	var out segmentResponse
	err = c.executor.Execute(ctx, "yolo_segment", func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.baseURL+"/segment?pageId="+url.QueryEscape(pageID), nil)
		if err != nil {
			return fmt.Errorf("create segment request: %w", err)
		}
		return c.doJSON(req, "segment", &out)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return nil, resilience.WrapTemporary("yolo segment", err)
	}

	subs := make([]domain.SubImage, 0, len(out.Images))
	for _, item := range out.Images {
		data, err := c.download(ctx, item.Image)
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", item.Name, err)
		}
		subs = append(subs, domain.SubImage{Name: item.Name, Data: data})
	}
	return subs, nil
}

func (c *Client) download(ctx context.Context, rawURL string) ([]byte, error) {
	target, err := c.resolve(rawURL)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = c.executor.Execute(ctx, "yolo_image", func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, target, nil)
		if err != nil {
			return fmt.Errorf("create image request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("yolo image request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return resilience.NewHTTPStatusError(service, "image", resp)
		}
		data, err = io.ReadAll(io.LimitReader(resp.Body, c.maxImage+1))
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		if int64(len(data)) > c.maxImage {
			return domain.WrapError(domain.ErrInferenceFailed, "yolo image", fmt.Errorf("region image exceeds %d bytes", c.maxImage))
		}
		return nil
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return nil, resilience.WrapTemporary("yolo image", err)
	}
	return data, nil
}

// resolve accepts absolute image URLs and service-relative ones.
func (c *Client) resolve(rawURL string) (string, error) {
	ref, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse image url: %w", err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (c *Client) doJSON(req *http.Request, operation string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("yolo %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resilience.NewHTTPStatusError(service, operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

// runID names the service's per-run output folder; it must be unique per page.
func runID(image domain.PageImage) string {
	return fmt.Sprintf("%s_%d", image.DocumentID, image.Page)
}
