// Package sam is the client of the point-prompt segmentation service.
//
// The service addresses images by its own upload path, so each page image is uploaded
// once (POST /upload) and the returned path is reused for /segment, /everything and
// /automatic_masks.
package sam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/pagecut/internal/core/domain"
	"github.com/kirillkom/pagecut/internal/core/ports"
	"github.com/kirillkom/pagecut/internal/infrastructure/resilience"
)

const service = "sam"

type Client struct {
	baseURL    string
	storage    ports.BlobStore
	httpClient *http.Client
	executor   *resilience.Executor

	mu      sync.Mutex
	uploads map[string]string
}

func New(baseURL string, storage ports.BlobStore, cfg resilience.Config) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		storage:    storage,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   resilience.NewExecutor(cfg),
		uploads:    make(map[string]string),
	}
}

type clickPayload struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	ClickType int     `json:"clickType"`
}

type segmentRequest struct {
	Path   string         `json:"path"`
	Clicks []clickPayload `json:"clicks"`
}

type segmentResponse struct {
	Shape []int  `json:"shape"`
	Mask  string `json:"mask"`
}

type everythingResponse struct {
	Shape []int `json:"shape"`
	Mask  []int `json:"mask"`
}

type automaticMask struct {
	EncodedMask string    `json:"encodedMask"`
	PointCoord  []float64 `json:"point_coord"`
}

type uploadResponse struct {
	Src  string `json:"src"`
	Path string `json:"path"`
}

// SegmentPoints returns the encoded mask for the full click sequence.
func (c *Client) SegmentPoints(ctx context.Context, image domain.PageImage, clicks []domain.Click) (domain.EncodedMask, error) {
	if len(clicks) == 0 {
		return domain.EncodedMask{}, domain.WrapError(domain.ErrInvalidInput, "sam segment", errors.New("no clicks"))
	}
	remotePath, err := c.remotePath(ctx, image)
	if err != nil {
		return domain.EncodedMask{}, err
	}

	payload := segmentRequest{Path: remotePath, Clicks: make([]clickPayload, 0, len(clicks))}
	for _, click := range clicks {
		payload.Clicks = append(payload.Clicks, clickPayload{X: click.X, Y: click.Y, ClickType: int(click.Sign)})
	}

	var out segmentResponse
	err = c.executor.Execute(ctx, "sam_segment", func(callCtx context.Context) error {
		return c.postJSON(callCtx, "/segment", payload, &out, "segment")
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return domain.EncodedMask{}, resilience.WrapTemporary("sam segment", err)
	}

	h, w, err := parseShape(out.Shape)
	if err != nil {
		return domain.EncodedMask{}, err
	}
	return domain.EncodedMask{Height: h, Width: w, RLE: out.Mask}, nil
}

// SegmentCategories returns the "segment everything" category overlay runs.
func (c *Client) SegmentCategories(ctx context.Context, image domain.PageImage) (domain.CategoryRuns, error) {
	remotePath, err := c.remotePath(ctx, image)
	if err != nil {
		return domain.CategoryRuns{}, err
	}

	var out everythingResponse
	err = c.executor.Execute(ctx, "sam_everything", func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.baseURL+"/everything?path="+url.QueryEscape(remotePath), nil)
		if err != nil {
			return fmt.Errorf("create everything request: %w", err)
		}
		return c.do(req, "everything", &out)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return domain.CategoryRuns{}, resilience.WrapTemporary("sam everything", err)
	}

	h, w, err := parseShape(out.Shape)
	if err != nil {
		return domain.CategoryRuns{}, err
	}
	return domain.CategoryRuns{Height: h, Width: w, Pairs: out.Mask}, nil
}

// SegmentObjects returns the automatically generated object masks of a page. The service
// sends them without a shape: every mask covers the whole page image.
func (c *Client) SegmentObjects(ctx context.Context, image domain.PageImage) ([]domain.ObjectMask, error) {
	if image.Height <= 0 || image.Width <= 0 {
		return nil, domain.WrapError(domain.ErrMalformedMask, "sam automatic masks", fmt.Errorf("page image has no size %dx%d", image.Height, image.Width))
	}
	remotePath, err := c.remotePath(ctx, image)
	if err != nil {
		return nil, err
	}

	var out []automaticMask
	err = c.executor.Execute(ctx, "sam_automatic_masks", func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.baseURL+"/automatic_masks?path="+url.QueryEscape(remotePath), nil)
		if err != nil {
			return fmt.Errorf("create automatic masks request: %w", err)
		}
		return c.do(req, "automatic_masks", &out)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return nil, resilience.WrapTemporary("sam automatic masks", err)
	}

	objects := make([]domain.ObjectMask, 0, len(out))
	for i, m := range out {
		if m.EncodedMask == "" || len(m.PointCoord) < 2 {
			return nil, domain.WrapError(domain.ErrMalformedMask, "sam automatic masks", fmt.Errorf("object %d has no mask or point", i))
		}
		objects = append(objects, domain.ObjectMask{
			Mask:  domain.EncodedMask{Height: image.Height, Width: image.Width, RLE: m.EncodedMask},
			Point: [2]float64{m.PointCoord[0], m.PointCoord[1]},
		})
	}
	return objects, nil
}

func (c *Client) remotePath(ctx context.Context, image domain.PageImage) (string, error) {
	c.mu.Lock()
	remote, ok := c.uploads[image.Path]
	c.mu.Unlock()
	if ok {
		return remote, nil
	}

	reader, err := c.storage.Open(ctx, image.Path)
	if err != nil {
		return "", fmt.Errorf("open page image: %w", err)
	}
	raw, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		return "", fmt.Errorf("read page image: %w", err)
	}

	// Flatten the key so uploads of different documents never collide.
	filename := strings.ReplaceAll(strings.TrimPrefix(image.Path, "/"), "/", "_")
	if path.Ext(filename) == "" {
		filename += ".png"
	}

	var out uploadResponse
	err = c.executor.Execute(ctx, "sam_upload", func(callCtx context.Context) error {
		body := &bytes.Buffer{}
		form := multipart.NewWriter(body)
		part, err := form.CreateFormFile("file", filename)
		if err != nil {
			return fmt.Errorf("create form file: %w", err)
		}
		if _, err := part.Write(raw); err != nil {
			return fmt.Errorf("write form file: %w", err)
		}
		if err := form.Close(); err != nil {
			return fmt.Errorf("close form: %w", err)
		}
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/upload", body)
		if err != nil {
			return fmt.Errorf("create upload request: %w", err)
		}
		req.Header.Set("Content-Type", form.FormDataContentType())
		return c.do(req, "upload", &out)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return "", resilience.WrapTemporary("sam upload", err)
	}
	if out.Path == "" {
		return "", fmt.Errorf("sam upload: empty path in response")
	}

	c.mu.Lock()
	c.uploads[image.Path] = out.Path
	c.mu.Unlock()
	return out.Path, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, operation, out)
}

func (c *Client) do(req *http.Request, operation string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sam %s request: %w", operation, err)
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

// parseShape accepts [h, w] and the [h, w, channels] form some model versions report.
func parseShape(shape []int) (int, int, error) {
	if len(shape) < 2 || shape[0] <= 0 || shape[1] <= 0 {
		return 0, 0, domain.WrapError(domain.ErrMalformedMask, "sam shape", fmt.Errorf("invalid shape %v", shape))
	}
	return shape[0], shape[1], nil
}
