// Package remote talks to the standalone pdf render service (POST /upload, GET /show).
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/pagecut/internal/core/domain"
	"github.com/kirillkom/pagecut/internal/core/ports"
	"github.com/kirillkom/pagecut/internal/infrastructure/resilience"
)

const service = "raster"

type Client struct {
	baseURL    string
	storage    ports.BlobStore
	httpClient *http.Client
	executor   *resilience.Executor

	// Remote file names per document; filled by Inspect, refilled lazily after a restart.
	mu    sync.Mutex
	files map[string]string
}

func New(baseURL string, storage ports.BlobStore, cfg resilience.Config) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		storage:    storage,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		executor:   resilience.NewExecutor(cfg),
		files:      make(map[string]string),
	}
}

type uploadResponse struct {
	Filename   string `json:"filename"`
	TotalPages int    `json:"totalPages"`
}

type showResponse struct {
	Image string `json:"image"`
}

func (c *Client) Inspect(ctx context.Context, doc *domain.Document) (int, error) {
	resp, err := c.upload(ctx, doc)
	if err != nil {
		return 0, domain.NewRenderError(doc.ID, 0, err)
	}
	if resp.TotalPages <= 0 {
		return 0, domain.NewRenderError(doc.ID, 0, errors.New("document has no pages"))
	}
	return resp.TotalPages, nil
}

func (c *Client) Render(ctx context.Context, doc *domain.Document, page int) ([]byte, error) {
	if page < 1 || (doc.TotalPages > 0 && page > doc.TotalPages) {
		return nil, domain.NewRenderError(doc.ID, page, fmt.Errorf("page out of range 1..%d", doc.TotalPages))
	}
	filename, err := c.remoteFile(ctx, doc)
	if err != nil {
		return nil, domain.NewRenderError(doc.ID, page, err)
	}

	query := url.Values{}
	query.Set("filename", filename)
	query.Set("page", strconv.Itoa(page))

	var out showResponse
	err = c.executor.Execute(ctx, "raster_show", func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.baseURL+"/show?"+query.Encode(), nil)
		if err != nil {
			return fmt.Errorf("create show request: %w", err)
		}
		return c.do(req, "show", &out)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return nil, domain.NewRenderError(doc.ID, page, resilience.WrapTemporary("raster show", err))
	}

	png, err := base64.StdEncoding.DecodeString(out.Image)
	if err != nil {
		return nil, domain.NewRenderError(doc.ID, page, fmt.Errorf("decode page image: %w", err))
	}
	if len(png) == 0 {
		return nil, domain.NewRenderError(doc.ID, page, errors.New("empty page image"))
	}
	return png, nil
}

func (c *Client) remoteFile(ctx context.Context, doc *domain.Document) (string, error) {
	c.mu.Lock()
	name, ok := c.files[doc.ID]
	c.mu.Unlock()
	if ok {
		return name, nil
	}
	resp, err := c.upload(ctx, doc)
	if err != nil {
		return "", err
	}
	return resp.Filename, nil
}

func (c *Client) upload(ctx context.Context, doc *domain.Document) (uploadResponse, error) {
	reader, err := c.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return uploadResponse{}, fmt.Errorf("open source document: %w", err)
	}
	raw, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		return uploadResponse{}, fmt.Errorf("read source document: %w", err)
	}

	// The service stores uploads by file name, so the document id keeps them apart.
	filename := doc.ID + ".pdf"
	var out uploadResponse
	err = c.executor.Execute(ctx, "raster_upload", func(callCtx context.Context) error {
		body := &bytes.Buffer{}
		form := multipart.NewWriter(body)
		part, err := form.CreateFormFile("pdf", filename)
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
		return uploadResponse{}, resilience.WrapTemporary("raster upload", err)
	}
	if out.Filename == "" {
		out.Filename = filename
	}

	c.mu.Lock()
	c.files[doc.ID] = out.Filename
	c.mu.Unlock()
	return out, nil
}

func (c *Client) do(req *http.Request, operation string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("raster %s request: %w", operation, err)
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
