// Package poppler rasterizes stored PDF documents on the local host: pdfcpu validates and
// counts pages, ledongthuc/pdf is the fallback counter, pdftoppm renders.
package poppler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/kirillkom/pagecut/internal/core/domain"
	"github.com/kirillkom/pagecut/internal/core/ports"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const defaultDPI = 150

// CommandRunner executes an external tool and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

type Rasterizer struct {
	storage ports.BlobStore
	dpi     int
	binary  string
	run     CommandRunner
	conf    *model.Configuration
	logger  *slog.Logger
}

type Option func(*Rasterizer)

func WithBinary(path string) Option {
	return func(r *Rasterizer) { r.binary = path }
}

func WithCommandRunner(run CommandRunner) Option {
	return func(r *Rasterizer) { r.run = run }
}

func New(storage ports.BlobStore, dpi int, logger *slog.Logger, opts ...Option) *Rasterizer {
	if dpi <= 0 {
		dpi = defaultDPI
	}
	if logger == nil {
		logger = slog.Default()
	}
	api.DisableConfigDir()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	r := &Rasterizer{
		storage: storage,
		dpi:     dpi,
		binary:  "pdftoppm",
		run:     execRunner,
		conf:    conf,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Inspect validates the stored document and returns its page count.
func (r *Rasterizer) Inspect(ctx context.Context, doc *domain.Document) (int, error) {
	raw, err := r.read(ctx, doc)
	if err != nil {
		return 0, domain.NewRenderError(doc.ID, 0, err)
	}

	pages, err := r.countPages(raw)
	if err != nil {
		return 0, domain.NewRenderError(doc.ID, 0, err)
	}
	if pages <= 0 {
		return 0, domain.NewRenderError(doc.ID, 0, errors.New("document has no pages"))
	}
	return pages, nil
}

func (r *Rasterizer) countPages(raw []byte) (int, error) {
	rs := bytes.NewReader(raw)
	primaryErr := api.Validate(rs, r.conf)
	if primaryErr == nil {
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return 0, err
		}
		pages, err := api.PageCount(rs, r.conf)
		if err == nil {
			return pages, nil
		}
		primaryErr = err
	}

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return 0, fmt.Errorf("malformed pdf: %w", errors.Join(primaryErr, err))
	}
	r.logger.Warn("pdf_page_count_fallback", "error", primaryErr)
	return reader.NumPage(), nil
}

// Render returns the PNG of one 1-based page.
func (r *Rasterizer) Render(ctx context.Context, doc *domain.Document, page int) ([]byte, error) {
	if page < 1 || (doc.TotalPages > 0 && page > doc.TotalPages) {
		return nil, domain.NewRenderError(doc.ID, page, fmt.Errorf("page out of range 1..%d", doc.TotalPages))
	}
	raw, err := r.read(ctx, doc)
	if err != nil {
		return nil, domain.NewRenderError(doc.ID, page, err)
	}

	tmpDir, err := os.MkdirTemp("", "pagecut-render-*")
	if err != nil {
		return nil, domain.NewRenderError(doc.ID, page, fmt.Errorf("create temp dir: %w", err))
	}
	defer os.RemoveAll(tmpDir)

	src := filepath.Join(tmpDir, "source.pdf")
	if err := os.WriteFile(src, raw, 0o600); err != nil {
		return nil, domain.NewRenderError(doc.ID, page, fmt.Errorf("spool document: %w", err))
	}

	// -singlefile writes <prefix>.png without a page suffix.
	prefix := filepath.Join(tmpDir, "page")
	pageArg := strconv.Itoa(page)
	output, err := r.run(ctx, r.binary,
		"-png",
		"-f", pageArg,
		"-l", pageArg,
		"-r", strconv.Itoa(r.dpi),
		"-singlefile",
		src,
		prefix,
	)
	if err != nil {
		return nil, domain.NewRenderError(doc.ID, page, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, bytes.TrimSpace(output)))
	}

	png, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, domain.NewRenderError(doc.ID, page, fmt.Errorf("pdftoppm did not create expected output: %w", err))
	}
	return png, nil
}

func (r *Rasterizer) read(ctx context.Context, doc *domain.Document) ([]byte, error) {
	reader, err := r.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}
	return raw, nil
}
