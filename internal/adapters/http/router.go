package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/pagecut/internal/config"
	"github.com/kirillkom/pagecut/internal/core/domain"
	"github.com/kirillkom/pagecut/internal/core/ports"
	"github.com/kirillkom/pagecut/internal/core/usecase"
	"github.com/kirillkom/pagecut/internal/observability/metrics"
)

const (
	serviceName        = "api"
	maxUploadBytes     = 200 << 20
	maxJSONBodyBytes   = 1 << 20
	backpressureWait   = 250 * time.Millisecond
	defaultPageLogsCap = 100
)

// SessionProvider hands out the live session of an uploaded document.
type SessionProvider interface {
	Get(ctx context.Context, documentID string) (*usecase.DocumentSession, error)
	Close(documentID string)
}

// Thumbnailer downsizes page images for previews.
type Thumbnailer interface {
	Thumbnail(r io.Reader, maxSide int) ([]byte, error)
}

type Dependencies struct {
	Ingest   ports.DocumentIngestor
	Docs     ports.DocumentReader
	Sessions SessionProvider
	PageLogs ports.PageLogRepository
	Thumbs   Thumbnailer
	// Files serves stored blobs under /files/. Optional.
	Files   http.Handler
	Metrics *metrics.HTTPServerMetrics
	Logger  *slog.Logger
}

type Router struct {
	cfg      config.Config
	ingest   ports.DocumentIngestor
	docs     ports.DocumentReader
	sessions SessionProvider
	pageLogs ports.PageLogRepository
	thumbs   Thumbnailer
	files    http.Handler
	metrics  *metrics.HTTPServerMetrics
	logger   *slog.Logger
}

func NewRouter(cfg config.Config, deps Dependencies) *Router {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Router{
		cfg:      cfg,
		ingest:   deps.Ingest,
		docs:     deps.Docs,
		sessions: deps.Sessions,
		pageLogs: deps.PageLogs,
		thumbs:   deps.Thumbs,
		files:    deps.Files,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	if rt.files != nil {
		mux.Handle("GET /files/", rt.files)
	}

	mux.HandleFunc("POST /v1/documents", rt.uploadDocument)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	mux.HandleFunc("DELETE /v1/documents/{id}", rt.closeDocument)
	mux.HandleFunc("GET /v1/documents/{id}/logs", rt.listPageLogs)

	mux.HandleFunc("GET /v1/documents/{id}/cursor", rt.getCursor)
	mux.HandleFunc("POST /v1/documents/{id}/view", rt.viewPage)
	mux.HandleFunc("POST /v1/documents/{id}/jump", rt.jumpToPage)
	mux.HandleFunc("POST /v1/documents/{id}/sweep", rt.startSweep)
	mux.HandleFunc("GET /v1/documents/{id}/results/{page}", rt.getResult)

	mux.HandleFunc("GET /v1/documents/{id}/pages/{page}", rt.getPage)
	mux.HandleFunc("GET /v1/documents/{id}/pages/{page}/raw", rt.getRawPage)
	mux.HandleFunc("POST /v1/documents/{id}/pages/{page}/reprocess", rt.reprocessPage)
	mux.HandleFunc("POST /v1/documents/{id}/pages/{page}/clicks", rt.addClick)
	mux.HandleFunc("POST /v1/documents/{id}/pages/{page}/undo", rt.undoClick)
	mux.HandleFunc("POST /v1/documents/{id}/pages/{page}/redo", rt.redoClick)
	mux.HandleFunc("POST /v1/documents/{id}/pages/{page}/reset", rt.resetPage)
	mux.HandleFunc("POST /v1/documents/{id}/pages/{page}/cut", rt.cutSelection)
	mux.HandleFunc("GET /v1/documents/{id}/pages/{page}/overlay", rt.getOverlay)
	mux.HandleFunc("GET /v1/documents/{id}/pages/{page}/auto-overlay", rt.getAutoOverlay)
	mux.HandleFunc("GET /v1/documents/{id}/pages/{page}/objects", rt.getObjects)

	mux.HandleFunc("GET /v1/documents/{id}/cutouts", rt.listCutouts)
	mux.HandleFunc("DELETE /v1/documents/{id}/cutouts/{index}", rt.removeCutout)
	mux.HandleFunc("POST /v1/documents/{id}/cutouts/move", rt.moveCutout)
	mux.HandleFunc("POST /v1/documents/{id}/cutouts/rename", rt.renameCutout)
	mux.HandleFunc("POST /v1/documents/{id}/cutouts/clear", rt.clearCutouts)
	mux.HandleFunc("POST /v1/documents/{id}/cutouts/export", rt.exportCutouts)
	mux.HandleFunc("POST /v1/documents/{id}/cutouts/save", rt.saveCutouts)
	mux.HandleFunc("POST /v1/documents/{id}/cutouts/load", rt.loadCutouts)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, backpressureWait, rt.recordRejected)
	handler = rateLimitMiddleware(handler, rt.limiter(), rt.recordRejected)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) limiter() *rate.Limiter {
	if rt.cfg.APIRateLimitRPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rt.cfg.APIRateLimitRPS), max(rt.cfg.APIRateLimitBurst, 1))
}

func (rt *Router) recordRejected(reason string) {
	if rt.metrics != nil {
		rt.metrics.RecordRejected(serviceName, reason)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	doc, err := rt.ingest.Upload(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.docs.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) closeDocument(w http.ResponseWriter, r *http.Request) {
	rt.sessions.Close(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) listPageLogs(w http.ResponseWriter, r *http.Request) {
	if rt.pageLogs == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "page logs are not available"})
		return
	}
	limit := defaultPageLogsCap
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	entries, err := rt.pageLogs.ListPageLogs(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

// session resolves the document session named by the path; it writes the error response itself.
func (rt *Router) session(w http.ResponseWriter, r *http.Request) (*usecase.DocumentSession, bool) {
	ds, err := rt.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return nil, false
	}
	return ds, true
}

func (rt *Router) sessionPage(w http.ResponseWriter, r *http.Request) (*usecase.DocumentSession, int, bool) {
	ds, ok := rt.session(w, r)
	if !ok {
		return nil, 0, false
	}
	page, err := strconv.Atoi(r.PathValue("page"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "page must be an integer"})
		return nil, 0, false
	}
	if total := ds.Document().TotalPages; page < 1 || page > total {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "resolve page", fmt.Errorf("page %d out of range 1..%d", page, total)))
		return nil, 0, false
	}
	return ds, page, true
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request_failed", "request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func wantsPNG(r *http.Request) bool {
	return strings.EqualFold(r.URL.Query().Get("format"), "png")
}
