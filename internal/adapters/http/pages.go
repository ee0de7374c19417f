package httpadapter

import (
	"io"
	"net/http"
	"strconv"

	"github.com/kirillkom/pagecut/internal/core/domain"
)

type pageRequest struct {
	Page int `json:"page"`
}

func (rt *Router) getCursor(w http.ResponseWriter, r *http.Request) {
	ds, ok := rt.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ds.Cursor())
}

// viewPage records the page on screen; the sweep paces itself against it.
func (rt *Router) viewPage(w http.ResponseWriter, r *http.Request) {
	ds, ok := rt.session(w, r)
	if !ok {
		return
	}
	var req pageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ds.View(req.Page); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ds.Cursor())
}

func (rt *Router) jumpToPage(w http.ResponseWriter, r *http.Request) {
	ds, ok := rt.session(w, r)
	if !ok {
		return
	}
	var req pageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	img, gen, err := ds.Jump(r.Context(), req.Page)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"image":      img,
		"generation": gen,
	})
}

func (rt *Router) startSweep(w http.ResponseWriter, r *http.Request) {
	ds, ok := rt.session(w, r)
	if !ok {
		return
	}
	gen := ds.StartSweep()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"generation": gen,
		"cursor":     ds.Cursor(),
	})
}

func (rt *Router) getResult(w http.ResponseWriter, r *http.Request) {
	ds, page, ok := rt.sessionPage(w, r)
	if !ok {
		return
	}
	result, found, err := ds.Result(r.Context(), page)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "page has not been processed yet"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) reprocessPage(w http.ResponseWriter, r *http.Request) {
	ds, page, ok := rt.sessionPage(w, r)
	if !ok {
		return
	}
	result, err := ds.Reprocess(r.Context(), page)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) getPage(w http.ResponseWriter, r *http.Request) {
	ds, page, ok := rt.sessionPage(w, r)
	if !ok {
		return
	}
	img, err := ds.PageImage(r.Context(), page)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

// getRawPage streams the page PNG; ?width=N returns a preview whose longer side is N.
func (rt *Router) getRawPage(w http.ResponseWriter, r *http.Request) {
	ds, page, ok := rt.sessionPage(w, r)
	if !ok {
		return
	}
	maxSide := 0
	if raw := r.URL.Query().Get("width"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "width must be a positive integer"})
			return
		}
		maxSide = n
	}

	rc, err := ds.RawPage(r.Context(), page)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	defer rc.Close()

	if maxSide > 0 && rt.thumbs != nil {
		data, err := rt.thumbs.Thumbnail(rc, maxSide)
		if err != nil {
			rt.writeError(w, r, domain.NewRenderError(ds.Document().ID, page, err))
			return
		}
		writePNG(w, data)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := io.Copy(w, rc); err != nil {
		rt.logger.Warn("raw_page_write_failed", "document_id", ds.Document().ID, "page", page, "error", err)
	}
}
