package httpadapter

import (
	"net/http"
	"strconv"

	"github.com/kirillkom/pagecut/internal/core/domain"
)

func (rt *Router) listCutouts(w http.ResponseWriter, r *http.Request) {
	ds, ok := rt.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cutouts": ds.Workspace().List()})
}

func (rt *Router) removeCutout(w http.ResponseWriter, r *http.Request) {
	ds, ok := rt.session(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "index must be an integer"})
		return
	}
	removed, err := ds.Workspace().RemoveAt(r.Context(), index)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

func (rt *Router) moveCutout(w http.ResponseWriter, r *http.Request) {
	ds, ok := rt.session(w, r)
	if !ok {
		return
	}
	var req struct {
		From int `json:"from"`
		To   int `json:"to"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ds.Workspace().Move(req.From, req.To); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cutouts": ds.Workspace().List()})
}

func (rt *Router) renameCutout(w http.ResponseWriter, r *http.Request) {
	ds, ok := rt.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Index int    `json:"index"`
		Name  string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	renamed, err := ds.Workspace().Rename(req.Index, req.Name)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renamed)
}

func (rt *Router) clearCutouts(w http.ResponseWriter, r *http.Request) {
	ds, ok := rt.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := ds.Workspace().Clear(r.Context(), req.Confirm)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

// exportCutouts answers 200 with the report whenever at least one file was exported;
// per-file failures are listed in the report.
func (rt *Router) exportCutouts(w http.ResponseWriter, r *http.Request) {
	ds, ok := rt.session(w, r)
	if !ok {
		return
	}
	report, err := ds.Export(r.Context())
	if err != nil && len(report.Exported) == 0 {
		rt.writeError(w, r, err)
		return
	}
	if err != nil {
		rt.logger.Warn("export_partial", "document_id", ds.Document().ID, "export_id", report.ExportID, "failed", len(report.Failed))
	}
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) saveCutouts(w http.ResponseWriter, r *http.Request) {
	ds, ok := rt.session(w, r)
	if !ok {
		return
	}
	if err := ds.Workspace().Save(r.Context()); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": ds.Workspace().Len()})
}

func (rt *Router) loadCutouts(w http.ResponseWriter, r *http.Request) {
	ds, ok := rt.session(w, r)
	if !ok {
		return
	}
	dropped, err := ds.Workspace().Load(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if dropped == nil {
		dropped = []domain.Cutout{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cutouts": ds.Workspace().List(),
		"dropped": dropped,
	})
}
