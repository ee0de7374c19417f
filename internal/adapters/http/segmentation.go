package httpadapter

import (
	"bytes"
	"image/png"
	"net/http"

	"github.com/kirillkom/pagecut/internal/core/domain"
	"github.com/kirillkom/pagecut/internal/core/maskcodec"
	"github.com/kirillkom/pagecut/internal/core/usecase"
)

type clickRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	// Positive defaults to true.
	Positive *bool `json:"positive"`
	// Scale is the display scale the coordinates were taken at; clicks are stored in image space.
	Scale float64 `json:"scale"`
}

func (c clickRequest) click() domain.Click {
	x, y := c.X, c.Y
	if c.Scale > 0 {
		x, y = x/c.Scale, y/c.Scale
	}
	sign := domain.ClickPositive
	if c.Positive != nil && !*c.Positive {
		sign = domain.ClickNegative
	}
	return domain.Click{X: x, Y: y, Sign: sign}
}

type maskPayload struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Area   int    `json:"area"`
	BBox   [4]int `json:"bbox"`
	RLE    string `json:"rle"`
}

type maskResponse struct {
	Seq     uint64         `json:"seq"`
	Applied bool           `json:"applied"`
	Clicks  []domain.Click `json:"clicks"`
	Mask    *maskPayload   `json:"mask,omitempty"`
}

func newMaskPayload(mask *domain.Mask) (*maskPayload, error) {
	if mask.Empty() {
		return nil, nil
	}
	rle, err := maskcodec.EncodeRLE(maskcodec.Shape{Height: mask.Height, Width: mask.Width}, mask.Data)
	if err != nil {
		return nil, err
	}
	box := mask.BoundingBox()
	return &maskPayload{
		Width:  mask.Width,
		Height: mask.Height,
		Area:   mask.Area(),
		BBox:   [4]int{box.Min.X, box.Min.Y, box.Max.X, box.Max.Y},
		RLE:    rle,
	}, nil
}

func (rt *Router) pageSession(w http.ResponseWriter, r *http.Request) (*usecase.SegmentationSession, bool) {
	ds, page, ok := rt.sessionPage(w, r)
	if !ok {
		return nil, false
	}
	s, err := ds.Session(page)
	if err != nil {
		rt.writeError(w, r, err)
		return nil, false
	}
	return s, true
}

func (rt *Router) writeMaskUpdate(w http.ResponseWriter, r *http.Request, update usecase.MaskUpdate, err error) {
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	payload, err := newMaskPayload(update.Mask)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	clicks := update.Clicks
	if clicks == nil {
		clicks = []domain.Click{}
	}
	writeJSON(w, http.StatusOK, maskResponse{
		Seq:     update.Seq,
		Applied: update.Applied,
		Clicks:  clicks,
		Mask:    payload,
	})
}

func (rt *Router) addClick(w http.ResponseWriter, r *http.Request) {
	s, ok := rt.pageSession(w, r)
	if !ok {
		return
	}
	var req clickRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	update, err := s.AddClick(r.Context(), req.click())
	rt.writeMaskUpdate(w, r, update, err)
}

func (rt *Router) undoClick(w http.ResponseWriter, r *http.Request) {
	s, ok := rt.pageSession(w, r)
	if !ok {
		return
	}
	update, err := s.Undo(r.Context())
	rt.writeMaskUpdate(w, r, update, err)
}

func (rt *Router) redoClick(w http.ResponseWriter, r *http.Request) {
	s, ok := rt.pageSession(w, r)
	if !ok {
		return
	}
	update, err := s.Redo(r.Context())
	rt.writeMaskUpdate(w, r, update, err)
}

func (rt *Router) resetPage(w http.ResponseWriter, r *http.Request) {
	s, ok := rt.pageSession(w, r)
	if !ok {
		return
	}
	s.Reset()
	rt.writeSnapshot(w, r, s.Snapshot())
}

func (rt *Router) cutSelection(w http.ResponseWriter, r *http.Request) {
	s, ok := rt.pageSession(w, r)
	if !ok {
		return
	}
	cut, err := s.Cut(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cut)
}

func (rt *Router) getOverlay(w http.ResponseWriter, r *http.Request) {
	s, ok := rt.pageSession(w, r)
	if !ok {
		return
	}
	rt.writeSnapshot(w, r, s.Snapshot())
}

func (rt *Router) writeSnapshot(w http.ResponseWriter, r *http.Request, snap usecase.SessionSnapshot) {
	payload, err := newMaskPayload(snap.Overlay)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		usecase.SessionSnapshot
		Mask *maskPayload `json:"mask,omitempty"`
	}{snap, payload})
}

// getAutoOverlay returns the category overlay as run pairs, or as a colored PNG with ?format=png.
func (rt *Router) getAutoOverlay(w http.ResponseWriter, r *http.Request) {
	s, ok := rt.pageSession(w, r)
	if !ok {
		return
	}
	overlay, err := s.AutoOverlay(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	if wantsPNG(r) {
		shape := maskcodec.Shape{Height: overlay.Height, Width: overlay.Width}
		img := maskcodec.Colorize(shape, overlay.Categories, maskcodec.AssignPalette(overlay.Categories))
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			rt.writeError(w, r, err)
			return
		}
		writePNG(w, buf.Bytes())
		return
	}

	order := make([]int, len(overlay.Order))
	for i, v := range overlay.Order {
		order[i] = int(v)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"width":  overlay.Width,
		"height": overlay.Height,
		"order":  order,
		"colors": overlay.Colors,
		"runs":   maskcodec.EncodeCategoryRuns(overlay.Categories),
	})
}

type objectPayload struct {
	Point [2]float64  `json:"point"`
	Mask  maskPayload `json:"mask"`
}

// getObjects returns every automatically detected object of the page, largest first.
func (rt *Router) getObjects(w http.ResponseWriter, r *http.Request) {
	s, ok := rt.pageSession(w, r)
	if !ok {
		return
	}
	objects, err := s.Objects(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	out := make([]objectPayload, 0, len(objects))
	for _, obj := range objects {
		payload, err := newMaskPayload(obj.Mask)
		if err != nil {
			rt.writeError(w, r, err)
			return
		}
		if payload == nil {
			continue
		}
		out = append(out, objectPayload{Point: obj.Point, Mask: *payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": out})
}
