package domain

import (
	"image"
	"time"
)

// ClickSign is the SAM label of a prompt point: 1 keeps the region, 0 excludes it.
type ClickSign int

const (
	ClickNegative ClickSign = 0
	ClickPositive ClickSign = 1
)

// Click is a prompt point in image space (already descaled from display scale).
type Click struct {
	X    float64   `json:"x"`
	Y    float64   `json:"y"`
	Sign ClickSign `json:"sign"`
}

// Mask is a dense row-major [Height, Width] array; 0 is background.
type Mask struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Data   []uint8 `json:"-"`
}

func (m *Mask) Empty() bool {
	return m == nil || len(m.Data) == 0
}

func (m *Mask) At(x, y int) uint8 {
	return m.Data[y*m.Width+x]
}

func (m *Mask) Area() int {
	if m == nil {
		return 0
	}
	n := 0
	for _, v := range m.Data {
		if v != 0 {
			n++
		}
	}
	return n
}

// BoundingBox returns the smallest rectangle holding every non-zero pixel.
func (m *Mask) BoundingBox() image.Rectangle {
	if m == nil {
		return image.Rectangle{}
	}
	minX, minY, maxX, maxY := m.Width, m.Height, -1, -1
	for y := 0; y < m.Height; y++ {
		row := m.Data[y*m.Width : (y+1)*m.Width]
		for x, v := range row {
			if v == 0 {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			maxY = y
		}
	}
	if maxX < 0 {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// SubImage is one extracted region returned by "segment everything".
// Data is only set between the segmenter and the blob store upload.
type SubImage struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Src  string `json:"src"`
	Data []byte `json:"-"`
}

// PageResult is the outcome of "segment everything" for one page. Written once per page.
type PageResult struct {
	DocumentID string     `json:"document_id"`
	Page       int        `json:"page"`
	Images     []SubImage `json:"images"`
	CreatedAt  time.Time  `json:"created_at"`
}

// CategoryOverlay is a decoded multi-object mask plus its stable color assignment.
type CategoryOverlay struct {
	Width      int                `json:"width"`
	Height     int                `json:"height"`
	Categories []uint8            `json:"-"`
	Order      []uint8            `json:"order"`
	Colors     map[uint8][4]uint8 `json:"colors"`
}

// Cutout is a user-owned extracted image in the workspace.
type Cutout struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Src       string    `json:"src"`
	Page      int       `json:"page"`
	Ephemeral bool      `json:"ephemeral"`
	CreatedAt time.Time `json:"created_at"`
}

// EncodedMask is a point-prompt mask as the segmenter sends it: lz-string wrapped COCO RLE.
type EncodedMask struct {
	Height int    `json:"height"`
	Width  int    `json:"width"`
	RLE    string `json:"rle"`
}

// ObjectMask is one automatically detected object: its encoded mask plus the prompt point
// the segmenter sampled it from.
type ObjectMask struct {
	Mask  EncodedMask `json:"mask"`
	Point [2]float64  `json:"point"`
}

// CategoryRuns is the raw "segment everything" overlay: row-major [count, value, ...] pairs.
type CategoryRuns struct {
	Height int   `json:"height"`
	Width  int   `json:"width"`
	Pairs  []int `json:"pairs"`
}

// ExportEntry describes one cutout written by an export.
type ExportEntry struct {
	Position   int    `json:"position"`
	Name       string `json:"name"`
	Page       int    `json:"page"`
	SourcePath string `json:"source_path"`
	StoredPath string `json:"stored_path"`
	Src        string `json:"src"`
}

// ExportFailure is a cutout that could not be exported.
type ExportFailure struct {
	Position int    `json:"position"`
	Name     string `json:"name"`
	Error    string `json:"error"`
}

type ExportReport struct {
	ExportID string          `json:"export_id"`
	Manifest *StoredObject   `json:"manifest,omitempty"`
	Exported []ExportEntry   `json:"exported"`
	Failed   []ExportFailure `json:"failed"`
}
