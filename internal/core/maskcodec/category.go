package maskcodec

import (
	"fmt"
	"image"
	"image/color"
)

// DecodeCategoryRuns expands the "segment everything" overlay: a flat [count, value, ...]
// list of row-major runs, value 0 being background and 1..255 object categories.
func DecodeCategoryRuns(shape Shape, pairs []int) ([]uint8, error) {
	if !shape.valid() {
		return nil, malformed("decode categories", fmt.Errorf("invalid shape %dx%d", shape.Height, shape.Width))
	}
	if len(pairs)%2 != 0 {
		return nil, malformed("decode categories", fmt.Errorf("odd run list length %d", len(pairs)))
	}
	total := shape.Pixels()
	out := make([]uint8, total)
	pos := 0
	for i := 0; i < len(pairs); i += 2 {
		n, v := pairs[i], pairs[i+1]
		if n < 0 || v < 0 || v > 255 {
			return nil, malformed("decode categories", fmt.Errorf("invalid run (%d, %d) at index %d", n, v, i/2))
		}
		if n > total-pos {
			return nil, malformed("decode categories", fmt.Errorf("run %d overruns %d pixels", i/2, total))
		}
		if v != 0 {
			for j := pos; j < pos+n; j++ {
				out[j] = uint8(v)
			}
		}
		pos += n
	}
	if pos != total {
		return nil, malformed("decode categories", fmt.Errorf("runs cover %d of %d pixels", pos, total))
	}
	return out, nil
}

// EncodeCategoryRuns is the producer-side inverse of DecodeCategoryRuns.
func EncodeCategoryRuns(categories []uint8) []int {
	if len(categories) == 0 {
		return nil
	}
	out := make([]int, 0, 16)
	last := categories[0]
	run := 0
	for _, v := range categories {
		if v == last {
			run++
			continue
		}
		out = append(out, run, int(last))
		last = v
		run = 1
	}
	return append(out, run, int(last))
}

var basePalette = []color.RGBA{
	{R: 230, G: 25, B: 75, A: 160},
	{R: 60, G: 180, B: 75, A: 160},
	{R: 255, G: 225, B: 25, A: 160},
	{R: 0, G: 130, B: 200, A: 160},
	{R: 245, G: 130, B: 48, A: 160},
	{R: 145, G: 30, B: 180, A: 160},
	{R: 70, G: 240, B: 240, A: 160},
	{R: 240, G: 50, B: 230, A: 160},
	{R: 210, G: 245, B: 60, A: 160},
	{R: 250, G: 190, B: 212, A: 160},
	{R: 0, G: 128, B: 128, A: 160},
	{R: 220, G: 190, B: 255, A: 160},
	{R: 170, G: 110, B: 40, A: 160},
	{R: 255, G: 250, B: 200, A: 160},
	{R: 128, G: 0, B: 0, A: 160},
	{R: 170, G: 255, B: 195, A: 160},
}

// Palette maps category values to overlay colors.
type Palette struct {
	Order  []uint8
	Colors map[uint8]color.RGBA
}

// AssignPalette scans categories row-major and gives each new non-zero value the next
// free palette color, wrapping when the palette runs out. The same input always yields
// the same assignment.
func AssignPalette(categories []uint8) Palette {
	p := Palette{Colors: make(map[uint8]color.RGBA)}
	for _, v := range categories {
		if v == 0 {
			continue
		}
		if _, seen := p.Colors[v]; seen {
			continue
		}
		p.Colors[v] = basePalette[len(p.Order)%len(basePalette)]
		p.Order = append(p.Order, v)
	}
	return p
}

// Colorize paints categories with the palette; background stays transparent.
func Colorize(shape Shape, categories []uint8, p Palette) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, shape.Width, shape.Height))
	for i, v := range categories {
		if v == 0 {
			continue
		}
		img.SetRGBA(i%shape.Width, i/shape.Width, p.Colors[v])
	}
	return img
}
