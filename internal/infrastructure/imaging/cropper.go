// Package imaging composites segmentation masks onto page rasters.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/draw"

	"github.com/kirillkom/pagecut/internal/core/domain"
)

type Cropper struct {
	encoder png.Encoder
}

func NewCropper() *Cropper {
	return &Cropper{encoder: png.Encoder{CompressionLevel: png.BestSpeed}}
}

// CropMasked keeps the masked pixels of page, makes the rest transparent and trims the
// result to the mask's bounding box. A mask rendered at another resolution is rescaled
// to the page first.
func (c *Cropper) CropMasked(page io.Reader, mask *domain.Mask) ([]byte, error) {
	if mask.Empty() || mask.Area() == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "crop masked", errors.New("empty mask"))
	}
	if len(mask.Data) != mask.Width*mask.Height {
		return nil, domain.WrapError(domain.ErrMalformedMask, "crop masked", fmt.Errorf("mask data %d != %dx%d", len(mask.Data), mask.Width, mask.Height))
	}
	src, _, err := image.Decode(page)
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}
	bounds := src.Bounds()

	alpha := maskToAlpha(mask)
	if alpha.Bounds().Dx() != bounds.Dx() || alpha.Bounds().Dy() != bounds.Dy() {
		scaled := image.NewAlpha(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), alpha, alpha.Bounds(), draw.Src, nil)
		alpha = scaled
	}

	box := alphaBounds(alpha)
	if box.Empty() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "crop masked", errors.New("mask vanished after scaling"))
	}

	dst := image.NewNRGBA(image.Rect(0, 0, box.Dx(), box.Dy()))
	draw.DrawMask(dst, dst.Bounds(), src, bounds.Min.Add(box.Min), alpha, box.Min, draw.Src)

	var buf bytes.Buffer
	if err := c.encoder.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode cutout: %w", err)
	}
	return buf.Bytes(), nil
}

// Thumbnail downsizes an image so its longer side is at most maxSide; smaller images are
// re-encoded unchanged.
func (c *Cropper) Thumbnail(r io.Reader, maxSide int) ([]byte, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide > 0 && (w > maxSide || h > maxSide) {
		if w >= h {
			h = max(1, h*maxSide/w)
			w = maxSide
		} else {
			w = max(1, w*maxSide/h)
			h = maxSide
		}
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := c.encoder.Encode(&buf, src); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func maskToAlpha(mask *domain.Mask) *image.Alpha {
	alpha := image.NewAlpha(image.Rect(0, 0, mask.Width, mask.Height))
	for i, v := range mask.Data {
		if v != 0 {
			alpha.Pix[i] = 0xff
		}
	}
	return alpha
}

func alphaBounds(a *image.Alpha) image.Rectangle {
	b := a.Bounds()
	minX, minY, maxX, maxY := b.Max.X, b.Max.Y, b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if a.AlphaAt(x, y).A == 0 {
				continue
			}
			minX, minY = min(minX, x), min(minY, y)
			maxX, maxY = max(maxX, x), max(maxY, y)
		}
	}
	if maxX < minX {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}
