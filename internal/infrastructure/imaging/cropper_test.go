package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/kirillkom/pagecut/internal/core/domain"
)

func pagePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 7, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return img
}

func TestCropMaskedTrimsToBoundingBox(t *testing.T) {
	// 6x4 page, L-shaped mask covering (2,1),(3,1),(2,2).
	mask := &domain.Mask{Width: 6, Height: 4, Data: make([]uint8, 24)}
	mask.Data[1*6+2] = 1
	mask.Data[1*6+3] = 1
	mask.Data[2*6+2] = 1

	out, err := NewCropper().CropMasked(bytes.NewReader(pagePNG(t, 6, 4)), mask)
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	img := decode(t, out)
	if img.Bounds().Dx() != 2 || img.Bounds().Dy() != 2 {
		t.Fatalf("expected 2x2 crop, got %v", img.Bounds())
	}

	r, g, _, a := img.At(0, 0).RGBA()
	if a == 0 || r>>8 != 20 || g>>8 != 10 {
		t.Fatalf("expected page pixel (2,1) at origin, got r=%d g=%d a=%d", r>>8, g>>8, a)
	}
	if _, _, _, a := img.At(1, 1).RGBA(); a != 0 {
		t.Fatalf("pixel outside mask must be transparent, alpha=%d", a)
	}
}

func TestCropMaskedScalesMaskToPage(t *testing.T) {
	// Mask at half resolution: the left half is selected.
	mask := &domain.Mask{Width: 4, Height: 2, Data: []uint8{1, 1, 0, 0, 1, 1, 0, 0}}

	out, err := NewCropper().CropMasked(bytes.NewReader(pagePNG(t, 8, 4)), mask)
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	img := decode(t, out)
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 4 {
		t.Fatalf("expected 4x4 crop, got %v", img.Bounds())
	}
}

func TestCropMaskedRejectsEmptyMask(t *testing.T) {
	mask := &domain.Mask{Width: 2, Height: 2, Data: make([]uint8, 4)}
	_, err := NewCropper().CropMasked(bytes.NewReader(pagePNG(t, 2, 2)), mask)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	bad := &domain.Mask{Width: 2, Height: 2, Data: []uint8{1}}
	if _, err := NewCropper().CropMasked(bytes.NewReader(pagePNG(t, 2, 2)), bad); !errors.Is(err, domain.ErrMalformedMask) {
		t.Fatalf("expected malformed mask, got %v", err)
	}
}

func TestThumbnailKeepsAspectRatio(t *testing.T) {
	c := NewCropper()
	out, err := c.Thumbnail(bytes.NewReader(pagePNG(t, 40, 20)), 10)
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if b := decode(t, out).Bounds(); b.Dx() != 10 || b.Dy() != 5 {
		t.Fatalf("expected 10x5, got %v", b)
	}

	out, err = c.Thumbnail(bytes.NewReader(pagePNG(t, 6, 3)), 10)
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if b := decode(t, out).Bounds(); b.Dx() != 6 || b.Dy() != 3 {
		t.Fatalf("small images must keep their size, got %v", b)
	}
}
