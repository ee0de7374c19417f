// Package maskcodec decodes the compact mask formats produced by the segmentation services.
//
// Point-prompt masks arrive as a COCO RLE counts string wrapped in lz-string's URI-safe
// compression. COCO counts alternate background/foreground runs in column-major order;
// every decoder here returns row-major data so callers can index [y*width+x].
package maskcodec

import (
	"fmt"
	"strings"

	"github.com/kirillkom/pagecut/internal/core/domain"
)

// Shape is a mask size in [height, width] order, as the services report it.
type Shape struct {
	Height int
	Width  int
}

func (s Shape) Pixels() int { return s.Height * s.Width }

// maxPixels bounds a decoded mask; page renders stay far below it.
const maxPixels = 1 << 28

func (s Shape) valid() bool {
	return s.Height > 0 && s.Width > 0 && s.Height <= maxPixels/s.Width
}

// DecodeRLE turns a transport-compressed COCO RLE string into a row-major binary mask (0/1).
func DecodeRLE(shape Shape, encoded string) ([]uint8, error) {
	if !shape.valid() {
		return nil, malformed("decode rle", fmt.Errorf("invalid shape %dx%d", shape.Height, shape.Width))
	}
	raw, err := DecompressFromEncodedURIComponent(encoded)
	if err != nil {
		return nil, malformed("decompress rle", err)
	}
	counts, err := ParseCounts(raw)
	if err != nil {
		return nil, err
	}
	return expandColumnMajor(shape, counts)
}

// ParseCounts parses the COCO RLE string grammar: 5-bit groups offset by '0', 0x20 marks a
// continuation, 0x10 on the last group sign-extends, and counts past index 2 are deltas
// against the count two positions back.
func ParseCounts(s string) ([]int, error) {
	counts := make([]int, 0, len(s)/2)
	p := 0
	for p < len(s) {
		var x int64
		k := 0
		more := true
		for more {
			if p >= len(s) {
				return nil, malformed("parse rle", fmt.Errorf("truncated count at offset %d", p))
			}
			c := int64(s[p]) - 48
			if c < 0 || c > 63 {
				return nil, malformed("parse rle", fmt.Errorf("invalid character %q at offset %d", s[p], p))
			}
			x |= (c & 0x1f) << (5 * k)
			more = c&0x20 != 0
			p++
			k++
			if !more && c&0x10 != 0 {
				x |= -1 << (5 * k)
			}
		}
		if m := len(counts); m > 2 {
			x += int64(counts[m-2])
		}
		if x < 0 {
			return nil, malformed("parse rle", fmt.Errorf("negative run %d at index %d", x, len(counts)))
		}
		counts = append(counts, int(x))
	}
	return counts, nil
}

// FormatCounts is the inverse of ParseCounts.
func FormatCounts(counts []int) string {
	var b strings.Builder
	for i, n := range counts {
		x := int64(n)
		if i > 2 {
			x -= int64(counts[i-2])
		}
		more := true
		for more {
			c := x & 0x1f
			x >>= 5
			if c&0x10 != 0 {
				more = x != -1
			} else {
				more = x != 0
			}
			if more {
				c |= 0x20
			}
			b.WriteByte(byte(c + 48))
		}
	}
	return b.String()
}

// EncodeRLE compresses a row-major binary mask into the wire form DecodeRLE reads.
func EncodeRLE(shape Shape, mask []uint8) (string, error) {
	if !shape.valid() || len(mask) != shape.Pixels() {
		return "", malformed("encode rle", fmt.Errorf("mask length %d does not match shape %dx%d", len(mask), shape.Height, shape.Width))
	}
	var counts []int
	var current uint8
	run := 0
	for x := 0; x < shape.Width; x++ {
		for y := 0; y < shape.Height; y++ {
			v := mask[y*shape.Width+x]
			if v != 0 {
				v = 1
			}
			if v != current {
				counts = append(counts, run)
				run = 0
				current = v
			}
			run++
		}
	}
	counts = append(counts, run)
	return CompressToEncodedURIComponent(FormatCounts(counts)), nil
}

func expandColumnMajor(shape Shape, counts []int) ([]uint8, error) {
	total := shape.Pixels()
	out := make([]uint8, total)
	pos := 0
	var value uint8
	for i, n := range counts {
		if n < 0 || n > total-pos {
			return nil, malformed("expand rle", fmt.Errorf("run %d overruns %d pixels", i, total))
		}
		if value == 1 {
			for j := pos; j < pos+n; j++ {
				row, col := j%shape.Height, j/shape.Height
				out[row*shape.Width+col] = 1
			}
		}
		pos += n
		value ^= 1
	}
	if pos != total {
		return nil, malformed("expand rle", fmt.Errorf("runs cover %d of %d pixels", pos, total))
	}
	return out, nil
}

func malformed(operation string, err error) error {
	return domain.WrapError(domain.ErrMalformedMask, operation, err)
}
