package maskcodec

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/kirillkom/pagecut/internal/core/domain"
)

func TestParseCounts(t *testing.T) {
	tests := []struct {
		in   string
		want []int
	}{
		{in: "414", want: []int{4, 1, 4}},
		{in: "2342", want: []int{2, 3, 4, 5}},
		{in: ":53L", want: []int{10, 5, 3, 1}},
		{in: "X1", want: []int{40}},
		{in: "", want: []int{}},
	}
	for _, tt := range tests {
		got, err := ParseCounts(tt.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.in, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parse %q: expected %v, got %v", tt.in, tt.want, got)
		}
		if tt.in != "" {
			if back := FormatCounts(got); back != tt.in {
				t.Fatalf("format %v: expected %q, got %q", got, tt.in, back)
			}
		}
	}
}

func TestParseCountsRejectsGarbage(t *testing.T) {
	for _, in := range []string{"X", "4 1", "00L"} {
		_, err := ParseCounts(in)
		if !errors.Is(err, domain.ErrMalformedMask) {
			t.Fatalf("expected malformed mask for %q, got %v", in, err)
		}
	}
}

func TestDecodeRLEKnownFixture(t *testing.T) {
	// counts 4,1,4 over a 3x3 mask: only the centre pixel is foreground.
	got, err := DecodeRLE(Shape{Height: 3, Width: 3}, "CwRmQ")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []uint8{
		0, 0, 0,
		0, 1, 0,
		0, 0, 0,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestDecodeRLEIsColumnMajor(t *testing.T) {
	// 2 rows x 3 cols, counts [2,2,2]: column 0 background, column 1 foreground, column 2 background.
	encoded := CompressToEncodedURIComponent(FormatCounts([]int{2, 2, 2}))
	got, err := DecodeRLE(Shape{Height: 2, Width: 3}, encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []uint8{
		0, 1, 0,
		0, 1, 0,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRLERoundTrip(t *testing.T) {
	shape := Shape{Height: 7, Width: 11}
	masks := [][]uint8{
		make([]uint8, shape.Pixels()),
		func() []uint8 {
			m := make([]uint8, shape.Pixels())
			for i := range m {
				m[i] = 1
			}
			return m
		}(),
		func() []uint8 {
			m := make([]uint8, shape.Pixels())
			for y := 2; y < 5; y++ {
				for x := 3; x < 9; x++ {
					m[y*shape.Width+x] = 1
				}
			}
			m[0] = 1
			m[len(m)-1] = 1
			return m
		}(),
		func() []uint8 {
			m := make([]uint8, shape.Pixels())
			for i := range m {
				if (i*7)%5 < 2 {
					m[i] = 1
				}
			}
			return m
		}(),
	}

	for i, mask := range masks {
		encoded, err := EncodeRLE(shape, mask)
		if err != nil {
			t.Fatalf("mask %d encode: %v", i, err)
		}
		got, err := DecodeRLE(shape, encoded)
		if err != nil {
			t.Fatalf("mask %d decode: %v", i, err)
		}
		if !reflect.DeepEqual(got, mask) {
			t.Fatalf("mask %d: round trip mismatch\nwant %v\ngot  %v", i, mask, got)
		}
	}
}

func TestDecodeRLERunSumMustMatchShape(t *testing.T) {
	tests := []struct {
		name   string
		counts []int
	}{
		{name: "overrun", counts: []int{4, 1, 5}},
		{name: "underrun", counts: []int{4, 1, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := CompressToEncodedURIComponent(FormatCounts(tt.counts))
			_, err := DecodeRLE(Shape{Height: 3, Width: 3}, encoded)
			if !errors.Is(err, domain.ErrMalformedMask) {
				t.Fatalf("expected malformed mask, got %v", err)
			}
		})
	}
}

func TestDecodeRLERejectsUndecompressableInput(t *testing.T) {
	_, err := DecodeRLE(Shape{Height: 3, Width: 3}, "not*lz")
	if !errors.Is(err, domain.ErrMalformedMask) {
		t.Fatalf("expected malformed mask, got %v", err)
	}
	_, err = DecodeRLE(Shape{Height: 0, Width: 3}, "CwRmQ")
	if !errors.Is(err, domain.ErrMalformedMask) {
		t.Fatalf("expected malformed mask for empty shape, got %v", err)
	}
}

func TestDecodeRLERejectsHugeCounts(t *testing.T) {
	shape := Shape{Height: 3, Width: 3}
	counts := []int{1, math.MaxInt64, math.MaxInt64, shape.Pixels() + 1}
	encoded := CompressToEncodedURIComponent(FormatCounts(counts))

	_, err := DecodeRLE(shape, encoded)
	if !errors.Is(err, domain.ErrMalformedMask) {
		t.Fatalf("expected malformed mask, got %v", err)
	}
}

func TestDecodeRLERejectsOversizedShape(t *testing.T) {
	_, err := DecodeRLE(Shape{Height: math.MaxInt32, Width: math.MaxInt32}, "CwRmQ")
	if !errors.Is(err, domain.ErrMalformedMask) {
		t.Fatalf("expected malformed mask, got %v", err)
	}
}
