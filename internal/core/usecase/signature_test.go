package usecase

import (
	"testing"

	"github.com/kirillkom/pagecut/internal/core/domain"
)

func TestClickSignature(t *testing.T) {
	tests := []struct {
		name   string
		clicks []domain.Click
		want   string
	}{
		{name: "empty", clicks: nil, want: "d41d8cd98f00b204"},
		{name: "single", clicks: []domain.Click{{X: 100, Y: 200, Sign: domain.ClickPositive}}, want: "69e4b44493287b60"},
		{
			name: "sorted by cell",
			clicks: []domain.Click{
				{X: 101, Y: 205, Sign: domain.ClickPositive},
				{X: 3, Y: 7, Sign: domain.ClickNegative},
			},
			want: "6cff175e867fcd2d",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClickSignature(tt.clicks, 20); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestClickSignatureIgnoresOrderAndJitter(t *testing.T) {
	a := []domain.Click{{X: 41, Y: 42, Sign: 1}, {X: 300, Y: 10, Sign: 0}}
	b := []domain.Click{{X: 299.5, Y: 19, Sign: 0}, {X: 59, Y: 40, Sign: 1}}
	if ClickSignature(a, 20) != ClickSignature(b, 20) {
		t.Fatalf("expected clicks in the same cells to share a signature")
	}
	c := []domain.Click{{X: 41, Y: 42, Sign: 0}, {X: 300, Y: 10, Sign: 0}}
	if ClickSignature(a, 20) == ClickSignature(c, 20) {
		t.Fatalf("sign must be part of the signature")
	}
}
