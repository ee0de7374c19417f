package usecase

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/kirillkom/pagecut/internal/core/domain"
)

// DefaultClickGridSize is the quantisation step used for mask cache keys.
const DefaultClickGridSize = 20

// ClickSignature snaps clicks to the centre of their grid cell, sorts them and hashes the
// result, so near-identical prompt sets share a cache entry regardless of click order.
func ClickSignature(clicks []domain.Click, gridSize int) string {
	if gridSize <= 0 {
		gridSize = DefaultClickGridSize
	}
	type cell struct{ x, y, sign int }
	cells := make([]cell, 0, len(clicks))
	for _, c := range clicks {
		cells = append(cells, cell{
			x:    snapToGrid(c.X, gridSize),
			y:    snapToGrid(c.Y, gridSize),
			sign: int(c.Sign),
		})
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].x != cells[j].x {
			return cells[i].x < cells[j].x
		}
		if cells[i].y != cells[j].y {
			return cells[i].y < cells[j].y
		}
		return cells[i].sign < cells[j].sign
	})

	parts := make([]string, 0, len(cells))
	for _, c := range cells {
		parts = append(parts, fmt.Sprintf("%d,%d,%d", c.x, c.y, c.sign))
	}
	sum := md5.Sum([]byte(strings.Join(parts, "_")))
	return hex.EncodeToString(sum[:])[:16]
}

func snapToGrid(v float64, gridSize int) int {
	return int(math.Floor(v/float64(gridSize)))*gridSize + gridSize/2
}

func maskCacheKey(imagePath string, clicks []domain.Click, gridSize int) string {
	return imagePath + ":" + ClickSignature(clicks, gridSize)
}
