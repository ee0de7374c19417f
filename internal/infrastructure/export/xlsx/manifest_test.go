package xlsx

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/pagecut/internal/core/domain"
)

func TestWriteManifestListsEntries(t *testing.T) {
	entries := []domain.ExportEntry{
		{Position: 1, Name: "一、图1", Page: 3, SourcePath: "cutouts/d/a.png", StoredPath: "exports/x/001_一、图1.png", Src: "http://h/files/exports/x/001.png"},
		{Position: 2, Name: "2.png", Page: 4, SourcePath: "results/d/4/2.png", StoredPath: "exports/x/002_2.png"},
	}
	data, err := NewManifestWriter().WriteManifest("x", entries)
	if err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "Position" || rows[0][4] != "Stored path" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][1] != "一、图1" || rows[1][2] != "3" || rows[2][4] != "exports/x/002_2.png" {
		t.Fatalf("unexpected rows %v", rows[1:])
	}
}

func TestWriteManifestEmpty(t *testing.T) {
	data, err := NewManifestWriter().WriteManifest("empty", nil)
	if err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, _ := f.GetRows(sheetName)
	if len(rows) != 1 {
		t.Fatalf("expected header only, got %d rows", len(rows))
	}
}
