// Package xlsx writes export manifests as Excel workbooks.
package xlsx

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/pagecut/internal/core/domain"
)

const sheetName = "Cutouts"

var header = []any{"Position", "Name", "Page", "Source path", "Stored path", "URL"}

type ManifestWriter struct{}

func NewManifestWriter() *ManifestWriter {
	return &ManifestWriter{}
}

// WriteManifest lists one row per exported cutout, in export order.
func (w *ManifestWriter) WriteManifest(exportID string, entries []domain.ExportEntry) ([]byte, error) {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetDocProps(&excelize.DocProperties{Title: "Export " + exportID, Creator: "pagecut"}); err != nil {
		return nil, fmt.Errorf("set doc props: %w", err)
	}

	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	if err := f.SetRowStyle(sheetName, 1, 1, style); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	for i, e := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := []any{e.Position, e.Name, e.Page, e.SourcePath, e.StoredPath, e.Src}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := f.SetColWidth(sheetName, "B", "F", 32); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
