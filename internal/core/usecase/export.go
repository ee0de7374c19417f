package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kirillkom/pagecut/internal/core/domain"
	"github.com/kirillkom/pagecut/internal/core/ports"
)

// ExportUseCase copies cutouts into an export folder one file at a time and writes a
// manifest workbook for the files that made it.
type ExportUseCase struct {
	blobs    ports.BlobStore
	manifest ports.ManifestWriter
	logger   *slog.Logger
}

func NewExportUseCase(blobs ports.BlobStore, manifest ports.ManifestWriter, logger *slog.Logger) *ExportUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportUseCase{blobs: blobs, manifest: manifest, logger: logger}
}

// Export attempts every cutout even when some fail. The returned error joins every
// per-file failure; the report is complete either way.
func (uc *ExportUseCase) Export(ctx context.Context, cutouts []domain.Cutout) (domain.ExportReport, error) {
	report := domain.ExportReport{
		ExportID: uuid.NewString(),
		Exported: []domain.ExportEntry{},
		Failed:   []domain.ExportFailure{},
	}
	if len(cutouts) == 0 {
		return report, domain.WrapError(domain.ErrInvalidInput, "export cutouts", errors.New("workspace is empty"))
	}

	var errs []error
	for i, c := range cutouts {
		entry, err := uc.exportOne(ctx, report.ExportID, i+1, c)
		if err != nil {
			uc.logger.Warn("export_file_failed", "export_id", report.ExportID, "position", i+1, "name", c.Name, "error", err)
			report.Failed = append(report.Failed, domain.ExportFailure{Position: i + 1, Name: c.Name, Error: err.Error()})
			errs = append(errs, fmt.Errorf("export %q: %w", c.Name, err))
			continue
		}
		report.Exported = append(report.Exported, entry)
	}

	if len(report.Exported) > 0 && uc.manifest != nil {
		obj, err := uc.writeManifest(ctx, report.ExportID, report.Exported)
		if err != nil {
			uc.logger.Warn("export_manifest_failed", "export_id", report.ExportID, "error", err)
			errs = append(errs, err)
		} else {
			report.Manifest = &obj
		}
	}

	uc.logger.Info("export_finished",
		"export_id", report.ExportID,
		"exported", len(report.Exported),
		"failed", len(report.Failed),
	)
	return report, errors.Join(errs...)
}

func (uc *ExportUseCase) exportOne(ctx context.Context, exportID string, position int, c domain.Cutout) (domain.ExportEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.ExportEntry{}, err
	}
	src, err := uc.blobs.Open(ctx, c.Path)
	if err != nil {
		return domain.ExportEntry{}, domain.WrapError(domain.ErrStaleReference, "open cutout", err)
	}
	data, err := io.ReadAll(src)
	_ = src.Close()
	if err != nil {
		return domain.ExportEntry{}, fmt.Errorf("read cutout: %w", err)
	}

	key := fmt.Sprintf("exports/%s/%03d_%s.png", exportID, position, sanitizeFilename(c.Name))
	obj, err := uc.blobs.Upload(ctx, key, data)
	if err != nil {
		return domain.ExportEntry{}, fmt.Errorf("upload export file: %w", err)
	}
	return domain.ExportEntry{
		Position:   position,
		Name:       c.Name,
		Page:       c.Page,
		SourcePath: c.Path,
		StoredPath: obj.Path,
		Src:        obj.Src,
	}, nil
}

func (uc *ExportUseCase) writeManifest(ctx context.Context, exportID string, entries []domain.ExportEntry) (domain.StoredObject, error) {
	raw, err := uc.manifest.WriteManifest(exportID, entries)
	if err != nil {
		return domain.StoredObject{}, fmt.Errorf("render manifest: %w", err)
	}
	obj, err := uc.blobs.Upload(ctx, fmt.Sprintf("exports/%s/manifest.xlsx", exportID), raw)
	if err != nil {
		return domain.StoredObject{}, fmt.Errorf("upload manifest: %w", err)
	}
	return obj, nil
}
