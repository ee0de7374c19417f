package domain

import (
	"fmt"
	"time"
)

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

type Document struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	MimeType    string         `json:"mime_type"`
	StoragePath string         `json:"storage_path"`
	TotalPages  int            `json:"total_pages"`
	Status      DocumentStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// PageKey identifies one page of one document. Pages are 1-based.
type PageKey struct {
	DocumentID string `json:"document_id"`
	Page       int    `json:"page"`
}

func (k PageKey) String() string {
	return fmt.Sprintf("%s#%d", k.DocumentID, k.Page)
}

// PageImage is the rendered raster of a single page. Immutable once created.
type PageImage struct {
	DocumentID string `json:"document_id"`
	Page       int    `json:"page"`
	Path       string `json:"path"`
	Src        string `json:"src"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

func (p PageImage) Key() PageKey {
	return PageKey{DocumentID: p.DocumentID, Page: p.Page}
}

// StoredObject is what the storage collaborator returns for an uploaded blob.
type StoredObject struct {
	Path string `json:"path"`
	Src  string `json:"src"`
}

// PageLogEntry records one "segment everything" attempt for a page.
type PageLogEntry struct {
	DocumentID string        `json:"document_id"`
	Page       int           `json:"page"`
	Model      string        `json:"model"`
	Status     string        `json:"status"`
	Images     int           `json:"images"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}
