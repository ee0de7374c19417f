package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")

	ErrRenderFailed    = errors.New("render failed")
	ErrInferenceFailed = errors.New("inference failed")
	ErrMalformedMask   = errors.New("malformed mask")
	ErrStaleReference  = errors.New("stale reference")

	// ErrLockContention means another job already owns the page. Callers skip, they do not fail.
	ErrLockContention = errors.New("page locked")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// RenderError is a rasterization failure with the document and page it concerns.
// Page is zero when the failure is about the document as a whole.
type RenderError struct {
	DocumentID string
	Page       int
	Err        error
}

func NewRenderError(documentID string, page int, err error) *RenderError {
	return &RenderError{DocumentID: documentID, Page: page, Err: err}
}

func (e *RenderError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("render document %s page %d: %v", e.DocumentID, e.Page, e.Err)
	}
	return fmt.Sprintf("render document %s: %v", e.DocumentID, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

func (e *RenderError) Is(target error) bool { return target == ErrRenderFailed }
