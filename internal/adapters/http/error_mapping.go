package httpadapter

import (
	"net/http"

	"github.com/kirillkom/pagecut/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrLockContention):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrStaleReference):
		return http.StatusGone
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrRenderFailed):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrMalformedMask), domain.IsKind(err, domain.ErrInferenceFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
