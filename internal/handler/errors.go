package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exchange-allocator/internal/allocation"
	"github.com/stemsi/exchange-allocator/internal/export"
	"github.com/stemsi/exchange-allocator/internal/ingest"
	"github.com/stemsi/exchange-allocator/internal/repository"
	"github.com/stemsi/exchange-allocator/internal/response"
	"github.com/stemsi/exchange-allocator/internal/service"
)

// failFromError maps domain errors onto the API error envelope.
func failFromError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrRunNotFound), errors.Is(err, repository.ErrAdminNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, repository.ErrDuplicateEmail):
		response.FailWithFields(c, http.StatusConflict, response.ErrConflict, map[string]string{"email": "already registered"})
	case errors.Is(err, repository.ErrUnknownRole):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"role_id": "unknown role"})
	case errors.Is(err, service.ErrInvalidRunOptions):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidRunOptions, map[string]string{"options": err.Error()})
	case errors.Is(err, service.ErrUnknownFormat):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"format": "must be csv or xlsx"})
	case errors.Is(err, allocation.ErrDuplicateStudent), errors.Is(err, allocation.ErrDuplicateUniversity):
		response.FailWithFields(c, http.StatusConflict, response.ErrDuplicateRecord, map[string]string{"detail": err.Error()})
	case errors.Is(err, service.ErrRunNotFinished):
		response.Fail(c, http.StatusConflict, response.ErrRunNotFinished)
	case errors.Is(err, service.ErrRunFailed):
		response.Fail(c, http.StatusConflict, response.ErrRunFailed)
	case errors.Is(err, export.ErrNotExportable):
		response.Fail(c, http.StatusConflict, response.ErrRunNotExportable)
	case errors.Is(err, ingest.ErrImportNoData), errors.Is(err, ingest.ErrImportBadHeader), errors.Is(err, ingest.ErrImportTooManyRows):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidWorkbook, map[string]string{"detail": err.Error()})
	case errors.Is(err, service.ErrQueueUnavailable):
		response.Fail(c, http.StatusServiceUnavailable, response.ErrQueueUnavailable)
	default:
		_ = c.Error(err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
