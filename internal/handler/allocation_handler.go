package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exchange-allocator/internal/export"
	"github.com/stemsi/exchange-allocator/internal/ingest"
	"github.com/stemsi/exchange-allocator/internal/middleware"
	"github.com/stemsi/exchange-allocator/internal/model"
	"github.com/stemsi/exchange-allocator/internal/response"
	"github.com/stemsi/exchange-allocator/internal/service"
	"github.com/stemsi/exchange-allocator/internal/validator"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	// multipartMemory is kept in RAM; larger parts spill to temp files.
	multipartMemory = 8 << 20
)

// Allocations is the allocation surface the handler needs.
// AllocationService satisfies it.
type Allocations interface {
	Submit(ctx context.Context, adminID int, in *model.RunInput) (*model.Run, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Run, error)
	List(ctx context.Context, filter model.RunFilter) ([]model.Run, int, error)
	Assignments(ctx context.Context, id uuid.UUID, universityID string) ([]model.Assignment, error)
	Exclusions(ctx context.Context, id uuid.UUID, reason model.ExclusionReason) ([]model.Exclusion, error)
	Outcome(ctx context.Context, id uuid.UUID) (*model.Outcome, error)
	Export(ctx context.Context, id uuid.UUID, format string, w io.Writer) error
	PreviewScores(strategy model.ScoringStrategy, students []model.Student) ([]model.ScorePreview, error)
	ParseWorkbooks(students, universities io.Reader) (*model.RunInput, []ingest.Issue, error)
}

// AllocationHandler handles allocation run endpoints.
type AllocationHandler struct {
	allocations    Allocations
	maxUploadBytes int64
}

// NewAllocationHandler creates a new AllocationHandler.
func NewAllocationHandler(allocations Allocations, maxUploadBytes int64) *AllocationHandler {
	return &AllocationHandler{allocations: allocations, maxUploadBytes: maxUploadBytes}
}

// SubmitRun godoc
// POST /api/v1/admin/runs
// Queues an allocation run from a JSON payload.
func (h *AllocationHandler) SubmitRun(c *gin.Context) {
	var req model.RunInput
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	h.submit(c, &req, nil)
}

// UploadRun godoc
// POST /api/v1/admin/runs/upload
// Queues an allocation run from two workbooks (multipart fields
// "students" and "universities"). Run options come from form fields.
func (h *AllocationHandler) UploadRun(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
			return
		}
		response.FailWithFields(c, http.StatusBadRequest, response.ErrFileRequired, map[string]string{"students": "file is required", "universities": "file is required"})
		return
	}

	var opts model.RunOptions
	if err := c.ShouldBind(&opts); err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, validator.TranslateErrors(err))
		return
	}

	students, ok := h.openWorkbook(c, "students")
	if !ok {
		return
	}
	defer students.Close()

	universities, ok := h.openWorkbook(c, "universities")
	if !ok {
		return
	}
	defer universities.Close()

	in, issues, err := h.allocations.ParseWorkbooks(students, universities)
	if err != nil {
		// Unreadable or malformed workbooks all surface as the same code.
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidWorkbook, map[string]string{"detail": err.Error()})
		return
	}
	in.Options = opts

	h.submit(c, in, issues)
}

func (h *AllocationHandler) submit(c *gin.Context, in *model.RunInput, issues []ingest.Issue) {
	adminID := 0
	if claims := middleware.GetClaims(c); claims != nil {
		adminID = claims.UserID
	}

	run, err := h.allocations.Submit(c.Request.Context(), adminID, in)
	if err != nil {
		failFromError(c, err)
		return
	}

	body := gin.H{"run": run}
	if issues != nil {
		body["issues"] = issues
	}
	response.Success(c, http.StatusAccepted, body)
}

// openWorkbook returns the uploaded file for field or writes the error
// response itself.
func (h *AllocationHandler) openWorkbook(c *gin.Context, field string) (multipart.File, bool) {
	file, header, err := c.Request.FormFile(field)
	if err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrFileRequired, map[string]string{field: "file is required"})
		return nil, false
	}
	if h.maxUploadBytes > 0 && header.Size > h.maxUploadBytes {
		file.Close()
		response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
		return nil, false
	}
	if !strings.EqualFold(filepath.Ext(header.Filename), ".xlsx") {
		file.Close()
		response.FailWithFields(c, http.StatusBadRequest, response.ErrUnsupportedFile, map[string]string{field: "must be an .xlsx workbook"})
		return nil, false
	}
	return file, true
}

// ListRuns godoc
// GET /api/v1/admin/runs?status=&state=&created_by=&page=&per_page=
func (h *AllocationHandler) ListRuns(c *gin.Context) {
	var filter model.RunFilter
	if fields := validator.BindQuery(c, &filter); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	runs, total, err := h.allocations.List(c.Request.Context(), filter)
	if err != nil {
		failFromError(c, err)
		return
	}

	page, perPage := filter.Page, filter.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"runs": runs}, &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: (total + perPage - 1) / perPage,
	})
}

// GetRun godoc
// GET /api/v1/admin/runs/:id
func (h *AllocationHandler) GetRun(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}

	run, err := h.allocations.Get(c.Request.Context(), id)
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"run": run})
}

// GetOutcome godoc
// GET /api/v1/admin/runs/:id/outcome
// Returns the full outcome including unplaceable students and extraction issues.
func (h *AllocationHandler) GetOutcome(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}

	out, err := h.allocations.Outcome(c.Request.Context(), id)
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"outcome": out})
}

// ListAssignments godoc
// GET /api/v1/admin/runs/:id/assignments?university=
func (h *AllocationHandler) ListAssignments(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}

	assignments, err := h.allocations.Assignments(c.Request.Context(), id, c.Query("university"))
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"assignments": assignments})
}

// ListExclusions godoc
// GET /api/v1/admin/runs/:id/exclusions?reason=
func (h *AllocationHandler) ListExclusions(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}

	exclusions, err := h.allocations.Exclusions(c.Request.Context(), id, model.ExclusionReason(c.Query("reason")))
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"exclusions": exclusions})
}

// ExportRun godoc
// GET /api/v1/admin/runs/:id/export?format=csv|xlsx
// Streams the run's assignments as a download.
func (h *AllocationHandler) ExportRun(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	format := strings.ToLower(c.DefaultQuery("format", service.FormatXLSX))

	// Buffer first so a failure can still be reported as JSON.
	var buf bytes.Buffer
	if err := h.allocations.Export(c.Request.Context(), id, format, &buf); err != nil {
		failFromError(c, err)
		return
	}

	filename, contentType := export.XLSXFileName, xlsxContentType
	if format == service.FormatCSV {
		filename, contentType = export.CSVFileName, "text/csv; charset=utf-8"
	}
	response.Attachment(c, filename, contentType, buf.Bytes())
}

// PreviewScores godoc
// POST /api/v1/admin/scores/preview
func (h *AllocationHandler) PreviewScores(c *gin.Context) {
	var req model.ScorePreviewRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	scores, err := h.allocations.PreviewScores(req.Scoring, req.Students)
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"scores": scores})
}

func runID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
