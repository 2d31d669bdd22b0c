package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vidyalay/institute-ops-api/internal/models"
	"github.com/vidyalay/institute-ops-api/internal/service"
	appErrors "github.com/vidyalay/institute-ops-api/pkg/errors"
	"github.com/vidyalay/institute-ops-api/pkg/response"
)

// ExportHandler exposes report export endpoints.
type ExportHandler struct {
	exports *service.ExportService
}

// NewExportHandler constructs ExportHandler.
func NewExportHandler(exports *service.ExportService) *ExportHandler {
	return &ExportHandler{exports: exports}
}

// AttendanceSheet streams a subject-month sheet as CSV or PDF.
func (h *ExportHandler) AttendanceSheet(c *gin.Context) {
	subjectID := c.Param("subjectId")
	kind := models.SubjectKind(strings.ToUpper(c.Query("kind")))
	year, month, err := parseYearMonth(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	format := models.ExportFormat(strings.ToLower(c.DefaultQuery("format", "csv")))
	payload, filename, err := h.exports.AttendanceSheet(c.Request.Context(), subjectID, kind, year, month, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	serveAttachment(c, filename, format, payload)
}

// BatchRoster streams the batch list for a track.
func (h *ExportHandler) BatchRoster(c *gin.Context) {
	track := strings.ToUpper(c.Query("track"))
	format := models.ExportFormat(strings.ToLower(c.DefaultQuery("format", "csv")))
	payload, filename, err := h.exports.BatchRoster(c.Request.Context(), track, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	serveAttachment(c, filename, format, payload)
}

// Enqueue schedules an asynchronous export.
func (h *ExportHandler) Enqueue(c *gin.Context) {
	var req struct {
		Kind   string              `json:"kind"`
		Format string              `json:"format"`
		Params models.ExportParams `json:"params"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	job, err := h.exports.Enqueue(models.ExportKind(req.Kind), models.ExportFormat(strings.ToLower(req.Format)), req.Params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, job, nil)
}

// Job returns async export status.
func (h *ExportHandler) Job(c *gin.Context) {
	job, err := h.exports.Job(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// Download serves a previously generated export file by signed token.
func (h *ExportHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token required"))
		return
	}
	file, err := h.exports.Download(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat export"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.Name()))
	c.DataFromReader(http.StatusOK, info.Size(), contentTypeFor(info.Name()), file, nil)
}

func serveAttachment(c *gin.Context, filename string, format models.ExportFormat, payload []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	contentType := "text/csv"
	if format == models.ExportFormatPDF {
		contentType = "application/pdf"
	}
	c.Data(http.StatusOK, contentType, payload)
}

func contentTypeFor(name string) string {
	if strings.HasSuffix(name, ".pdf") {
		return "application/pdf"
	}
	return "text/csv"
}
