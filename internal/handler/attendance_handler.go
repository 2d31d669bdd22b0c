package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vidyalay/institute-ops-api/internal/models"
	"github.com/vidyalay/institute-ops-api/internal/service"
	appErrors "github.com/vidyalay/institute-ops-api/pkg/errors"
	"github.com/vidyalay/institute-ops-api/pkg/response"
)

// AttendanceHandler exposes attendance endpoints.
type AttendanceHandler struct {
	attendance *service.AttendanceService
}

// NewAttendanceHandler constructs AttendanceHandler.
func NewAttendanceHandler(attendance *service.AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance}
}

// List returns raw attendance rows with pagination.
func (h *AttendanceHandler) List(c *gin.Context) {
	var filter models.AttendanceFilter
	filter.SubjectID = c.Query("subjectId")
	filter.SubjectKind = models.SubjectKind(strings.ToUpper(c.Query("kind")))
	if status := c.Query("status"); status != "" {
		st := models.RawAttendanceStatus(strings.ToUpper(status))
		filter.RawStatus = &st
	}
	if from, err := time.Parse("2006-01-02", c.Query("from")); err == nil {
		filter.DateFrom = &from
	}
	if to, err := time.Parse("2006-01-02", c.Query("to")); err == nil {
		filter.DateTo = &to
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	rows, pagination, err := h.attendance.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}

// Mark upserts one subject-day record.
func (h *AttendanceHandler) Mark(c *gin.Context) {
	var req service.MarkAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.attendance.Mark(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// BulkMark records one day for many subjects.
func (h *AttendanceHandler) BulkMark(c *gin.Context) {
	var req service.BulkMarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.attendance.BulkMark(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// DailySheet returns classified days for every subject of a kind on one date.
func (h *AttendanceHandler) DailySheet(c *gin.Context) {
	kind := models.SubjectKind(strings.ToUpper(c.Query("kind")))
	var date time.Time
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD"))
			return
		}
		date = parsed
	}
	days, _, err := h.attendance.DailySheet(c.Request.Context(), kind, date)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, days, nil)
}

// MonthlyReport returns the classified month view plus stats for one subject.
func (h *AttendanceHandler) MonthlyReport(c *gin.Context) {
	subjectID := c.Param("subjectId")
	kind := models.SubjectKind(strings.ToUpper(c.Query("kind")))
	year, month, err := parseYearMonth(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	report, err := h.attendance.MonthlyReport(c.Request.Context(), subjectID, kind, year, month)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Stats returns a subject's all-time aggregate.
func (h *AttendanceHandler) Stats(c *gin.Context) {
	subjectID := c.Param("subjectId")
	kind := models.SubjectKind(strings.ToUpper(c.Query("kind")))
	stats, err := h.attendance.AllTimeStats(c.Request.Context(), subjectID, kind)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

func parseYearMonth(c *gin.Context) (int, time.Month, error) {
	year, err := strconv.Atoi(c.Query("year"))
	if err != nil || year < 2000 || year > 2100 {
		return 0, 0, appErrors.Clone(appErrors.ErrValidation, "invalid year")
	}
	month, err := strconv.Atoi(c.Query("month"))
	if err != nil || month < 1 || month > 12 {
		return 0, 0, appErrors.Clone(appErrors.ErrValidation, "invalid month")
	}
	return year, time.Month(month), nil
}
