package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vidyalay/institute-ops-api/internal/models"
	"github.com/vidyalay/institute-ops-api/internal/service"
	appErrors "github.com/vidyalay/institute-ops-api/pkg/errors"
	"github.com/vidyalay/institute-ops-api/pkg/response"
)

// EnquiryHandler exposes pipeline endpoints.
type EnquiryHandler struct {
	enquiries *service.EnquiryService
	reconcile *service.ReconcileService
}

// NewEnquiryHandler constructs EnquiryHandler.
func NewEnquiryHandler(enquiries *service.EnquiryService, reconcile *service.ReconcileService) *EnquiryHandler {
	return &EnquiryHandler{enquiries: enquiries, reconcile: reconcile}
}

// Create opens a new enquiry.
func (h *EnquiryHandler) Create(c *gin.Context) {
	var req service.CreateEnquiryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enquiry, err := h.enquiries.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enquiry)
}

// Get returns one enquiry with history.
func (h *EnquiryHandler) Get(c *gin.Context) {
	enquiry, err := h.enquiries.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enquiry, nil)
}

// List returns enquiries matching the filter.
func (h *EnquiryHandler) List(c *gin.Context) {
	var filter models.EnquiryFilter
	if stage := c.Query("stage"); stage != "" {
		parsed := models.ParseStage(stage)
		filter.Stage = &parsed
	}
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	enquiries, pagination, err := h.enquiries.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enquiries, pagination)
}

// Transition applies a caller-driven stage change.
func (h *EnquiryHandler) Transition(c *gin.Context) {
	var req service.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.enquiries.Transition(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// SubmitResults reconciles a batch of externally-submitted exam results.
func (h *EnquiryHandler) SubmitResults(c *gin.Context) {
	var reqs []service.SubmitResultRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.reconcile.MergeResults(c.Request.Context(), reqs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
