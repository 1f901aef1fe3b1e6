package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/service"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/response"
)

// ApplicationHandler wires the enrollment workflow endpoints.
type ApplicationHandler struct {
	service *service.ApplicationService
	metrics *service.MetricsService
}

// NewApplicationHandler creates a new handler.
func NewApplicationHandler(svc *service.ApplicationService, metrics *service.MetricsService) *ApplicationHandler {
	return &ApplicationHandler{service: svc, metrics: metrics}
}

// Submit godoc
// @Summary Submit enrollment application
// @Description File an enrollment application for the active term
// @Tags Applications
// @Accept json
// @Produce json
// @Param payload body service.SubmitApplicationRequest true "Application payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollment-applications [post]
func (h *ApplicationHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.SubmitApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid application payload"))
		return
	}

	app, err := h.service.Submit(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.metrics.ObserveTransition(string(app.Status))
	response.Created(c, app)
}

// List godoc
// @Summary List enrollment applications
// @Description Staff queue ordered by submission time
// @Tags Applications
// @Produce json
// @Param status query string false "Filter by workflow status"
// @Success 200 {object} response.Envelope
// @Router /enrollment-applications [get]
func (h *ApplicationHandler) List(c *gin.Context) {
	page, pageSize := pageParams(c)
	filter := models.ApplicationFilter{
		Status:       models.ApplicationStatus(c.Query("status")),
		AcademicYear: c.Query("academic_year"),
		Semester:     c.Query("semester"),
		Page:         page,
		PageSize:     pageSize,
	}

	applications, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, applications, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total})
}

// ListByStatus godoc
// @Summary List applications in one workflow status
// @Description Review queue ordered by submission time
// @Tags Applications
// @Produce json
// @Param status path string true "Workflow status"
// @Success 200 {object} response.Envelope
// @Router /enrollment-applications/status/{status} [get]
func (h *ApplicationHandler) ListByStatus(c *gin.Context) {
	page, pageSize := pageParams(c)
	filter := models.ApplicationFilter{
		Status:   models.ApplicationStatus(c.Param("status")),
		Page:     page,
		PageSize: pageSize,
	}

	applications, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, applications, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total})
}

// ListMine godoc
// @Summary List own applications
// @Tags Applications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /enrollment-applications/mine [get]
func (h *ApplicationHandler) ListMine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	page, pageSize := pageParams(c)
	applications, total, err := h.service.ListMine(c.Request.Context(), claims, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, applications, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total})
}

// Get godoc
// @Summary Get one application
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollment-applications/{id} [get]
func (h *ApplicationHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	app, err := h.service.Get(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// ApprovePayment godoc
// @Summary Approve application payment
// @Description Accounting gate, forwards the application to registrar review
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /enrollment-applications/{id}/approve-payment [patch]
func (h *ApplicationHandler) ApprovePayment(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var payload struct {
		Notes *string `json:"notes,omitempty"`
	}
	_ = c.ShouldBindJSON(&payload)

	app, err := h.service.ApprovePayment(c.Request.Context(), claims, c.Param("id"), payload.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.metrics.ObserveTransition(string(app.Status))
	response.JSON(c, http.StatusOK, app, nil)
}

// Review godoc
// @Summary Registrar review decision
// @Description Admin gate, approval finalizes enrollment
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body service.ReviewApplicationRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /enrollment-applications/{id}/review [patch]
func (h *ApplicationHandler) Review(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.ReviewApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return
	}

	app, err := h.service.Review(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.metrics.ObserveTransition(string(app.Status))
	response.JSON(c, http.StatusOK, app, nil)
}

// Reject godoc
// @Summary Reject an application
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body service.RejectApplicationRequest true "Rejection payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /enrollment-applications/{id}/reject [patch]
func (h *ApplicationHandler) Reject(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.RejectApplicationRequest
	_ = c.ShouldBindJSON(&req)

	app, err := h.service.Reject(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.metrics.ObserveTransition(string(app.Status))
	response.JSON(c, http.StatusOK, app, nil)
}

// Export godoc
// @Summary Export application queue as CSV
// @Tags Applications
// @Produce text/csv
// @Param status query string false "Filter by workflow status"
// @Success 200 {string} string "CSV payload"
// @Router /enrollment-applications/export [get]
func (h *ApplicationHandler) Export(c *gin.Context) {
	filter := models.ApplicationFilter{
		Status:       models.ApplicationStatus(c.Query("status")),
		AcademicYear: c.Query("academic_year"),
		Semester:     c.Query("semester"),
	}

	payload, err := h.service.ExportCSV(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	filename := fmt.Sprintf("applications-%s.csv", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv", payload)
}
