package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/service"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/response"
)

// GradeHandler wires HTTP endpoints to the grade service.
type GradeHandler struct {
	service    *service.GradeService
	transcript *service.TranscriptService
}

// NewGradeHandler creates a new handler.
func NewGradeHandler(svc *service.GradeService, transcript *service.TranscriptService) *GradeHandler {
	return &GradeHandler{service: svc, transcript: transcript}
}

// List godoc
// @Summary List grades
// @Description Staff view, filtered freely
// @Tags Grades
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /grades [get]
func (h *GradeHandler) List(c *gin.Context) {
	page, pageSize := pageParams(c)
	filter := models.GradeFilter{
		StudentID:    c.Query("student_id"),
		AcademicYear: c.Query("academic_year"),
		Semester:     c.Query("semester"),
		Page:         page,
		PageSize:     pageSize,
	}

	grades, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, grades, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total})
}

// ListMine godoc
// @Summary List own grades
// @Tags Grades
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /grades/mine [get]
func (h *GradeHandler) ListMine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	page, pageSize := pageParams(c)
	filter := models.GradeFilter{
		AcademicYear: c.Query("academic_year"),
		Semester:     c.Query("semester"),
		Page:         page,
		PageSize:     pageSize,
	}

	grades, total, err := h.service.ListMine(c.Request.Context(), claims, filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, grades, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total})
}

// Record godoc
// @Summary Record a final grade
// @Tags Grades
// @Accept json
// @Produce json
// @Param payload body service.GradeRequest true "Grade payload"
// @Success 201 {object} response.Envelope
// @Router /grades [post]
func (h *GradeHandler) Record(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.GradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid grade payload"))
		return
	}

	grade, err := h.service.Record(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, grade)
}

// Transcript godoc
// @Summary Render transcript of records as PDF
// @Tags Grades
// @Produce application/pdf
// @Param id path string true "Student ID"
// @Success 200 {string} string "PDF payload"
// @Router /students/{id}/transcript.pdf [get]
func (h *GradeHandler) Transcript(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	payload, err := h.transcript.TranscriptPDF(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", `inline; filename="transcript.pdf"`)
	c.Data(http.StatusOK, "application/pdf", payload)
}
