package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/service"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/response"
)

// EnrollmentHandler serves finalized enrollment rows.
type EnrollmentHandler struct {
	service *service.EnrollmentService
}

// NewEnrollmentHandler creates a new handler.
func NewEnrollmentHandler(svc *service.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{service: svc}
}

// List godoc
// @Summary List enrollments
// @Description Staff view, filtered freely
// @Tags Enrollments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	page, pageSize := pageParams(c)
	filter := models.EnrollmentFilter{
		StudentID:    c.Query("student_id"),
		AcademicYear: c.Query("academic_year"),
		Semester:     c.Query("semester"),
		SubjectCode:  c.Query("subject_code"),
		Page:         page,
		PageSize:     pageSize,
	}

	enrollments, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, enrollments, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total})
}

// ListMine godoc
// @Summary List own enrollments
// @Tags Enrollments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /enrollments/mine [get]
func (h *EnrollmentHandler) ListMine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	page, pageSize := pageParams(c)
	filter := models.EnrollmentFilter{
		AcademicYear: c.Query("academic_year"),
		Semester:     c.Query("semester"),
		Page:         page,
		PageSize:     pageSize,
	}

	enrollments, total, err := h.service.ListMine(c.Request.Context(), claims, filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, enrollments, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total})
}
