package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/service"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/response"
)

// RequestHandler wires document request endpoints.
type RequestHandler struct {
	service *service.RequestService
	metrics *service.MetricsService
}

// NewRequestHandler creates a new handler.
func NewRequestHandler(svc *service.RequestService, metrics *service.MetricsService) *RequestHandler {
	return &RequestHandler{service: svc, metrics: metrics}
}

// Create godoc
// @Summary File a document request
// @Description Multipart form with request_type, purpose and up to five supporting files under "documents"
// @Tags Requests
// @Accept multipart/form-data
// @Produce json
// @Param request_type formData string true "Request type"
// @Param purpose formData string true "Purpose"
// @Param documents formData file false "Supporting documents"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateRequestRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid request payload"))
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid multipart form"))
		return
	}
	files := form.File["documents"]

	request, err := h.service.Create(c.Request.Context(), claims, req, files)
	if err != nil {
		response.Error(c, err)
		return
	}

	for _, ref := range request.Documents {
		h.metrics.ObserveUpload(ref.SizeBytes)
	}
	response.Created(c, request)
}

// List godoc
// @Summary List document requests
// @Description Students see only their own requests
// @Tags Requests
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	page, pageSize := pageParams(c)
	filter := models.RequestFilter{
		Status:   models.RequestStatus(c.Query("status")),
		Type:     models.RequestType(c.Query("request_type")),
		Page:     page,
		PageSize: pageSize,
	}

	requests, total, err := h.service.List(c.Request.Context(), claims, filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, requests, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total})
}

// Get godoc
// @Summary Get one document request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	request, err := h.service.Get(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// GetDocument godoc
// @Summary Download a supporting document
// @Tags Requests
// @Produce application/octet-stream
// @Param id path string true "Request ID"
// @Param docIndex path int true "Document index"
// @Success 200 {string} string "File payload"
// @Failure 404 {object} response.Envelope
// @Router /requests/{id}/document/{docIndex} [get]
func (h *RequestHandler) GetDocument(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	docIndex, err := strconv.Atoi(c.Param("docIndex"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "document index must be a number"))
		return
	}

	ref, file, err := h.service.GetDocument(c.Request.Context(), claims, c.Param("id"), docIndex)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	modtime := time.Time{}
	if info, err := file.Stat(); err == nil {
		modtime = info.ModTime()
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ref.OriginalName))
	c.Header("Content-Type", ref.ContentType)
	http.ServeContent(c.Writer, c.Request, ref.OriginalName, modtime, file)
}

// UpdateStatus godoc
// @Summary Update request status
// @Description Staff move a request through its lifecycle
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body service.UpdateRequestStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests/{id} [patch]
func (h *RequestHandler) UpdateStatus(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.UpdateRequestStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}

	request, err := h.service.UpdateStatus(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}
