package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"registrar/internal/service"
)

// ExtractionHandler handles report extraction endpoints.
type ExtractionHandler struct {
	extractionService service.ExtractionService
}

// NewExtractionHandler creates a new ExtractionHandler.
func NewExtractionHandler(extractionService service.ExtractionService) *ExtractionHandler {
	return &ExtractionHandler{extractionService: extractionService}
}

// ExtractRequest is the request body for POST /api/v1/extractions.
type ExtractRequest struct {
	Name   string `json:"name"`
	Report string `json:"report" binding:"required"`
}

// Create handles POST /api/v1/extractions
// @Summary Extract a pathology report
// @Description Classify the report, structure it and run the organ extractors
// @Tags extractions
// @Accept json
// @Produce json
// @Param body body ExtractRequest true "Report text"
// @Success 201 {object} APIResponse{data=domain.ExtractionRecord}
// @Failure 400 {object} APIResponse "Missing or empty report"
// @Failure 502 {object} APIResponse "Classification failed"
// @Router /extractions [post]
func (h *ExtractionHandler) Create(c *gin.Context) {
	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "report is required")
		return
	}

	rec, err := h.extractionService.Extract(c.Request.Context(), service.ExtractInput{
		Name:   req.Name,
		Report: req.Report,
	})
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondCreated(c, rec)
}

// GetByID handles GET /api/v1/extractions/:id
// @Summary Get an extraction record
// @Tags extractions
// @Produce json
// @Param id path string true "Extraction ID"
// @Success 200 {object} APIResponse{data=domain.ExtractionRecord}
// @Failure 404 {object} APIResponse
// @Router /extractions/{id} [get]
func (h *ExtractionHandler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_ID", "invalid extraction ID")
		return
	}

	rec, err := h.extractionService.GetByID(c.Request.Context(), id)
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, rec)
}

// List handles GET /api/v1/extractions
// @Summary List extraction records, newest first
// @Tags extractions
// @Produce json
// @Param offset query int false "Offset"
// @Param limit query int false "Limit (max 100)"
// @Success 200 {object} APIResponse{data=[]domain.ExtractionRecord}
// @Router /extractions [get]
func (h *ExtractionHandler) List(c *gin.Context) {
	offset, limit := parsePagination(c)

	recs, total, err := h.extractionService.List(c.Request.Context(), offset, limit)
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondPaginated(c, recs, PagMeta{Total: total, Offset: offset, Limit: limit})
}
